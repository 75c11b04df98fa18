package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/novafi/novafi/internal/verification"
)

const externalUserPrefix = "user_"

type reviewResult struct {
	ReviewAnswer     string   `json:"reviewAnswer"`
	RejectLabels     []string `json:"rejectLabels,omitempty"`
	ReviewRejectType string   `json:"reviewRejectType,omitempty"`
}

type payload struct {
	EventID        string        `json:"eventId"`
	CorrelationID  string        `json:"correlationId"`
	Type           string        `json:"type"`
	ApplicantID    string        `json:"applicantId"`
	ExternalUserID string        `json:"externalUserId"`
	LevelName      string        `json:"levelName"`
	ReviewStatus   string        `json:"reviewStatus"`
	ReviewResult   *reviewResult `json:"reviewResult"`
	CreatedAtMs    string        `json:"createdAtMs"`
	CreatedAt      string        `json:"createdAt"`
}

// eventID is the provider id, else the correlation id, else a digest of the body
// so byte-identical redeliveries still collapse.
func (p payload) eventID(raw []byte) string {
	if id := strings.TrimSpace(p.EventID); id != "" {
		return id
	}
	if id := strings.TrimSpace(p.CorrelationID); id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// userKey strips the prefix the platform adds when registering applicants.
func (p payload) userKey() string {
	return strings.TrimPrefix(strings.TrimSpace(p.ExternalUserID), externalUserPrefix)
}

func (p payload) reviewAnswer() string {
	if p.ReviewResult == nil {
		return ""
	}
	return p.ReviewResult.ReviewAnswer
}

func (p payload) occurredAt() time.Time {
	for _, value := range []string{p.CreatedAtMs, p.CreatedAt} {
		if value == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.000", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, value); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

func (p payload) machineEvent() verification.Event {
	return verification.Event{
		Type:         p.Type,
		ReviewAnswer: p.reviewAnswer(),
		ApplicantID:  p.ApplicantID,
		LevelName:    p.LevelName,
		OccurredAt:   p.occurredAt(),
	}
}

func decodePayload(raw []byte) (payload, error) {
	var p payload
	err := json.Unmarshal(raw, &p)
	return p, err
}
