// Package webhook authenticates and deduplicates identity-verification
// notifications and feeds them to the verification state machine.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/notification"
	"github.com/novafi/novafi/internal/repository"
	"github.com/novafi/novafi/internal/verification"
)

// Outcomes reported by Ingest.
const (
	ResultProcessed = "processed"
	ResultIgnored   = "ignored"
	ResultDuplicate = "duplicate"
)

// Enqueuer hands approved users to the provisioning workers.
type Enqueuer interface {
	Enqueue(userID string) bool
}

// Result describes what happened to one delivery.
type Result struct {
	EventID               string        `json:"event_id"`
	UserID                string        `json:"user_id,omitempty"`
	Outcome               string        `json:"outcome"`
	From                  domain.Status `json:"from,omitempty"`
	To                    domain.Status `json:"to,omitempty"`
	ProvisioningRequested bool          `json:"provisioning_requested"`
	Reason                string        `json:"reason,omitempty"`
}

// Gateway is the ingestion boundary for provider deliveries.
type Gateway struct {
	store    repository.Store
	verifier *Verifier
	enqueuer Enqueuer
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewGateway wires a gateway. enqueuer and notifier may be nil.
func NewGateway(store repository.Store, verifier *Verifier, enqueuer Enqueuer, notifier notification.Notifier, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:    store,
		verifier: verifier,
		enqueuer: enqueuer,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest verifies, deduplicates and applies one delivery. Deliveries with a bad
// signature are never recorded.
func (g *Gateway) Ingest(ctx context.Context, raw []byte, sig Signature) (Result, error) {
	if err := g.verifier.Verify(raw, sig); err != nil {
		g.logger.Warn("webhook signature rejected", "algorithm", sig.Algorithm)
		return Result{}, err
	}

	p, err := decodePayload(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	now := g.now()
	ev := domain.VerificationEvent{
		EventID:      p.eventID(raw),
		UserID:       p.userKey(),
		ApplicantID:  p.ApplicantID,
		Type:         p.Type,
		ReviewAnswer: p.reviewAnswer(),
		LevelName:    p.LevelName,
		Payload:      raw,
		ReceivedAt:   now,
	}
	log := g.logger.With("event_id", ev.EventID, "event_type", ev.Type, "user_id", ev.UserID)

	if ev.UserID == "" {
		ev.Outcome = domain.OutcomeIgnored
		ev.Error = "missing external user id"
		return g.record(ctx, ev, log)
	}

	machineEvent := p.machineEvent()
	if _, ok := verification.Target(machineEvent); !ok {
		ev.Outcome = domain.OutcomeIgnored
		ev.Error = "unrecognized event"
		return g.record(ctx, ev, log)
	}

	var tr verification.Transition
	res, err := g.store.ProcessEvent(ctx, ev, func(user domain.User) (domain.StatusUpdate, domain.EventOutcome, error) {
		tr = verification.Apply(user.Status, machineEvent)
		return verification.Update(tr, machineEvent, now), tr.Outcome(), nil
	})
	if err != nil {
		ev.Outcome = domain.OutcomeFailed
		ev.Error = err.Error()
		if _, recErr := g.store.RecordEvent(ctx, ev); recErr != nil {
			log.Error("record failed webhook event", "error", recErr)
		}
		log.Warn("webhook processing failed", "error", err)
		return Result{EventID: ev.EventID, UserID: ev.UserID}, err
	}

	if res.Duplicate {
		log.Info("duplicate event ignored", "stored_outcome", res.Outcome)
		return Result{EventID: ev.EventID, UserID: ev.UserID, Outcome: ResultDuplicate}, nil
	}

	result := Result{
		EventID:               ev.EventID,
		UserID:                ev.UserID,
		Outcome:               string(res.Outcome),
		From:                  res.From,
		To:                    res.User.Status,
		ProvisioningRequested: res.Update.RequestProvisioning,
		Reason:                tr.Reason,
	}
	log.Info("webhook event applied", "outcome", result.Outcome, "from", result.From, "to", result.To, "reason", tr.Reason)

	if res.Update.RequestProvisioning && g.enqueuer != nil {
		if !g.enqueuer.Enqueue(ev.UserID) {
			log.Info("provisioning left to sweeper")
		}
	}
	if res.Update.Changed {
		g.notifyStatus(ctx, ev, res, log)
	}
	return result, nil
}

func (g *Gateway) record(ctx context.Context, ev domain.VerificationEvent, log *slog.Logger) (Result, error) {
	duplicate, err := g.store.RecordEvent(ctx, ev)
	if err != nil {
		return Result{}, err
	}
	if duplicate {
		log.Info("duplicate event ignored")
		return Result{EventID: ev.EventID, UserID: ev.UserID, Outcome: ResultDuplicate}, nil
	}
	log.Info("webhook event ignored", "reason", ev.Error)
	return Result{EventID: ev.EventID, UserID: ev.UserID, Outcome: ResultIgnored, Reason: ev.Error}, nil
}

func (g *Gateway) notifyStatus(ctx context.Context, ev domain.VerificationEvent, res repository.EventResult, log *slog.Logger) {
	if g.notifier == nil {
		return
	}
	err := g.notifier.Send(ctx, notification.Message{
		Kind:   notification.KindKYCStatusChanged,
		UserID: ev.UserID,
		Data: map[string]any{
			"from":          string(res.From),
			"to":            string(res.User.Status),
			"event_type":    ev.Type,
			"review_answer": ev.ReviewAnswer,
		},
		OccurredAt: ev.ReceivedAt,
	})
	if err != nil {
		log.Error("send status notification", "error", err)
	}
}
