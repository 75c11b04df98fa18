package verification

import (
	"strings"
	"time"

	"github.com/novafi/novafi/internal/domain"
)

// Provider event types that drive the machine.
const (
	EventApplicantCreated          = "applicantCreated"
	EventApplicantActivated        = "applicantActivated"
	EventApplicantReset            = "applicantReset"
	EventApplicantPending          = "applicantPending"
	EventApplicantAwaitingUser     = "applicantAwaitingUser"
	EventApplicantAwaitingService  = "applicantAwaitingService"
	EventApplicantOnHold           = "applicantOnHold"
	EventApplicantReviewed         = "applicantReviewed"
	EventApplicantWorkflowComplete = "applicantWorkflowCompleted"
	EventApplicantWorkflowFailed   = "applicantWorkflowFailed"
)

// Review answers carried by review events.
const (
	AnswerGreen = "GREEN"
	AnswerRed   = "RED"
)

// Event is the parsed subset of a provider notification the machine needs.
type Event struct {
	Type         string
	ReviewAnswer string
	ApplicantID  string
	LevelName    string
	OccurredAt   time.Time
}

// Transition is the outcome of applying one event to a status.
type Transition struct {
	From                domain.Status
	To                  domain.Status
	Recognized          bool
	Applied             bool
	RequestProvisioning bool
	Reason              string
}

// Changed reports whether the status moves.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Outcome maps the transition to the stored event outcome.
func (t Transition) Outcome() domain.EventOutcome {
	if t.Applied || t.RequestProvisioning {
		return domain.OutcomeProcessed
	}
	return domain.OutcomeIgnored
}

// kycEdges lists the status moves provider events may cause. A same-status move
// is always allowed and is a no-op. A GREEN review may overtake the pending
// event that precedes it, so rejected users can be approved directly.
var kycEdges = map[domain.Status][]domain.Status{
	domain.StatusUnverified: {domain.StatusPending, domain.StatusOnHold, domain.StatusRejected, domain.StatusApproved},
	domain.StatusPending:    {domain.StatusOnHold, domain.StatusRejected, domain.StatusApproved},
	domain.StatusOnHold:     {domain.StatusPending, domain.StatusRejected, domain.StatusApproved},
	domain.StatusRejected:   {domain.StatusPending, domain.StatusApproved},
}

// provisioningEdges are taken only by the orchestrator and reconciliation.
var provisioningEdges = map[domain.Status][]domain.Status{
	domain.StatusApproved:               {domain.StatusProvisioningInProgress},
	domain.StatusProvisioningFailed:     {domain.StatusProvisioningInProgress},
	domain.StatusProvisioned:            {domain.StatusProvisioningInProgress},
	domain.StatusProvisioningInProgress: {domain.StatusProvisioned, domain.StatusProvisioningFailed},
}

func allowed(edges map[domain.Status][]domain.Status, from, to domain.Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether from -> to is a legal edge of the lifecycle.
func CanTransition(from, to domain.Status) bool {
	return allowed(kycEdges, from, to) || allowed(provisioningEdges, from, to)
}

// Target returns the status an event asks for. ok is false for unknown types and
// for review events without a usable answer.
func Target(ev Event) (domain.Status, bool) {
	answer := strings.ToUpper(strings.TrimSpace(ev.ReviewAnswer))
	switch ev.Type {
	case EventApplicantCreated, EventApplicantActivated, EventApplicantReset,
		EventApplicantPending, EventApplicantAwaitingUser, EventApplicantAwaitingService:
		return domain.StatusPending, true
	case EventApplicantOnHold:
		return domain.StatusOnHold, true
	case EventApplicantReviewed:
		switch answer {
		case AnswerGreen:
			return domain.StatusApproved, true
		case AnswerRed:
			return domain.StatusRejected, true
		}
		return "", false
	case EventApplicantWorkflowComplete:
		if answer == AnswerRed {
			return domain.StatusRejected, true
		}
		return domain.StatusApproved, true
	case EventApplicantWorkflowFailed:
		return domain.StatusRejected, true
	}
	return "", false
}

// Apply computes the transition for ev against current. It is pure: callers
// persist the result.
func Apply(current domain.Status, ev Event) Transition {
	tr := Transition{From: current, To: current}

	target, ok := Target(ev)
	if !ok {
		tr.Reason = "unrecognized event"
		return tr
	}
	tr.Recognized = true

	if current.KYCApproved() {
		if target != domain.StatusApproved {
			tr.Reason = "approval already recorded"
			return tr
		}
		tr.Applied = true
		switch current {
		case domain.StatusApproved, domain.StatusProvisioningFailed:
			tr.RequestProvisioning = true
			tr.Reason = "re-request provisioning"
		default:
			tr.Reason = "already approved"
		}
		return tr
	}

	if target == current {
		tr.Applied = true
		tr.Reason = "no change"
		return tr
	}
	if !allowed(kycEdges, current, target) {
		tr.Reason = "transition " + string(current) + " -> " + string(target) + " not allowed"
		return tr
	}

	tr.To = target
	tr.Applied = true
	tr.RequestProvisioning = target == domain.StatusApproved
	return tr
}

// Update converts a transition into the persisted status update for a user.
func Update(tr Transition, ev Event, now time.Time) domain.StatusUpdate {
	up := domain.StatusUpdate{
		To:                  tr.To,
		Changed:             tr.Changed(),
		RequestProvisioning: tr.RequestProvisioning,
		ApplicantID:         ev.ApplicantID,
	}
	if tr.Applied {
		up.ReviewAnswer = strings.ToUpper(ev.ReviewAnswer)
	}
	if tr.Changed() && tr.To == domain.StatusApproved {
		at := ev.OccurredAt
		if at.IsZero() {
			at = now
		}
		at = at.UTC()
		up.VerifiedAt = &at
		up.VerificationLevel = ev.LevelName
	}
	return up
}
