package verification

import (
	"testing"
	"time"

	"github.com/novafi/novafi/internal/domain"
)

func TestApplyTable(t *testing.T) {
	cases := []struct {
		name      string
		from      domain.Status
		ev        Event
		to        domain.Status
		applied   bool
		provision bool
	}{
		{"pending from unverified", domain.StatusUnverified, Event{Type: EventApplicantPending}, domain.StatusPending, true, false},
		{"awaiting user stays pending", domain.StatusPending, Event{Type: EventApplicantAwaitingUser}, domain.StatusPending, true, false},
		{"on hold", domain.StatusPending, Event{Type: EventApplicantOnHold}, domain.StatusOnHold, true, false},
		{"reviewed green approves", domain.StatusPending, Event{Type: EventApplicantReviewed, ReviewAnswer: "GREEN"}, domain.StatusApproved, true, true},
		{"reviewed red rejects", domain.StatusPending, Event{Type: EventApplicantReviewed, ReviewAnswer: "RED"}, domain.StatusRejected, true, false},
		{"reviewed without answer ignored", domain.StatusPending, Event{Type: EventApplicantReviewed}, domain.StatusPending, false, false},
		{"workflow completed approves", domain.StatusOnHold, Event{Type: EventApplicantWorkflowComplete}, domain.StatusApproved, true, true},
		{"workflow failed rejects", domain.StatusPending, Event{Type: EventApplicantWorkflowFailed}, domain.StatusRejected, true, false},
		{"rejected re-enters pending", domain.StatusRejected, Event{Type: EventApplicantPending}, domain.StatusPending, true, false},
		{"green review after rejection approves", domain.StatusRejected, Event{Type: EventApplicantReviewed, ReviewAnswer: "GREEN"}, domain.StatusApproved, true, true},
		{"workflow completed after rejection approves", domain.StatusRejected, Event{Type: EventApplicantWorkflowComplete}, domain.StatusApproved, true, true},
		{"on hold re-enters pending", domain.StatusOnHold, Event{Type: EventApplicantPending}, domain.StatusPending, true, false},
		{"unknown type ignored", domain.StatusPending, Event{Type: "applicantPersonalInfoChanged"}, domain.StatusPending, false, false},
		{"approved replay re-requests", domain.StatusApproved, Event{Type: EventApplicantReviewed, ReviewAnswer: "GREEN"}, domain.StatusApproved, true, true},
		{"failed provisioning replay re-requests", domain.StatusProvisioningFailed, Event{Type: EventApplicantWorkflowComplete}, domain.StatusProvisioningFailed, true, true},
		{"provisioned replay is a no-op", domain.StatusProvisioned, Event{Type: EventApplicantReviewed, ReviewAnswer: "GREEN"}, domain.StatusProvisioned, true, false},
		{"in progress replay is a no-op", domain.StatusProvisioningInProgress, Event{Type: EventApplicantReviewed, ReviewAnswer: "GREEN"}, domain.StatusProvisioningInProgress, true, false},
		{"stale pending never downgrades approval", domain.StatusApproved, Event{Type: EventApplicantPending}, domain.StatusApproved, false, false},
		{"stale rejection never hides provisioning failure", domain.StatusProvisioningFailed, Event{Type: EventApplicantReviewed, ReviewAnswer: "RED"}, domain.StatusProvisioningFailed, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := Apply(tc.from, tc.ev)
			if tr.To != tc.to {
				t.Fatalf("expected %s, got %s (%s)", tc.to, tr.To, tr.Reason)
			}
			if tr.Applied != tc.applied {
				t.Fatalf("expected applied=%v, got %v (%s)", tc.applied, tr.Applied, tr.Reason)
			}
			if tr.RequestProvisioning != tc.provision {
				t.Fatalf("expected provision=%v, got %v", tc.provision, tr.RequestProvisioning)
			}
		})
	}
}

func TestOutcome(t *testing.T) {
	if got := Apply(domain.StatusPending, Event{Type: "somethingElse"}).Outcome(); got != domain.OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", got)
	}
	if got := Apply(domain.StatusPending, Event{Type: EventApplicantOnHold}).Outcome(); got != domain.OutcomeProcessed {
		t.Fatalf("expected processed, got %s", got)
	}
}

func TestUpdateStampsApproval(t *testing.T) {
	now := time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC)
	ev := Event{Type: EventApplicantReviewed, ReviewAnswer: "green", LevelName: "basic-kyc", ApplicantID: "app-1"}
	up := Update(Apply(domain.StatusPending, ev), ev, now)

	if !up.Changed || up.To != domain.StatusApproved || !up.RequestProvisioning {
		t.Fatalf("unexpected update %+v", up)
	}
	if up.VerifiedAt == nil || !up.VerifiedAt.Equal(now) {
		t.Fatalf("expected verified at %v, got %v", now, up.VerifiedAt)
	}
	if up.VerificationLevel != "basic-kyc" || up.ReviewAnswer != "GREEN" {
		t.Fatalf("unexpected metadata %+v", up)
	}
}

func TestCanTransitionProvisioningEdges(t *testing.T) {
	if !CanTransition(domain.StatusProvisioningFailed, domain.StatusProvisioningInProgress) {
		t.Fatal("expected failed -> in progress")
	}
	if CanTransition(domain.StatusPending, domain.StatusProvisioningInProgress) {
		t.Fatal("pending must not enter provisioning")
	}
	if CanTransition(domain.StatusProvisioned, domain.StatusPending) {
		t.Fatal("provisioned must not return to pending")
	}
}
