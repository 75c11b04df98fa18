package domain

import "time"

// Status is a user's position in the KYC and provisioning lifecycle.
type Status string

const (
	StatusUnverified             Status = "unverified"
	StatusPending                Status = "pending"
	StatusApproved               Status = "approved"
	StatusRejected               Status = "rejected"
	StatusOnHold                 Status = "on_hold"
	StatusProvisioningInProgress Status = "provisioning_in_progress"
	StatusProvisioned            Status = "provisioned"
	StatusProvisioningFailed     Status = "provisioning_failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusUnverified,
	StatusPending,
	StatusApproved,
	StatusRejected,
	StatusOnHold,
	StatusProvisioningInProgress,
	StatusProvisioned,
	StatusProvisioningFailed,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// KYCApproved reports whether the status implies an approved verification.
// Provisioning states sit after approval and never hide it.
func (s Status) KYCApproved() bool {
	switch s {
	case StatusApproved, StatusProvisioningInProgress, StatusProvisioned, StatusProvisioningFailed:
		return true
	default:
		return false
	}
}

// User is the identity root for an onboarded customer.
type User struct {
	ID                 string
	UserID             string
	Email              string
	FirstName          string
	LastName           string
	PasswordHash       []byte
	Status             Status
	ApplicantID        string
	VerificationLevel  string
	VerifiedAt         *time.Time
	ReviewAnswer       string
	ExternalCustomerID string
	CustomerCreatedAt  *time.Time
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EventOutcome is the processing result stored with a verification event.
type EventOutcome string

const (
	OutcomeProcessed EventOutcome = "processed"
	OutcomeIgnored   EventOutcome = "ignored"
	OutcomeFailed    EventOutcome = "failed"
)

// Settled reports whether a stored outcome blocks reprocessing of the same event id.
func (o EventOutcome) Settled() bool {
	return o == OutcomeProcessed || o == OutcomeIgnored
}

// VerificationEvent is the dedup record of one inbound provider notification.
type VerificationEvent struct {
	EventID      string
	UserID       string
	ApplicantID  string
	Type         string
	ReviewAnswer string
	LevelName    string
	Outcome      EventOutcome
	Error        string
	Payload      []byte
	ReceivedAt   time.Time
}

// StatusUpdate is the decision applied to a user while an event is processed.
type StatusUpdate struct {
	To                  Status
	Changed             bool
	RequestProvisioning bool
	ApplicantID         string
	ReviewAnswer        string
	VerificationLevel   string
	VerifiedAt          *time.Time
}

// WalletStatus is the state of one custody wallet entry.
type WalletStatus string

const (
	WalletActive WalletStatus = "active"
	WalletFailed WalletStatus = "failed"
)

// WalletEntry is a per-currency custody wallet owned by a user.
type WalletEntry struct {
	Currency         string
	Network          string
	Address          string
	ExternalWalletID string
	Status           WalletStatus
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProvisioningRecord tracks external resource creation for one user.
type ProvisioningRecord struct {
	UserID            string
	AttemptCount      int
	LastError         string
	PendingSince      *time.Time
	LeaseUntil        *time.Time
	VerificationLevel string
	VerifiedAt        *time.Time
	Wallets           map[string]WalletEntry
	UpdatedAt         time.Time
	// ClaimedFrom is the status the user held when the current lease was taken.
	// It is only set on records returned by ClaimProvisioning.
	ClaimedFrom Status
}

// ActiveWallet returns the wallet for currency when it was created successfully.
func (r ProvisioningRecord) ActiveWallet(currency string) (WalletEntry, bool) {
	w, ok := r.Wallets[currency]
	if !ok || w.Status != WalletActive {
		return WalletEntry{}, false
	}
	return w, true
}

// AuditEntry records a verification-related action against a user.
type AuditEntry struct {
	ID        string
	UserID    string
	Actor     string
	Action    string
	OldStatus Status
	NewStatus Status
	Comment   string
	CreatedAt time.Time
}

const (
	AuditStatusChange      = "status_change"
	AuditProvisioningRetry = "provisioning_retry"
)

// UserFilter narrows admin list queries.
type UserFilter struct {
	Status Status
	Search string
	Page   int
	Size   int
}
