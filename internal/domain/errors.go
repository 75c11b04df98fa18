package domain

import "errors"

var (
	// ErrInvalidSignature is returned when an inbound webhook fails authentication.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMalformedPayload indicates an inbound body that could not be decoded at all.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrCapacityExhausted occurs when a period has issued its last identifier.
	ErrCapacityExhausted = errors.New("identifier capacity exhausted for period")

	// ErrNotEligible is returned when a user cannot be (re)provisioned in its current status.
	ErrNotEligible = errors.New("user not eligible for provisioning")

	// ErrProvisioningInProgress means another task holds the user's provisioning lease.
	ErrProvisioningInProgress = errors.New("provisioning already in progress")

	// ErrLeaseLost means the provisioning lease expired and was taken by a later attempt.
	ErrLeaseLost = errors.New("provisioning lease no longer held")

	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)
