package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/novafi/novafi/internal/domain"
)

// ProcessEvent claims the event row, locks the user row and applies fn in one
// transaction. The row is linked to the user only when it settles, so an
// unknown user surfaces as domain.ErrUserNotFound. A concurrent delivery of the same event id blocks on the event
// row and observes the settled outcome once the first commits.
func (s *PostgresStore) ProcessEvent(ctx context.Context, ev domain.VerificationEvent, fn TransitionFunc) (EventResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return EventResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO verification_events
        (event_id, user_id, applicant_id, event_type, review_answer, level_name, outcome, payload, received_at)
        VALUES ($1, NULL, $2, $3, $4, $5, 'processing', $6, $7)
        ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.ApplicantID, ev.Type, ev.ReviewAnswer, ev.LevelName, ev.Payload, ev.ReceivedAt.UTC()); err != nil {
		return EventResult{}, fmt.Errorf("claim event %s: %w", ev.EventID, err)
	}

	var prior domain.EventOutcome
	if err := tx.QueryRow(ctx, `SELECT outcome FROM verification_events WHERE event_id = $1 FOR UPDATE`, ev.EventID).Scan(&prior); err != nil {
		return EventResult{}, fmt.Errorf("lock event %s: %w", ev.EventID, err)
	}
	if prior.Settled() {
		return EventResult{Duplicate: true, Outcome: prior}, nil
	}

	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1 FOR UPDATE`, ev.UserID))
	if err != nil {
		return EventResult{}, err
	}

	update, outcome, err := fn(user)
	if err != nil {
		return EventResult{}, err
	}
	from := user.Status
	now := ev.ReceivedAt.UTC()

	if _, err := tx.Exec(ctx, `UPDATE users SET
            status = $2,
            applicant_id = COALESCE(NULLIF($3, ''), applicant_id),
            review_answer = COALESCE(NULLIF($4, ''), review_answer),
            verification_level = COALESCE(NULLIF($5, ''), verification_level),
            verified_at = COALESCE($6, verified_at),
            updated_at = $7
        WHERE user_id = $1`,
		user.UserID, update.To, update.ApplicantID, update.ReviewAnswer, update.VerificationLevel, update.VerifiedAt, now); err != nil {
		return EventResult{}, fmt.Errorf("update user %s: %w", user.UserID, err)
	}

	if update.RequestProvisioning {
		if _, err := tx.Exec(ctx, `INSERT INTO provisioning_records (user_id, pending_since, verification_level, verified_at, updated_at)
            VALUES ($1, $2, NULLIF($3, ''), $4, $2)
            ON CONFLICT (user_id) DO UPDATE SET
                pending_since = COALESCE(provisioning_records.pending_since, EXCLUDED.pending_since),
                verification_level = COALESCE(EXCLUDED.verification_level, provisioning_records.verification_level),
                verified_at = COALESCE(EXCLUDED.verified_at, provisioning_records.verified_at),
                updated_at = EXCLUDED.updated_at`,
			user.UserID, now, update.VerificationLevel, update.VerifiedAt); err != nil {
			return EventResult{}, fmt.Errorf("mark provisioning pending for %s: %w", user.UserID, err)
		}
	}

	if update.Changed {
		if err := insertAudit(ctx, tx, domain.AuditEntry{
			UserID:    user.UserID,
			Actor:     "webhook",
			Action:    domain.AuditStatusChange,
			OldStatus: from,
			NewStatus: update.To,
			Comment:   ev.Type,
			CreatedAt: now,
		}); err != nil {
			return EventResult{}, fmt.Errorf("audit status change for %s: %w", user.UserID, err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE verification_events SET user_id = $2, outcome = $3, error = NULL WHERE event_id = $1`,
		ev.EventID, user.UserID, outcome); err != nil {
		return EventResult{}, fmt.Errorf("settle event %s: %w", ev.EventID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return EventResult{}, err
	}

	return EventResult{Outcome: outcome, From: from, Update: update, User: applyUpdate(user, update, now)}, nil
}

// RecordEvent upserts an event that could not be linked to a user, unless a
// settled record for the same id already exists.
func (s *PostgresStore) RecordEvent(ctx context.Context, ev domain.VerificationEvent) (bool, error) {
	tag, err := s.db.Exec(ctx, `INSERT INTO verification_events
        (event_id, user_id, applicant_id, event_type, review_answer, level_name, outcome, error, payload, received_at)
        VALUES ($1, NULL, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
        ON CONFLICT (event_id) DO UPDATE SET
            outcome = EXCLUDED.outcome, error = EXCLUDED.error, received_at = EXCLUDED.received_at
        WHERE verification_events.outcome NOT IN ('processed', 'ignored')`,
		ev.EventID, ev.ApplicantID, ev.Type, ev.ReviewAnswer, ev.LevelName, ev.Outcome, ev.Error, ev.Payload, ev.ReceivedAt.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 0, nil
}

const eventColumns = `event_id, COALESCE(user_id, ''), COALESCE(applicant_id, ''), event_type, COALESCE(review_answer, ''),
        COALESCE(level_name, ''), outcome, COALESCE(error, ''), payload, received_at`

func scanEvent(row pgx.Row) (domain.VerificationEvent, error) {
	var ev domain.VerificationEvent
	if err := row.Scan(&ev.EventID, &ev.UserID, &ev.ApplicantID, &ev.Type, &ev.ReviewAnswer,
		&ev.LevelName, &ev.Outcome, &ev.Error, &ev.Payload, &ev.ReceivedAt); err != nil {
		return domain.VerificationEvent{}, err
	}
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	return ev, nil
}

// FindEvent loads a stored event by provider id.
func (s *PostgresStore) FindEvent(ctx context.Context, eventID string) (domain.VerificationEvent, error) {
	ev, err := scanEvent(s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM verification_events WHERE event_id = $1`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VerificationEvent{}, fmt.Errorf("event %s not found", eventID)
	}
	return ev, err
}

// ListEvents returns the newest events linked to a user.
func (s *PostgresStore) ListEvents(ctx context.Context, userID string, limit int) ([]domain.VerificationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT `+eventColumns+` FROM verification_events
        WHERE user_id = $1 ORDER BY received_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.VerificationEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
