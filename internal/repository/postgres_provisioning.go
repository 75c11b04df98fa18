package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/novafi/novafi/internal/domain"
)

// ClaimProvisioning moves the user into provisioning_in_progress when its status
// allows it and takes a time-bounded lease. Only one caller can win per user.
func (s *PostgresStore) ClaimProvisioning(ctx context.Context, userID string, now time.Time, lease time.Duration) (domain.User, domain.ProvisioningRecord, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.User{}, domain.ProvisioningRecord{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return domain.User{}, domain.ProvisioningRecord{}, err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO provisioning_records (user_id, updated_at) VALUES ($1, $2)
        ON CONFLICT (user_id) DO NOTHING`, userID, now.UTC()); err != nil {
		return domain.User{}, domain.ProvisioningRecord{}, err
	}
	rec, err := loadRecord(ctx, tx, userID, true)
	if err != nil {
		return domain.User{}, domain.ProvisioningRecord{}, err
	}

	if err := claimable(user.Status, rec.LeaseUntil, now); err != nil {
		return domain.User{}, domain.ProvisioningRecord{}, fmt.Errorf("%w: status %s", err, user.Status)
	}

	until := now.Add(lease).UTC()
	if _, err := tx.Exec(ctx, `UPDATE users SET status = $2, updated_at = $3 WHERE user_id = $1`,
		userID, domain.StatusProvisioningInProgress, now.UTC()); err != nil {
		return domain.User{}, domain.ProvisioningRecord{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE provisioning_records SET attempt_count = attempt_count + 1, lease_until = $2, updated_at = $3
        WHERE user_id = $1`, userID, until, now.UTC()); err != nil {
		return domain.User{}, domain.ProvisioningRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, domain.ProvisioningRecord{}, err
	}

	rec.ClaimedFrom = user.Status
	user.Status = domain.StatusProvisioningInProgress
	rec.AttemptCount++
	rec.LeaseUntil = &until
	return user, rec, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadRecord(ctx context.Context, q querier, userID string, lock bool) (domain.ProvisioningRecord, error) {
	query := `SELECT user_id, attempt_count, COALESCE(last_error, ''), pending_since, lease_until,
            COALESCE(verification_level, ''), verified_at, updated_at
        FROM provisioning_records WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	rec := domain.ProvisioningRecord{UserID: userID, Wallets: map[string]domain.WalletEntry{}}
	err := q.QueryRow(ctx, query, userID).Scan(&rec.UserID, &rec.AttemptCount, &rec.LastError, &rec.PendingSince,
		&rec.LeaseUntil, &rec.VerificationLevel, &rec.VerifiedAt, &rec.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.ProvisioningRecord{}, err
	}

	rows, err := q.Query(ctx, `SELECT currency, network, COALESCE(address, ''), COALESCE(external_wallet_id, ''), status,
            COALESCE(error, ''), created_at, updated_at
        FROM provisioning_wallets WHERE user_id = $1`, userID)
	if err != nil {
		return domain.ProvisioningRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var w domain.WalletEntry
		if err := rows.Scan(&w.Currency, &w.Network, &w.Address, &w.ExternalWalletID, &w.Status, &w.Error, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return domain.ProvisioningRecord{}, err
		}
		rec.Wallets[w.Currency] = w
	}
	return rec, rows.Err()
}

// SaveCustomer records the external customer id for a user.
func (s *PostgresStore) SaveCustomer(ctx context.Context, userID, customerID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET external_customer_id = $2,
            customer_created_at = COALESCE(customer_created_at, $3), updated_at = $3
        WHERE user_id = $1`, userID, customerID, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SaveWallet upserts the wallet entry for (user, currency).
func (s *PostgresStore) SaveWallet(ctx context.Context, userID string, w domain.WalletEntry) error {
	_, err := s.db.Exec(ctx, `INSERT INTO provisioning_wallets
            (user_id, currency, network, address, external_wallet_id, status, error, created_at, updated_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9)
        ON CONFLICT (user_id, currency) DO UPDATE SET
            network = EXCLUDED.network,
            address = COALESCE(EXCLUDED.address, provisioning_wallets.address),
            external_wallet_id = COALESCE(EXCLUDED.external_wallet_id, provisioning_wallets.external_wallet_id),
            status = EXCLUDED.status,
            error = EXCLUDED.error,
            updated_at = EXCLUDED.updated_at`,
		userID, w.Currency, w.Network, w.Address, w.ExternalWalletID, w.Status, w.Error, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return err
}

// FinishProvisioning releases the lease held by attempt and writes the final status.
func (s *PostgresStore) FinishProvisioning(ctx context.Context, userID string, attempt int, status domain.Status, lastErr string, now time.Time) error {
	return s.endLease(ctx, userID, attempt, status, now, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE provisioning_records SET lease_until = NULL, pending_since = NULL,
            last_error = NULLIF($2, ''), updated_at = $3 WHERE user_id = $1`, userID, lastErr, now.UTC())
		return err
	})
}

// ReleaseProvisioning hands an interrupted lease back and keeps the user
// pending for the sweeper.
func (s *PostgresStore) ReleaseProvisioning(ctx context.Context, userID string, attempt int, restore domain.Status, now time.Time) error {
	return s.endLease(ctx, userID, attempt, restore, now, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE provisioning_records SET lease_until = NULL,
            pending_since = COALESCE(pending_since, $2), updated_at = $2 WHERE user_id = $1`, userID, now.UTC())
		return err
	})
}

// endLease moves the user to status when attempt still holds the lease and
// applies update to the provisioning record in the same transaction.
func (s *PostgresStore) endLease(ctx context.Context, userID string, attempt int, status domain.Status, now time.Time, update func(pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var held bool
	err = tx.QueryRow(ctx, `SELECT u.status = $2 AND pr.attempt_count = $3
        FROM users u JOIN provisioning_records pr ON pr.user_id = u.user_id
        WHERE u.user_id = $1 FOR UPDATE`, userID, domain.StatusProvisioningInProgress, attempt).Scan(&held)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: %s attempt %d", domain.ErrLeaseLost, userID, attempt)
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET status = $2, updated_at = $3 WHERE user_id = $1`,
		userID, status, now.UTC()); err != nil {
		return err
	}
	if err := update(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ProvisioningRecord returns the record and wallets for a user.
func (s *PostgresStore) ProvisioningRecord(ctx context.Context, userID string) (domain.ProvisioningRecord, error) {
	return loadRecord(ctx, s.db, userID, false)
}

// PendingProvisioning lists users with a pending marker or an expired lease.
func (s *PostgresStore) PendingProvisioning(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT pr.user_id FROM provisioning_records pr
        JOIN users u ON u.user_id = pr.user_id
        WHERE pr.pending_since IS NOT NULL
           OR (u.status = $1 AND pr.lease_until IS NOT NULL AND pr.lease_until <= $2)
        ORDER BY COALESCE(pr.pending_since, pr.lease_until) ASC
        LIMIT $3`, domain.StatusProvisioningInProgress, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearPending drops the pending marker without touching status.
func (s *PostgresStore) ClearPending(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `UPDATE provisioning_records SET pending_since = NULL WHERE user_id = $1`, userID)
	return err
}
