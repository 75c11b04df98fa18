package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novafi/novafi/internal/domain"
)

const uniqueViolation = "23505"

const userColumns = `id, user_id, email, first_name, last_name, password_hash, status,
        COALESCE(applicant_id, ''), COALESCE(verification_level, ''), verified_at, COALESCE(review_answer, ''),
        COALESCE(external_customer_id, ''), customer_created_at, active, created_at, updated_at`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		id   uuid.UUID
		user domain.User
	)
	err := row.Scan(&id, &user.UserID, &user.Email, &user.FirstName, &user.LastName, &user.PasswordHash, &user.Status,
		&user.ApplicantID, &user.VerificationLevel, &user.VerifiedAt, &user.ReviewAnswer,
		&user.ExternalCustomerID, &user.CustomerCreatedAt, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

// CreateUser inserts a newly registered user.
func (s *PostgresStore) CreateUser(ctx context.Context, user domain.User) error {
	id, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO users (id, user_id, email, first_name, last_name, password_hash, status, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		id, user.UserID, strings.ToLower(user.Email), user.FirstName, user.LastName, user.PasswordHash, user.Status, user.Active, user.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, "email") {
		return domain.ErrEmailTaken
	}
	return err
}

// FindUser fetches a user by allocated identifier.
func (s *PostgresStore) FindUser(ctx context.Context, userID string) (domain.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
}

// FindUserByEmail fetches a user by email.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

// ListUsers returns a page of users, newest first.
func (s *PostgresStore) ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, int, error) {
	filter = normalizePage(filter)

	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clauses = append(clauses, fmt.Sprintf("(email ILIKE $%d OR user_id ILIKE $%d)", len(args), len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Size, filter.Page*filter.Size)
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC, user_id DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// CountByStatus aggregates users per verification status.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM users GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[domain.Status]int, len(domain.AllStatuses))
	for rows.Next() {
		var (
			status domain.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// AppendAudit writes an audit row.
func (s *PostgresStore) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	return insertAudit(ctx, s.db, entry)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAudit(ctx context.Context, db execer, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := db.Exec(ctx, `INSERT INTO audit_logs (id, user_id, actor, action, old_status, new_status, comment, created_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		entry.ID, entry.UserID, entry.Actor, entry.Action, string(entry.OldStatus), string(entry.NewStatus), entry.Comment, entry.CreatedAt.UTC())
	return err
}

// ListAudit returns the newest audit rows for a user.
func (s *PostgresStore) ListAudit(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT id, user_id, actor, action, COALESCE(old_status, ''), COALESCE(new_status, ''), comment, created_at
        FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Actor, &e.Action, &e.OldStatus, &e.NewStatus, &e.Comment, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
