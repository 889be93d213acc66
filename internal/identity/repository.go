package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("identity not found")
	// ErrDuplicate is matched by every DuplicateError.
	ErrDuplicate = errors.New("identity key already taken")
	// ErrStatusMismatch is returned when a conditional status update finds the record in another state.
	ErrStatusMismatch = errors.New("identity status mismatch")
	// ErrCodeMismatch is returned when a one-time code is wrong or already used.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrAlreadyVerified is returned when a code is replaced on a verified channel.
	ErrAlreadyVerified = errors.New("channel already verified")
)

// Unique key fields, in the order they are reserved.
const (
	FieldUsername = "username"
	FieldMobile   = "mobile"
	FieldEmail    = "email"
)

// DuplicateError names the unique field that collided.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists", e.Field)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// Repository persists confirmed and pending identities. Username, email and mobile
// are unique across both namespaces.
type Repository interface {
	CreatePending(ctx context.Context, p PendingIdentity) error
	FindPending(ctx context.Context, id string) (PendingIdentity, error)
	FindPendingByUsername(ctx context.Context, username string) (PendingIdentity, error)
	ListPending(ctx context.Context) ([]PendingIdentity, error)
	// ConsumeCode marks the channel verified and clears its code, but only if code
	// matches the outstanding one. Check and clear happen atomically.
	ConsumeCode(ctx context.Context, pendingID string, ch Channel, code string) (PendingIdentity, error)
	// ReplaceCode stores a fresh code for one channel of an unverified registration.
	ReplaceCode(ctx context.Context, pendingID string, ch Channel, code string) error
	DeletePending(ctx context.Context, id string) error
	// Promote deletes the pending record and materializes it as an identity that is
	// inserted as pending and moved to the given status, all in one transaction.
	Promote(ctx context.Context, pendingID string, to Status) (Identity, error)
	PurgeExpiredPending(ctx context.Context, before time.Time) (int, error)

	CreateIdentity(ctx context.Context, ident Identity) error
	FindByUsername(ctx context.Context, username string) (Identity, error)
	UpdateStatus(ctx context.Context, username string, from, to Status) error
	MarkSynced(ctx context.Context, username string, synced bool) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const pendingColumns = `id, username, password_hash, email, mobile, first_name, last_name, age,
        email_code, email_verified, mobile_code, mobile_verified, created_at`

const userColumns = `id, username, password_hash, email, mobile, first_name, last_name, age,
        role, status, policyholder_synced, created_at, updated_at`

// CreatePending reserves the unique keys and inserts a pending registration.
func (r *PostgresRepository) CreatePending(ctx context.Context, p PendingIdentity) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := reserveKeys(ctx, tx, id, p.Profile); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO pending_users (`+pendingColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, p.Username, p.PasswordHash, p.Email, p.Mobile, p.FirstName, p.LastName, p.Age,
		p.EmailCode, p.EmailVerified, p.MobileCode, p.MobileVerified, p.CreatedAt.UTC()); err != nil {
		return mapUniqueViolation(err)
	}
	return tx.Commit(ctx)
}

// FindPending fetches a pending registration by identifier.
func (r *PostgresRepository) FindPending(ctx context.Context, id string) (PendingIdentity, error) {
	pendingID, err := uuid.Parse(id)
	if err != nil {
		return PendingIdentity{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_users WHERE id = $1`, pendingID)
	return scanPending(row)
}

// FindPendingByUsername fetches a pending registration by username.
func (r *PostgresRepository) FindPendingByUsername(ctx context.Context, username string) (PendingIdentity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_users WHERE username = $1`, username)
	return scanPending(row)
}

// ListPending returns every pending registration, oldest first.
func (r *PostgresRepository) ListPending(ctx context.Context) ([]PendingIdentity, error) {
	rows, err := r.db.Query(ctx, `SELECT `+pendingColumns+` FROM pending_users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingIdentity
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// channelColumns maps a channel to its code and verified columns.
func channelColumns(ch Channel) (code, verified string, err error) {
	switch ch {
	case ChannelEmail:
		return "email_code", "email_verified", nil
	case ChannelSMS:
		return "mobile_code", "mobile_verified", nil
	default:
		return "", "", fmt.Errorf("unknown channel %q", ch)
	}
}

// ConsumeCode verifies and clears one channel code in a single conditional UPDATE, so
// concurrent verifications can neither reuse a code nor overwrite another channel.
func (r *PostgresRepository) ConsumeCode(ctx context.Context, pendingID string, ch Channel, code string) (PendingIdentity, error) {
	id, err := uuid.Parse(pendingID)
	if err != nil {
		return PendingIdentity{}, ErrNotFound
	}
	codeCol, verifiedCol, err := channelColumns(ch)
	if err != nil {
		return PendingIdentity{}, err
	}
	row := r.db.QueryRow(ctx, `UPDATE pending_users
        SET `+verifiedCol+` = TRUE, `+codeCol+` = ''
        WHERE id = $1 AND `+codeCol+` = $2 AND `+codeCol+` <> ''
        RETURNING `+pendingColumns, id, code)
	p, err := scanPending(row)
	if errors.Is(err, ErrNotFound) {
		return PendingIdentity{}, r.pendingMiss(ctx, id, ErrCodeMismatch)
	}
	return p, err
}

// ReplaceCode overwrites the code column of one unverified channel.
func (r *PostgresRepository) ReplaceCode(ctx context.Context, pendingID string, ch Channel, code string) error {
	id, err := uuid.Parse(pendingID)
	if err != nil {
		return ErrNotFound
	}
	codeCol, verifiedCol, err := channelColumns(ch)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE pending_users SET `+codeCol+` = $2
        WHERE id = $1 AND NOT `+verifiedCol, id, code)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.pendingMiss(ctx, id, ErrAlreadyVerified)
	}
	return nil
}

// pendingMiss tells a missing registration apart from a failed condition on an existing one.
func (r *PostgresRepository) pendingMiss(ctx context.Context, id uuid.UUID, conditionErr error) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pending_users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return conditionErr
}

// DeletePending removes a pending registration and releases its keys.
func (r *PostgresRepository) DeletePending(ctx context.Context, id string) error {
	pendingID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	cmd, err := tx.Exec(ctx, `DELETE FROM pending_users WHERE id = $1`, pendingID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM identity_keys WHERE owner_id = $1`, pendingID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Promote moves a pending registration into the users table. The reserved keys keep
// their owner because the identity inherits the pending identifier.
func (r *PostgresRepository) Promote(ctx context.Context, pendingID string, to Status) (Identity, error) {
	id, err := uuid.Parse(pendingID)
	if err != nil {
		return Identity{}, ErrNotFound
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Identity{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var ident Identity
	row := tx.QueryRow(ctx, `DELETE FROM pending_users WHERE id = $1
        RETURNING username, password_hash, email, mobile, first_name, last_name, age`, id)
	if err := row.Scan(&ident.Username, &ident.PasswordHash, &ident.Email, &ident.Mobile,
		&ident.FirstName, &ident.LastName, &ident.Age); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}

	now := time.Now().UTC()
	ident.ID = id.String()
	ident.Role = RoleNormal
	ident.Status = StatusPending
	ident.CreatedAt = now
	ident.UpdatedAt = now
	if err := insertIdentity(ctx, tx, id, ident); err != nil {
		return Identity{}, err
	}
	if to != StatusPending {
		if _, err := tx.Exec(ctx, `UPDATE users SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
			id, to, now, StatusPending); err != nil {
			return Identity{}, err
		}
		ident.Status = to
	}

	if err := tx.Commit(ctx); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// PurgeExpiredPending deletes pending registrations created before the cutoff.
func (r *PostgresRepository) PurgeExpiredPending(ctx context.Context, before time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM identity_keys
        WHERE owner_id IN (SELECT id FROM pending_users WHERE created_at < $1)`, before.UTC()); err != nil {
		return 0, err
	}
	cmd, err := tx.Exec(ctx, `DELETE FROM pending_users WHERE created_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

// CreateIdentity reserves the unique keys and inserts a materialized identity.
func (r *PostgresRepository) CreateIdentity(ctx context.Context, ident Identity) error {
	id, err := uuid.Parse(ident.ID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := reserveKeys(ctx, tx, id, ident.Profile); err != nil {
		return err
	}
	if err := insertIdentity(ctx, tx, id, ident); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindByUsername fetches a materialized identity by username.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	var (
		id    uuid.UUID
		ident Identity
	)
	if err := row.Scan(&id, &ident.Username, &ident.PasswordHash, &ident.Email, &ident.Mobile,
		&ident.FirstName, &ident.LastName, &ident.Age, &ident.Role, &ident.Status,
		&ident.PolicyholderSynced, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}
	ident.ID = id.String()
	ident.CreatedAt = ident.CreatedAt.UTC()
	ident.UpdatedAt = ident.UpdatedAt.UTC()
	return ident, nil
}

// UpdateStatus moves an identity from one status to another. It fails with
// ErrStatusMismatch when the identity is not currently in the from status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, username string, from, to Status) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET status = $3, updated_at = $4
        WHERE username = $1 AND status = $2`, username, from, to, time.Now().UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusMismatch
	}
	return nil
}

// MarkSynced records whether the downstream policyholder exists.
func (r *PostgresRepository) MarkSynced(ctx context.Context, username string, synced bool) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET policyholder_synced = $2, updated_at = $3 WHERE username = $1`,
		username, synced, time.Now().UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func reserveKeys(ctx context.Context, tx pgx.Tx, owner uuid.UUID, p Profile) error {
	keys := []struct{ field, value string }{
		{FieldUsername, p.Username},
		{FieldMobile, p.Mobile},
		{FieldEmail, p.Email},
	}
	for _, k := range keys {
		cmd, err := tx.Exec(ctx, `INSERT INTO identity_keys (field, value, owner_id) VALUES ($1, $2, $3)
            ON CONFLICT (field, value) DO NOTHING`, k.field, k.value, owner)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return &DuplicateError{Field: k.field}
		}
	}
	return nil
}

func insertIdentity(ctx context.Context, tx pgx.Tx, id uuid.UUID, ident Identity) error {
	_, err := tx.Exec(ctx, `INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, ident.Username, ident.PasswordHash, ident.Email, ident.Mobile, ident.FirstName, ident.LastName,
		ident.Age, ident.Role, ident.Status, ident.PolicyholderSynced, ident.CreatedAt.UTC(), ident.UpdatedAt.UTC())
	return mapUniqueViolation(err)
}

// mapUniqueViolation converts a unique_violation on the users or pending tables into a
// DuplicateError. The key table normally catches collisions first.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		field := FieldUsername
		switch pgErr.ConstraintName {
		case "users_email_key", "pending_users_email_key":
			field = FieldEmail
		case "users_mobile_key", "pending_users_mobile_key":
			field = FieldMobile
		}
		return &DuplicateError{Field: field}
	}
	return err
}

func scanPending(row pgx.Row) (PendingIdentity, error) {
	var (
		id uuid.UUID
		p  PendingIdentity
	)
	if err := row.Scan(&id, &p.Username, &p.PasswordHash, &p.Email, &p.Mobile, &p.FirstName, &p.LastName,
		&p.Age, &p.EmailCode, &p.EmailVerified, &p.MobileCode, &p.MobileVerified, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PendingIdentity{}, ErrNotFound
		}
		return PendingIdentity{}, err
	}
	p.ID = id.String()
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
