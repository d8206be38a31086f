// internal/identity/implementation.go
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"fitjourney/internal/apperr"
	"fitjourney/internal/database"
	"fitjourney/internal/logging"
	"fitjourney/internal/metrics"
)

const minPasswordLen = 6

// service implements the Service interface.
type service struct {
	db      *sql.DB
	tokens  *TokenIssuer
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewService creates a new identity service instance.
func NewService(db *sql.DB, tokens *TokenIssuer, log *logging.Logger, m *metrics.Metrics) Service {
	return &service{db: db, tokens: tokens, log: log, metrics: m}
}

const identityColumns = `id, username, password_hash, full_name, email, role, active, photo_url, created_at, updated_at`

func scanIdentity(row interface{ Scan(...any) error }) (*Identity, error) {
	id := &Identity{}
	err := row.Scan(
		&id.ID,
		&id.Username,
		&id.PasswordHash,
		&id.FullName,
		&id.Email,
		&id.Role,
		&id.Active,
		&id.PhotoURL,
		&id.CreatedAt,
		&id.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// Register creates a new identity. ADMIN accounts cannot be self-registered.
func (s *service) Register(ctx context.Context, reg Registration) (*Identity, error) {
	return s.create(ctx, reg, false)
}

// CreateIdentity creates an identity on behalf of an administrator.
func (s *service) CreateIdentity(ctx context.Context, reg Registration) (*Identity, error) {
	return s.create(ctx, reg, true)
}

func (s *service) create(ctx context.Context, reg Registration, byAdmin bool) (*Identity, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(strings.ToLower(reg.Email))
	reg.FullName = strings.TrimSpace(reg.FullName)

	role := RoleMember
	if reg.Role != "" {
		r, ok := ParseRole(reg.Role)
		if !ok {
			return nil, apperr.New(apperr.ErrValidation, fmt.Sprintf("unknown role %q", reg.Role))
		}
		role = r
	}
	if role == RoleAdmin && !byAdmin {
		return nil, apperr.New(apperr.ErrValidation, "admin accounts cannot be self-registered")
	}

	if err := validateRegistration(reg); err != nil {
		return nil, err
	}

	if err := s.ensureUnique(ctx, reg.Username, reg.Email); err != nil {
		return nil, err
	}

	hash, err := hashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO identities (id, username, password_hash, full_name, email, role, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING ` + identityColumns

	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query,
		uuid.New(), reg.Username, hash, reg.FullName, reg.Email, role,
	))
	if err != nil {
		switch {
		case database.IsUniqueViolation(err, "identities_username_key"):
			return nil, usernameTaken(reg.Username)
		case database.IsUniqueViolation(err, "identities_email_key"):
			return nil, emailTaken(reg.Email)
		}
		return nil, fmt.Errorf("failed to insert identity: %w", err)
	}

	s.log.WithContext(ctx).WithFields(map[string]any{
		"identity_id": identity.ID,
		"role":        identity.Role,
		"by_admin":    byAdmin,
	}).Info("identity registered")
	return identity, nil
}

func validateRegistration(reg Registration) error {
	if len(reg.Username) < 3 || len(reg.Username) > 50 {
		return apperr.New(apperr.ErrValidation, "username must be between 3 and 50 characters")
	}
	if len(reg.Password) < minPasswordLen {
		return apperr.New(apperr.ErrValidation, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	if reg.FullName == "" {
		return apperr.New(apperr.ErrValidation, "full_name is required")
	}
	if _, err := mail.ParseAddress(reg.Email); err != nil {
		return apperr.New(apperr.ErrValidation, "email is invalid")
	}
	return nil
}

func usernameTaken(username string) error {
	return apperr.New(apperr.ErrValidation, fmt.Sprintf("username already exists: %s", username))
}

func emailTaken(email string) error {
	return apperr.New(apperr.ErrValidation, fmt.Sprintf("email already exists: %s", email))
}

func (s *service) ensureUnique(ctx context.Context, username, email string) error {
	var usernameExists, emailExists bool
	query := `
		SELECT
			EXISTS (SELECT 1 FROM identities WHERE username = $1),
			EXISTS (SELECT 1 FROM identities WHERE email = $2)
	`
	if err := s.db.QueryRowContext(ctx, query, username, email).Scan(&usernameExists, &emailExists); err != nil {
		return fmt.Errorf("failed to check identity uniqueness: %w", err)
	}
	if usernameExists {
		return usernameTaken(username)
	}
	if emailExists {
		return emailTaken(email)
	}
	return nil
}

// IssueToken verifies credentials and signs a token for the identity.
func (s *service) IssueToken(ctx context.Context, username, password string) (*Token, error) {
	invalid := apperr.New(apperr.ErrInvalidCredentials, "invalid username or password")

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.recordAuth(ctx, "missing_credentials", username)
		return nil, invalid
	}

	identity, err := s.getByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_, _ = verifyPassword(password, dummyHash)
			s.recordAuth(ctx, "unknown_user", username)
			return nil, invalid
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	ok, err := verifyPassword(password, identity.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.recordAuth(ctx, "bad_password", username)
		return nil, invalid
	}
	if !identity.Active {
		s.recordAuth(ctx, "inactive", username)
		return nil, invalid
	}

	token, err := s.tokens.Issue(identity)
	if err != nil {
		return nil, err
	}

	s.recordAuth(ctx, "success", username)
	return token, nil
}

func (s *service) recordAuth(ctx context.Context, result, username string) {
	if s.metrics != nil {
		s.metrics.RecordAuth(result)
	}
	if result != "success" {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]any{"username": username, "reason": result})
	}
}

// ValidateToken checks a bearer token.
func (s *service) ValidateToken(raw string) (*Principal, error) {
	return s.tokens.Validate(raw)
}

// ChangePassword replaces the password of id after checking the current one.
func (s *service) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	if len(next) < minPasswordLen {
		return apperr.New(apperr.ErrValidation, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	identity, err := s.GetIdentity(ctx, id)
	if err != nil {
		return err
	}

	ok, err := verifyPassword(current, identity.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return apperr.New(apperr.ErrInvalidCredentials, "current password is incorrect")
	}

	hash, err := hashPassword(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	query := `UPDATE identities SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.log.LogSecurityEvent(ctx, "password_changed", map[string]any{"identity_id": id.String()})
	return nil
}

func (s *service) getByUsername(ctx context.Context, username string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE username = $1`
	return scanIdentity(s.db.QueryRowContext(ctx, query, username))
}

// GetIdentity retrieves an identity by its ID.
func (s *service) GetIdentity(ctx context.Context, id uuid.UUID) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "identity not found")
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, nil
}

// ListIdentities returns all identities, optionally filtered by role.
func (s *service) ListIdentities(ctx context.Context, role *Role) ([]Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities`
	var args []any
	if role != nil {
		query += ` WHERE role = $1`
		args = append(args, *role)
	}
	query += ` ORDER BY username`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	identities := []Identity{}
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, *identity)
	}
	return identities, rows.Err()
}

// SetActive enables or disables login for an identity.
func (s *service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Identity, error) {
	query := `UPDATE identities SET active = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + identityColumns
	return s.update(ctx, query, id, active)
}

// SetRole changes the role of an identity.
func (s *service) SetRole(ctx context.Context, id uuid.UUID, role Role) (*Identity, error) {
	if _, ok := ParseRole(string(role)); !ok {
		return nil, apperr.New(apperr.ErrValidation, fmt.Sprintf("unknown role %q", role))
	}
	query := `UPDATE identities SET role = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + identityColumns
	return s.update(ctx, query, id, role)
}

// UpdateProfile replaces name and email, and optionally role and password.
func (s *service) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*Identity, error) {
	upd.FullName = strings.TrimSpace(upd.FullName)
	upd.Email = strings.TrimSpace(strings.ToLower(upd.Email))
	if upd.FullName == "" {
		return nil, apperr.New(apperr.ErrValidation, "full_name is required")
	}
	if _, err := mail.ParseAddress(upd.Email); err != nil {
		return nil, apperr.New(apperr.ErrValidation, "email is invalid")
	}

	var role sql.NullString
	if upd.Role != "" {
		r, ok := ParseRole(upd.Role)
		if !ok {
			return nil, apperr.New(apperr.ErrValidation, fmt.Sprintf("unknown role %q", upd.Role))
		}
		role = sql.NullString{String: string(r), Valid: true}
	}

	var hash sql.NullString
	if upd.Password != "" {
		if len(upd.Password) < minPasswordLen {
			return nil, apperr.New(apperr.ErrValidation, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
		}
		h, err := hashPassword(upd.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		hash = sql.NullString{String: h, Valid: true}
	}

	query := `
		UPDATE identities
		SET full_name = $2, email = $3,
			role = COALESCE($4, role),
			password_hash = COALESCE($5, password_hash),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + identityColumns

	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, id, upd.FullName, upd.Email, role, hash))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, apperr.New(apperr.ErrNotFound, "identity not found")
		case database.IsUniqueViolation(err, "identities_email_key"):
			return nil, emailTaken(upd.Email)
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	s.log.WithContext(ctx).WithField("identity_id", id).Info("profile updated")
	if hash.Valid {
		s.log.LogSecurityEvent(ctx, "password_reset_by_admin", map[string]any{"identity_id": id.String()})
	}
	return identity, nil
}

// SetPhotoURL stores the public location of the identity's photo.
func (s *service) SetPhotoURL(ctx context.Context, id uuid.UUID, url *string) (*Identity, error) {
	var value sql.NullString
	if url != nil {
		value = sql.NullString{String: *url, Valid: true}
	}
	query := `UPDATE identities SET photo_url = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + identityColumns
	return s.update(ctx, query, id, value)
}

func (s *service) update(ctx context.Context, query string, id uuid.UUID, value any) (*Identity, error) {
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, id, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "identity not found")
		}
		return nil, fmt.Errorf("failed to update identity: %w", err)
	}
	s.log.WithContext(ctx).WithField("identity_id", id).Info("identity updated")
	return identity, nil
}

// DeleteIdentity removes an identity. Deletion is refused while the identity
// holds active bookings or owns class sessions; cancelled booking history and
// its events are removed with it.
func (s *service) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Locking the row blocks concurrent bookings, whose foreign keys need a
	// share lock on it.
	var locked uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM identities WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.ErrNotFound, "identity not found")
		}
		return fmt.Errorf("failed to lock identity: %w", err)
	}

	var activeClass, activePlan, sessions int
	query := `
		SELECT
			(SELECT COUNT(*) FROM class_bookings WHERE member_id = $1 AND status = 'active'),
			(SELECT COUNT(*) FROM plan_bookings WHERE member_id = $1 AND status = 'active'),
			(SELECT COUNT(*) FROM class_sessions WHERE trainer_id = $1)
	`
	if err := tx.QueryRowContext(ctx, query, id).Scan(&activeClass, &activePlan, &sessions); err != nil {
		return fmt.Errorf("failed to count dependents: %w", err)
	}
	if activeClass > 0 || activePlan > 0 {
		return apperr.New(apperr.ErrConflict, "identity has active bookings")
	}
	if sessions > 0 {
		return apperr.New(apperr.ErrConflict, "identity owns class sessions")
	}

	for _, q := range []string{
		`DELETE FROM booking_events WHERE aggregate_id IN (
			SELECT id FROM class_bookings WHERE member_id = $1
			UNION ALL
			SELECT id FROM plan_bookings WHERE member_id = $1
		)`,
		`DELETE FROM class_bookings WHERE member_id = $1`,
		`DELETE FROM plan_bookings WHERE member_id = $1`,
		`DELETE FROM identities WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.log.LogSecurityEvent(ctx, "identity_deleted", map[string]any{"identity_id": id.String()})
	return nil
}
