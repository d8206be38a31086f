package identity

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitjourney/internal/apperr"
	"fitjourney/internal/logging"
	"fitjourney/internal/metrics"
)

var identityCols = []string{"id", "username", "password_hash", "full_name", "email", "role", "active", "photo_url", "created_at", "updated_at"}

func newTestService(t *testing.T) (*service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := NewTokenIssuer(testSecret, time.Hour, "fitjourney")
	require.NoError(t, err)

	svc := NewService(db, tokens, logging.NewNop(), metrics.New()).(*service)
	return svc, mock
}

func identityRow(id uuid.UUID, username, hash string, role Role, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(identityCols).
		AddRow(id.String(), username, hash, "Test User", username+"@example.com", string(role), active, nil, now, now)
}

func validRegistration() Registration {
	return Registration{
		Username: "alice",
		Password: "s3cret-pass",
		FullName: "Alice Doe",
		Email:    "Alice@Example.com",
		Role:     "member",
	}
}

func TestRegister(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT\\s+EXISTS").
		WithArgs("alice", "alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"u", "e"}).AddRow(false, false))
	mock.ExpectQuery("INSERT INTO identities").
		WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg(), "Alice Doe", "alice@example.com", RoleMember).
		WillReturnRows(identityRow(id, "alice", "argon2id$x$y", RoleMember, true))

	identity, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)
	assert.Equal(t, id, identity.ID)
	assert.Equal(t, RoleMember, identity.Role)
	assert.True(t, identity.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterDefaultsToMember(t *testing.T) {
	svc, mock := newTestService(t)
	reg := validRegistration()
	reg.Role = ""

	mock.ExpectQuery("SELECT\\s+EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"u", "e"}).AddRow(false, false))
	mock.ExpectQuery("INSERT INTO identities").
		WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg(), "Alice Doe", "alice@example.com", RoleMember).
		WillReturnRows(identityRow(uuid.New(), "alice", "h", RoleMember, true))

	_, err := svc.Register(context.Background(), reg)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRejectsAdmin(t *testing.T) {
	svc, mock := newTestService(t)
	reg := validRegistration()
	reg.Role = "ADMIN"

	_, err := svc.Register(context.Background(), reg)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 400, apperr.HTTPStatus(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterValidation(t *testing.T) {
	cases := map[string]func(*Registration){
		"unknown role":   func(r *Registration) { r.Role = "coach" },
		"short password": func(r *Registration) { r.Password = "abc" },
		"no name":        func(r *Registration) { r.FullName = " " },
		"bad email":      func(r *Registration) { r.Email = "not-an-email" },
		"short username": func(r *Registration) { r.Username = "al" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			svc, _ := newTestService(t)
			reg := validRegistration()
			mutate(&reg)

			_, err := svc.Register(context.Background(), reg)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT\\s+EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"u", "e"}).AddRow(false, true))

	_, err := svc.Register(context.Background(), validRegistration())
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "email already exists")
	assert.Contains(t, err.Error(), "alice@example.com")
}

func TestRegisterDuplicateUsernameRace(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT\\s+EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"u", "e"}).AddRow(false, false))
	mock.ExpectQuery("INSERT INTO identities").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "identities_username_key"})

	_, err := svc.Register(context.Background(), validRegistration())
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "username already exists")
}

func TestIssueToken(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()
	hash, err := hashPassword("s3cret-pass")
	require.NoError(t, err)

	mock.ExpectQuery("FROM identities WHERE username").
		WithArgs("alice").
		WillReturnRows(identityRow(id, "alice", hash, RoleTrainer, true))

	token, err := svc.IssueToken(context.Background(), "alice", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, RoleTrainer, token.Role)

	p, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, id, p.UserID)
	assert.Equal(t, RoleTrainer, p.Role)
}

func TestIssueTokenRejectionsAreIndistinguishable(t *testing.T) {
	hash, err := hashPassword("s3cret-pass")
	require.NoError(t, err)

	cases := map[string]func(sqlmock.Sqlmock){
		"unknown user": func(m sqlmock.Sqlmock) {
			m.ExpectQuery("FROM identities WHERE username").WillReturnError(sql.ErrNoRows)
		},
		"wrong password": func(m sqlmock.Sqlmock) {
			m.ExpectQuery("FROM identities WHERE username").
				WillReturnRows(identityRow(uuid.New(), "alice", hash, RoleMember, true))
		},
		"inactive": func(m sqlmock.Sqlmock) {
			m.ExpectQuery("FROM identities WHERE username").
				WillReturnRows(identityRow(uuid.New(), "alice", hash, RoleMember, false))
		},
	}

	var messages []string
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			svc, mock := newTestService(t)
			setup(mock)

			password := "s3cret-pass"
			if name == "wrong password" {
				password = "wrong-pass"
			}

			_, err := svc.IssueToken(context.Background(), "alice", password)
			require.ErrorIs(t, err, apperr.ErrInvalidCredentials)
			messages = append(messages, err.Error())
		})
	}

	for _, m := range messages {
		assert.Equal(t, messages[0], m)
	}
}

func TestChangePassword(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()
	hash, err := hashPassword("old-password")
	require.NoError(t, err)

	mock.ExpectQuery("FROM identities WHERE id").
		WithArgs(id).
		WillReturnRows(identityRow(id, "alice", hash, RoleMember, true))
	mock.ExpectExec("UPDATE identities SET password_hash").
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.ChangePassword(context.Background(), id, "old-password", "new-password"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()
	hash, err := hashPassword("old-password")
	require.NoError(t, err)

	mock.ExpectQuery("FROM identities WHERE id").
		WillReturnRows(identityRow(id, "alice", hash, RoleMember, true))

	err = svc.ChangePassword(context.Background(), id, "guess", "new-password")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestGetIdentityNotFound(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectQuery("FROM identities WHERE id").WillReturnError(sql.ErrNoRows)

	_, err := svc.GetIdentity(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListIdentitiesByRole(t *testing.T) {
	svc, mock := newTestService(t)
	role := RoleTrainer

	mock.ExpectQuery("FROM identities WHERE role = \\$1 ORDER BY username").
		WithArgs(RoleTrainer).
		WillReturnRows(identityRow(uuid.New(), "tom", "h", RoleTrainer, true))

	list, err := svc.ListIdentities(context.Background(), &role)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "tom", list[0].Username)
}

func TestSetRoleNotFound(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectQuery("UPDATE identities SET role").WillReturnError(sql.ErrNoRows)

	_, err := svc.SetRole(context.Background(), uuid.New(), RoleTrainer)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteIdentityRestrictsActiveBookings(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectQuery("SELECT COUNT").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"c", "p", "s"}).AddRow(1, 0, 0))
	mock.ExpectRollback()

	err := svc.DeleteIdentity(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteIdentityRestrictsOwnedSessions(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"c", "p", "s"}).AddRow(0, 0, 2))
	mock.ExpectRollback()

	err := svc.DeleteIdentity(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestDeleteIdentity(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"c", "p", "s"}).AddRow(0, 0, 0))
	mock.ExpectExec("DELETE FROM booking_events").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 6))
	mock.ExpectExec("DELETE FROM class_bookings").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM plan_bookings").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM identities").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.DeleteIdentity(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteIdentityNotFound(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := svc.DeleteIdentity(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIssueTokenMissingCredentials(t *testing.T) {
	for _, creds := range [][2]string{{"", ""}, {"alice", ""}, {"", "s3cret-pass"}, {"   ", "s3cret-pass"}} {
		svc, mock := newTestService(t)

		_, err := svc.IssueToken(context.Background(), creds[0], creds[1])
		assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
		assert.Equal(t, "invalid username or password", apperr.PublicMessage(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestCreateIdentityAllowsAdmin(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()
	reg := validRegistration()
	reg.Role = "ADMIN"

	mock.ExpectQuery("SELECT\\s+EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"u", "e"}).AddRow(false, false))
	mock.ExpectQuery("INSERT INTO identities").
		WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg(), "Alice Doe", "alice@example.com", RoleAdmin).
		WillReturnRows(identityRow(id, "alice", "argon2id$x$y", RoleAdmin, true))

	identity, err := svc.CreateIdentity(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, identity.Role)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = svc.Register(context.Background(), reg)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

type passwordHash struct{ plain string }

func (h passwordHash) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "argon2id$") {
		return false
	}
	matched, err := verifyPassword(h.plain, s)
	return err == nil && matched
}

func TestUpdateProfile(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE identities").
		WithArgs(id, "Renamed", "renamed@example.com", "TRAINER", nil).
		WillReturnRows(identityRow(id, "alice", "h", RoleTrainer, true))
	identity, err := svc.UpdateProfile(context.Background(), id, ProfileUpdate{
		FullName: " Renamed ",
		Email:    "Renamed@Example.com",
		Role:     "trainer",
	})
	require.NoError(t, err)
	assert.Equal(t, RoleTrainer, identity.Role)

	mock.ExpectQuery("UPDATE identities").
		WithArgs(id, "Renamed", "renamed@example.com", nil, passwordHash{"new-secret"}).
		WillReturnRows(identityRow(id, "alice", "h", RoleMember, true))
	_, err = svc.UpdateProfile(context.Background(), id, ProfileUpdate{
		FullName: "Renamed",
		Email:    "renamed@example.com",
		Password: "new-secret",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileErrors(t *testing.T) {
	svc, mock := newTestService(t)
	valid := ProfileUpdate{FullName: "Alice", Email: "alice@example.com"}

	mock.ExpectQuery("UPDATE identities").WillReturnError(sql.ErrNoRows)
	_, err := svc.UpdateProfile(context.Background(), uuid.New(), valid)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mock.ExpectQuery("UPDATE identities").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "identities_email_key"})
	_, err = svc.UpdateProfile(context.Background(), uuid.New(), valid)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "email already exists")

	for _, upd := range []ProfileUpdate{
		{Email: "alice@example.com"},
		{FullName: "Alice", Email: "not-an-email"},
		{FullName: "Alice", Email: "alice@example.com", Role: "owner"},
		{FullName: "Alice", Email: "alice@example.com", Password: "short"},
	} {
		_, err := svc.UpdateProfile(context.Background(), uuid.New(), upd)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPhotoURL(t *testing.T) {
	svc, mock := newTestService(t)
	id := uuid.New()
	url := "/images/members/user-" + id.String() + ".png"

	mock.ExpectQuery("UPDATE identities SET photo_url").
		WithArgs(id, url).
		WillReturnRows(identityRow(id, "alice", "h", RoleMember, true))
	_, err := svc.SetPhotoURL(context.Background(), id, &url)
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE identities SET photo_url").
		WithArgs(id, nil).
		WillReturnError(sql.ErrNoRows)
	_, err = svc.SetPhotoURL(context.Background(), id, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
