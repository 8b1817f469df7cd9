package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// Postgres error codes translated into domain errors.
const (
	codeUniqueViolation      = "23505"
	codeStringTooLong        = "22001"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

const constraintGoogleIDUnique = "users_google_id_unique"

const userColumns = `u.id, u.google_id, u.email, u.name, u.picture, u.created_at, u.updated_at, u.version`

// Role columns come from one LEFT JOIN so a user and its roles are read in
// a single statement snapshot.
const (
	selectUser          = `SELECT ` + userColumns + ` FROM users u WHERE u.%s = $1`
	selectUserWithRoles = `
		SELECT ` + userColumns + `, r.id AS role_id, r.name AS role_name, r.description AS role_description
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		LEFT JOIN roles r ON r.id = ur.role_id
		WHERE u.%s = $1`
)

type userRow struct {
	ID              int64          `db:"id"`
	GoogleID        string         `db:"google_id"`
	Email           string         `db:"email"`
	Name            sql.NullString `db:"name"`
	Picture         sql.NullString `db:"picture"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       sql.NullTime   `db:"updated_at"`
	Version         int64          `db:"version"`
	RoleID          sql.NullInt64  `db:"role_id"`
	RoleName        sql.NullString `db:"role_name"`
	RoleDescription sql.NullString `db:"role_description"`
}

type roleRow struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
}

// IdentityStore implements ports.IdentityStore on the users, roles and
// user_roles tables.
type IdentityStore struct {
	db *sqlx.DB
}

func NewIdentityStore(db *sqlx.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return findUser(ctx, s.db, "email", email, false)
}

func (s *IdentityStore) FindByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	return findUser(ctx, s.db, "google_id", externalID, false)
}

func (s *IdentityStore) FindByEmailWithRoles(ctx context.Context, email string) (*domain.User, error) {
	return findUser(ctx, s.db, "email", email, true)
}

func (s *IdentityStore) FindByExternalIDWithRoles(ctx context.Context, externalID string) (*domain.User, error) {
	return findUser(ctx, s.db, "google_id", externalID, true)
}

func (s *IdentityStore) FindRoleByKind(ctx context.Context, kind domain.RoleKind) (*domain.Role, error) {
	var row roleRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, description FROM roles WHERE name = $1`, string(kind))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(domain.EntityRole, kind.String())
		}
		return nil, fmt.Errorf("find role: %w", err)
	}
	return &domain.Role{ID: row.ID, Kind: domain.RoleKind(row.Name), Description: row.Description.String}, nil
}

// SaveRoleIfAbsent relies on roles_name_unique: a concurrent seeder's insert
// turns ours into a no-op and both read back the same row.
func (s *IdentityStore) SaveRoleIfAbsent(ctx context.Context, role domain.Role) (*domain.Role, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, string(role.Kind), nullString(role.Description))
	if err != nil {
		return nil, fmt.Errorf("insert role: %w", err)
	}
	return s.FindRoleByKind(ctx, role.Kind)
}

func (s *IdentityStore) Save(ctx context.Context, user *domain.User) (*domain.User, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := user.ID
	if id == 0 {
		id, err = insertUser(ctx, tx, user)
	} else {
		err = updateUser(ctx, tx, user)
	}
	if err != nil {
		return nil, translate(err, user)
	}

	if user.Roles != nil {
		if err := replaceRoles(ctx, tx, id, user.Roles); err != nil {
			return nil, translate(err, user)
		}
	}

	saved, err := findUser(ctx, tx, "id", strconv.FormatInt(id, 10), true)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err, user)
	}
	return saved, nil
}

func (s *IdentityStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func insertUser(ctx context.Context, tx *sqlx.Tx, u *domain.User) (int64, error) {
	var id int64
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO users (google_id, email, name, picture, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		RETURNING id
	`, u.ExternalID, u.Email, nullString(u.Name), nullString(u.Picture)).Scan(&id)
	return id, err
}

// updateUser writes the mutable columns only if the stored version still
// equals u.Version. The row lock taken here is held until commit, so a
// competing writer with the same version matches zero rows afterwards.
func updateUser(ctx context.Context, tx *sqlx.Tx, u *domain.User) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET email = $1, name = $2, picture = $3, updated_at = NOW(), version = version + 1
		WHERE id = $4 AND version = $5
	`, u.Email, nullString(u.Name), nullString(u.Picture), u.ID, u.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	key := strconv.FormatInt(u.ID, 10)
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, u.ID); err != nil {
		return err
	}
	if !exists {
		return domain.NotFound(domain.EntityUser, key)
	}
	return domain.ConcurrentModification(key)
}

func replaceRoles(ctx context.Context, tx *sqlx.Tx, userID int64, roles domain.RoleSet) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, kind := range roles.Kinds() {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, id FROM roles WHERE name = $2
		`, userID, string(kind))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.NotFound(domain.EntityRole, kind.String())
		}
	}
	return nil
}

func findUser(ctx context.Context, q sqlx.QueryerContext, column, value string, withRoles bool) (*domain.User, error) {
	if !withRoles {
		var row userRow
		if err := sqlx.GetContext(ctx, q, &row, fmt.Sprintf(selectUser, column), value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domain.NotFound(domain.EntityUser, value)
			}
			return nil, fmt.Errorf("find user by %s: %w", column, err)
		}
		return row.toDomain(), nil
	}

	var rows []userRow
	if err := sqlx.SelectContext(ctx, q, &rows, fmt.Sprintf(selectUserWithRoles, column), value); err != nil {
		return nil, fmt.Errorf("find user with roles by %s: %w", column, err)
	}
	if len(rows) == 0 {
		return nil, domain.NotFound(domain.EntityUser, value)
	}

	user := rows[0].toDomain()
	user.Roles = make(domain.RoleSet, len(rows))
	for _, r := range rows {
		if !r.RoleID.Valid {
			continue
		}
		kind := domain.RoleKind(r.RoleName.String)
		user.Roles[kind] = domain.Role{ID: r.RoleID.Int64, Kind: kind, Description: r.RoleDescription.String}
	}
	return user, nil
}

func (r userRow) toDomain() *domain.User {
	u := &domain.User{
		ID:         r.ID,
		ExternalID: r.GoogleID,
		Email:      r.Email,
		Name:       r.Name.String,
		Picture:    r.Picture.String,
		CreatedAt:  r.CreatedAt.UTC(),
		Version:    r.Version,
	}
	if r.UpdatedAt.Valid {
		u.UpdatedAt = r.UpdatedAt.Time.UTC()
	}
	return u
}

// translate maps constraint, length and serialization failures to domain
// errors; anything else is wrapped as an internal failure.
func translate(err error, u *domain.User) error {
	if domain.KindOf(err) != 0 {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			if pqErr.Constraint == constraintGoogleIDUnique {
				return domain.DuplicateIdentity(u.ExternalID)
			}
			return domain.DuplicateIdentity(u.Email)
		case codeStringTooLong:
			field := pqErr.Column
			if field == "" {
				field = "user"
			}
			return domain.ValidationFailure(field, pqErr)
		case codeSerializationFailure, codeDeadlockDetected:
			return domain.ConcurrentModification(strconv.FormatInt(u.ID, 10))
		}
	}
	return fmt.Errorf("save user: %w", err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
