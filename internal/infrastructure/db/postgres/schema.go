package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// The unique constraints on users.email, users.google_id and roles.name are
// what Save and SaveRoleIfAbsent rely on to settle concurrent inserts.
const identitySchema = `
CREATE TABLE IF NOT EXISTS roles (
    id          BIGSERIAL PRIMARY KEY,
    name        VARCHAR(50) NOT NULL,
    description VARCHAR(200),
    CONSTRAINT roles_name_unique UNIQUE (name)
);

CREATE TABLE IF NOT EXISTS users (
    id         BIGSERIAL PRIMARY KEY,
    google_id  VARCHAR(100) NOT NULL,
    email      VARCHAR(100) NOT NULL,
    name       VARCHAR(100),
    picture    VARCHAR(500),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ,
    version    BIGINT NOT NULL DEFAULT 1,
    CONSTRAINT users_email_unique UNIQUE (email),
    CONSTRAINT users_google_id_unique UNIQUE (google_id)
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role_id BIGINT NOT NULL REFERENCES roles(id),
    PRIMARY KEY (user_id, role_id)
);

CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles (role_id);
`

// Migrate applies the identity schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, identitySchema); err != nil {
		return fmt.Errorf("apply identity schema: %w", err)
	}
	return nil
}
