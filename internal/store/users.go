package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/google/uuid"
)

func (s *Store) CreateWorkspace(ctx context.Context, name string, ownerID uuid.UUID) (*model.Workspace, error) {
	w := &model.Workspace{ID: uuid.New(), Name: name, OwnerID: ownerID, CreatedAt: time.Now()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, owner_id, created_at) VALUES ($1,$2,$3,$4)
	`, w.ID, w.Name, w.OwnerID, w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.New(apperrors.Conflict, "workspace name already in use")
		}
		return nil, wrapDBErr(err)
	}
	return w, nil
}

type CreateUserParams struct {
	WorkspaceID  uuid.UUID
	FullName     string
	Email        string
	PasswordHash string
	Username     string
	IsBot        bool
}

func (s *Store) CreateUser(ctx context.Context, p CreateUserParams) (*model.User, error) {
	u := &model.User{
		ID: uuid.New(), WorkspaceID: p.WorkspaceID, FullName: p.FullName, Email: p.Email,
		PasswordHash: p.PasswordHash, Username: p.Username, Status: model.UserActive,
		IsBot: p.IsBot, CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, workspace_id, full_name, email, password_hash, username, status, is_bot, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, u.ID, u.WorkspaceID, u.FullName, u.Email, u.PasswordHash, nullIfEmpty(u.Username), u.Status, u.IsBot, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.New(apperrors.Conflict, "email or username already in use")
		}
		return nil, wrapDBErr(err)
	}
	return u, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, full_name, email, password_hash, coalesce(username,''), status, is_bot, last_active_at, created_at
		FROM users WHERE email = $1
	`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, full_name, email, password_hash, coalesce(username,''), status, is_bot, last_active_at, created_at
		FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// GetUserByUsername resolves @mentions during message send.
func (s *Store) GetUserByUsername(ctx context.Context, workspaceID uuid.UUID, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, full_name, email, password_hash, coalesce(username,''), status, is_bot, last_active_at, created_at
		FROM users WHERE workspace_id = $1 AND username = $2
	`, workspaceID, username)
	return scanUser(row)
}

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	var lastActive sql.NullTime
	err := row.Scan(&u.ID, &u.WorkspaceID, &u.FullName, &u.Email, &u.PasswordHash, &u.Username,
		&u.Status, &u.IsBot, &lastActive, &u.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	if lastActive.Valid {
		u.LastActiveAt = &lastActive.Time
	}
	return &u, nil
}

func (s *Store) TouchLastActive(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_active_at = now() WHERE id = $1`, userID)
	return wrapDBErr(err)
}
