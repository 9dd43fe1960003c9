package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/google/uuid"
)

type IssueRefreshParams struct {
	UserID            uuid.UUID
	TokenHash         string
	DeviceFingerprint string
	TTL               time.Duration
	AbsoluteTTL       time.Duration
}

func (s *Store) IssueRefreshCredential(ctx context.Context, p IssueRefreshParams) (*model.RefreshCredential, error) {
	now := time.Now()
	rc := &model.RefreshCredential{
		ID: uuid.New(), UserID: p.UserID, TokenHash: p.TokenHash, DeviceFingerprint: p.DeviceFingerprint,
		IssuedAt: now, ExpiresAt: now.Add(p.TTL), AbsoluteExpiresAt: now.Add(p.AbsoluteTTL),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_credentials (id, user_id, token_hash, device_fingerprint, issued_at, expires_at, absolute_expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rc.ID, rc.UserID, rc.TokenHash, rc.DeviceFingerprint, rc.IssuedAt, rc.ExpiresAt, rc.AbsoluteExpiresAt)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	return rc, nil
}

func (s *Store) GetRefreshCredentialByHash(ctx context.Context, tokenHash string) (*model.RefreshCredential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, device_fingerprint, issued_at, expires_at, absolute_expires_at, revoked, replaced_by
		FROM refresh_credentials WHERE token_hash = $1
	`, tokenHash)
	return scanRefresh(row)
}

func scanRefresh(row scanner) (*model.RefreshCredential, error) {
	var rc model.RefreshCredential
	var replacedBy sql.NullString
	err := row.Scan(&rc.ID, &rc.UserID, &rc.TokenHash, &rc.DeviceFingerprint, &rc.IssuedAt,
		&rc.ExpiresAt, &rc.AbsoluteExpiresAt, &rc.Revoked, &replacedBy)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	if replacedBy.Valid {
		id, perr := uuid.Parse(replacedBy.String)
		if perr == nil {
			rc.ReplacedBy = &id
		}
	}
	return &rc, nil
}

// RotateRefreshCredential atomically revokes old and issues new. The old
// row is locked with SELECT ... FOR UPDATE and revoked by an UPDATE guarded
// by `revoked = false` whose affected-row count is checked, so two
// concurrent rotations of the same token can't both succeed (spec.md §9).
// Reuse of an already-revoked token is a hard failure that revokes every
// credential the user holds (spec.md §4.1).
func (s *Store) RotateRefreshCredential(ctx context.Context, oldTokenHash string, p IssueRefreshParams) (*model.RefreshCredential, error) {
	var newCred *model.RefreshCredential
	reuse := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var oldID, userID uuid.UUID
		var revoked bool
		var absoluteExpires time.Time
		e := tx.QueryRowContext(ctx, `
			SELECT id, user_id, revoked, absolute_expires_at FROM refresh_credentials
			WHERE token_hash = $1 FOR UPDATE
		`, oldTokenHash).Scan(&oldID, &userID, &revoked, &absoluteExpires)
		if e != nil {
			return wrapDBErr(e)
		}

		if revoked {
			if _, e := tx.ExecContext(ctx, `
				UPDATE refresh_credentials SET revoked = true WHERE user_id = $1 AND revoked = false
			`, userID); e != nil {
				return wrapDBErr(e)
			}
			// Commit the revocation; the reuse failure is returned below.
			reuse = true
			return nil
		}

		if time.Now().After(absoluteExpires) {
			return apperrors.New(apperrors.TokenExpired, "refresh token past absolute expiry")
		}

		newID := uuid.New()
		now := time.Now()
		if _, e := tx.ExecContext(ctx, `
			INSERT INTO refresh_credentials (id, user_id, token_hash, device_fingerprint, issued_at, expires_at, absolute_expires_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, newID, userID, p.TokenHash, p.DeviceFingerprint, now, now.Add(p.TTL), absoluteExpires); e != nil {
			return wrapDBErr(e)
		}

		res, e := tx.ExecContext(ctx, `
			UPDATE refresh_credentials SET revoked = true, replaced_by = $2
			WHERE id = $1 AND revoked = false
		`, oldID, newID)
		if e != nil {
			return wrapDBErr(e)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.New(apperrors.TokenInvalid, "concurrent refresh rotation detected")
		}

		newCred = &model.RefreshCredential{
			ID: newID, UserID: userID, TokenHash: p.TokenHash, DeviceFingerprint: p.DeviceFingerprint,
			IssuedAt: now, ExpiresAt: now.Add(p.TTL), AbsoluteExpiresAt: absoluteExpires,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reuse {
		return nil, apperrors.New(apperrors.TokenInvalid, "refresh token reuse detected; all credentials revoked")
	}
	return newCred, nil
}

func (s *Store) RevokeAllRefreshCredentials(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_credentials SET revoked = true WHERE user_id = $1`, userID)
	return wrapDBErr(err)
}
