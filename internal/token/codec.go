// internal/token/codec.go

// Package token issues and resolves the opaque tracking tokens that stand in
// for internal application ids. The token is random, not derived from the id;
// only the hashed mapping row connects the two, so neither citizens nor
// officers can recover the other side's identity from a token alone.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"civigo/internal/common/logger"

	stderrors "civigo/internal/common/errors"

	"github.com/lib/pq"
)

const (
	tokenPrefix = "app_"
	tokenBytes  = 32
)

// encodedLen is the base64url length of tokenBytes random bytes.
var encodedLen = base64.RawURLEncoding.EncodedLen(tokenBytes)

type Codec struct {
	db     *sql.DB
	logger logger.Logger
}

func NewCodec(db *sql.DB, log logger.Logger) *Codec {
	return &Codec{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "token-codec"}),
	}
}

// Issue generates a fresh token for an application and durably persists the
// binding before returning it. Calling Issue twice for the same application
// is a programming error.
func (c *Codec) Issue(ctx context.Context, applicationID int64) (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	tok := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO application_tokens (token_hash, application_id, issued_at)
		VALUES ($1, $2, NOW())`,
		hashToken(tok), applicationID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// unique violation on application_id: second issuance
			return "", stderrors.NewDuplicateTokenIssuanceError(applicationID)
		}
		return "", stderrors.NewQueryExecutionFailedError("token insert", err)
	}

	c.logger.Info("token issued", map[string]interface{}{
		"applicationId": applicationID,
	})
	return tok, nil
}

// Resolve maps a token back to its application id. Structural validation runs
// before any lookup so malformed input never touches the store.
func (c *Codec) Resolve(ctx context.Context, tok string) (int64, error) {
	if err := validateShape(tok); err != nil {
		return 0, err
	}

	var applicationID int64
	err := c.db.QueryRowContext(ctx, `
		SELECT application_id FROM application_tokens WHERE token_hash = $1`,
		hashToken(tok),
	).Scan(&applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, stderrors.NewTokenNotFoundError()
		}
		return 0, stderrors.NewQueryExecutionFailedError("token lookup", err)
	}

	return applicationID, nil
}

func validateShape(tok string) error {
	if !strings.HasPrefix(tok, tokenPrefix) {
		return stderrors.NewTokenMalformedError("missing token prefix")
	}
	body := strings.TrimPrefix(tok, tokenPrefix)
	if len(body) != encodedLen {
		return stderrors.NewTokenMalformedError("wrong token length")
	}
	if _, err := base64.RawURLEncoding.DecodeString(body); err != nil {
		return stderrors.NewTokenMalformedError("invalid token encoding")
	}
	return nil
}

// hashToken derives the lookup key. The raw token is never persisted, so the
// mapping table cannot be reversed into live tokens.
func hashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}
