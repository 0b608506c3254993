package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/auth"
)

// APIKeyHeader carries the client's API key.
const APIKeyHeader = "api_key"

type apiKeyCtxKey struct{}

// APIKeyFromContext returns the key that authenticated the request.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// Security authenticates requests via HMAC-SHA256 hashed API keys.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and HMAC
// pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{apikeys: apikeys, pepper: pepper}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored in the
// api_keys table.
func HashKey(pepper []byte, key string) string {
	return hex.EncodeToString(keyMAC(pepper, key))
}

func keyMAC(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// authenticate computes the HMAC of the provided key, looks it up and
// compares the stored hash in constant time.
func (s *Security) authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errors.New("missing api key")
	}
	hash := keyMAC(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, err
	}

	// The stored row must match what we computed, not just what we asked for.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errors.Wrap(err, "decode stored hash")
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, errors.New("hash mismatch")
	}
	return info, nil
}

// Require returns a middleware admitting only keys granted scope.
func (s *Security) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := s.authenticate(ctx, r.Header.Get(APIKeyHeader))
			if err != nil {
				if !errors.Is(err, auth.ErrKeyNotFound) {
					zctx.From(ctx).Debug("Authentication failed", zap.Error(err))
				}
				deny(w, http.StatusUnauthorized, "unauthorized", "invalid or missing api key")
				return
			}
			if !info.HasScope(scope) {
				deny(w, http.StatusForbidden, "forbidden", "api key lacks scope "+scope)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, apiKeyCtxKey{}, info)))
		})
	}
}

func deny(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			str(e, "kind", kind)
			str(e, "message", msg)
		})
	})
}
