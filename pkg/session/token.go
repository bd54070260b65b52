package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/fault"
)

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string `json:"tenant_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// KeySet signs tokens with the current key and verifies against every key
// it still holds, so rotation does not invalidate tokens in flight.
type KeySet interface {
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	KeyFunc() jwt.Keyfunc
}

// MemoryKeySet is an in-process Ed25519 key set with kid rotation.
type MemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]ed25519.PrivateKey
}

func NewMemoryKeySet() (*MemoryKeySet, error) {
	ks := &MemoryKeySet{keys: make(map[string]ed25519.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a fresh signing key and makes it current. Old keys stay
// verifiable; the set is capped at ten.
func (ks *MemoryKeySet) Rotate() error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("session: key generation failed: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	kid := fmt.Sprintf("key-%d", time.Now().UnixNano())
	ks.keys[kid] = priv
	ks.currentKID = kid
	if len(ks.keys) > 10 {
		for k := range ks.keys {
			if k != kid {
				delete(ks.keys, k)
				break
			}
		}
	}
	return nil
}

// DeriveForTenant returns a key set whose signing key is derived from the
// current key's seed via HKDF-SHA256 with the tenant id as info. The same
// tenant always derives the same key, so tenant-issued tokens verify
// without central key distribution.
func (ks *MemoryKeySet) DeriveForTenant(tenantID string) (*MemoryKeySet, error) {
	if tenantID == "" {
		return nil, fault.Validation("tenant id is required for key derivation")
	}
	ks.mu.RLock()
	master := ks.keys[ks.currentKID]
	ks.mu.RUnlock()
	if master == nil {
		return nil, fault.Validation("key set has no active key")
	}

	reader := hkdf.New(sha256.New, master.Seed(), []byte("weft-tenant-kdf"), []byte(tenantID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("session: hkdf derivation failed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)

	derived := &MemoryKeySet{
		currentKID: "tenant-" + tenantID,
		keys:       map[string]ed25519.PrivateKey{"tenant-" + tenantID: priv},
	}
	return derived, nil
}

func (ks *MemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.keys[ks.currentKID]
	kid := ks.currentKID
	ks.mu.RUnlock()
	if key == nil {
		return "", fault.Validation("key set has no active key")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *MemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}
		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return key.Public(), nil
	}
}

// TokenManager mints and validates session tokens.
type TokenManager struct {
	keySet KeySet
	clock  clock.Clock
	ttl    time.Duration
}

// NewTokenManager builds a token manager; zero ttl means 24h.
func NewTokenManager(ks KeySet, c clock.Clock, ttl time.Duration) (*TokenManager, error) {
	if ks == nil {
		return nil, fault.NotWired("token-manager", "signing key set")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{keySet: ks, clock: c, ttl: ttl}, nil
}

// Issue mints a token for s.
func (tm *TokenManager) Issue(ctx context.Context, s *Session) (string, error) {
	now := tm.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.SessionID,
			Subject:   s.SessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
			Issuer:    "weftworks.io/session",
			Audience:  jwt.ClaimStrings{"weft.internal"},
		},
		TenantID:    s.TenantID,
		UserID:      s.UserID,
		IsAnonymous: s.IsAnonymous,
	}
	return tm.keySet.Sign(ctx, claims)
}

// Validate parses token and returns its claims.
func (tm *TokenManager) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, tm.keySet.KeyFunc())
	if err != nil {
		return nil, fault.Authorization("token-manager", "token rejected: %v", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fault.Authorization("token-manager", "token rejected")
	}
	return claims, nil
}
