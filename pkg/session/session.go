// Package session manages session records: anonymous creation under the
// placeholder tenant namespace, authenticated creation, and the one-way
// upgrade that migrates a session into its tenant's namespace.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/state"
	"github.com/weftworks/weft/pkg/wal"
)

// Session is one session record. TenantID is empty while anonymous and
// immutable once set by upgrade or authenticated creation.
type Session struct {
	SessionID         string                 `json:"session_id"`
	TenantID          string                 `json:"tenant_id,omitempty"`
	UserID            string                 `json:"user_id,omitempty"`
	IsAnonymous       bool                   `json:"is_anonymous"`
	ExecutionContract map[string]interface{} `json:"execution_contract,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	UpgradedAt        *time.Time             `json:"upgraded_at,omitempty"`
	LastActivityAt    time.Time              `json:"last_activity_at"`
	// Token is minted on create and upgrade and handed to the caller; it is
	// never part of the persisted record.
	Token string `json:"session_token,omitempty"`
}

// Options tune a Manager at construction.
type Options struct {
	Clock clock.Clock
	// Tokens, when wired, mints a signed session token on create and
	// upgrade.
	Tokens *TokenManager
}

// Manager is the session lifecycle service.
type Manager struct {
	state  *state.Surface
	wal    *wal.Log
	clock  clock.Clock
	tokens *TokenManager
	logger *slog.Logger
}

// NewManager wires the manager over the state surface and the WAL; both are
// required.
func NewManager(surface *state.Surface, log *wal.Log, opts Options) (*Manager, error) {
	if surface == nil {
		return nil, fault.NotWired("session-manager", "state surface")
	}
	if log == nil {
		return nil, fault.NotWired("session-manager", "write-ahead log")
	}
	return &Manager{
		state:  surface,
		wal:    log,
		clock:  opts.Clock,
		tokens: opts.Tokens,
		logger: slog.Default().With("component", "session-manager"),
	}, nil
}

// mintToken attaches a signed token to s when a token manager is wired. The
// record already landed; a minting failure must not lose the session.
func (m *Manager) mintToken(ctx context.Context, s *Session) {
	if m.tokens == nil {
		return
	}
	token, err := m.tokens.Issue(ctx, s)
	if err != nil {
		m.logger.WarnContext(ctx, "session token minting failed",
			"session_id", s.SessionID, "error", err)
		return
	}
	s.Token = token
}

// CreateAnonymous opens a session in the anonymous namespace.
func (m *Manager) CreateAnonymous(ctx context.Context, contract, metadata map[string]interface{}) (*Session, error) {
	now := m.clock.Now()
	s := &Session{
		SessionID:         clock.NewSessionID(),
		IsAnonymous:       true,
		ExecutionContract: contract,
		Metadata:          metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastActivityAt:    now,
	}
	if err := m.put(ctx, "", s); err != nil {
		return nil, err
	}
	m.walAppend(ctx, wal.EventSessionCreated, state.AnonTenant, map[string]interface{}{
		"session_id":   s.SessionID,
		"is_anonymous": true,
	})
	m.mintToken(ctx, s)
	return s, nil
}

// CreateAuthenticated opens a session already bound to a tenant. A caller
// supplied session id is honored; absent it is generated.
func (m *Manager) CreateAuthenticated(ctx context.Context, tenantID, userID, sessionID string, contract, metadata map[string]interface{}) (*Session, error) {
	if tenantID == "" {
		return nil, fault.Validation("tenant id is required")
	}
	if sessionID == "" {
		sessionID = clock.NewSessionID()
	}
	now := m.clock.Now()
	s := &Session{
		SessionID:         sessionID,
		TenantID:          tenantID,
		UserID:            userID,
		IsAnonymous:       false,
		ExecutionContract: contract,
		Metadata:          metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastActivityAt:    now,
	}
	if err := m.put(ctx, tenantID, s); err != nil {
		return nil, err
	}
	m.walAppend(ctx, wal.EventSessionCreated, tenantID, map[string]interface{}{
		"session_id":   s.SessionID,
		"user_id":      userID,
		"is_anonymous": false,
	})
	m.mintToken(ctx, s)
	return s, nil
}

// Upgrade migrates an anonymous session into tenantID's namespace: same
// session id, anonymity cleared, anonymous key purged after the tenant copy
// lands. Only an anonymous session can upgrade.
func (m *Manager) Upgrade(ctx context.Context, sessionID, userID, tenantID string, metadata map[string]interface{}) (*Session, error) {
	if tenantID == "" {
		return nil, fault.Validation("tenant id is required")
	}
	if userID == "" {
		return nil, fault.Validation("user id is required")
	}

	s, err := m.Get(ctx, sessionID, "")
	if err != nil {
		return nil, err
	}
	if !s.IsAnonymous {
		return nil, fault.Validation("session %q is already upgraded", sessionID)
	}

	now := m.clock.Now()
	s.TenantID = tenantID
	s.UserID = userID
	s.IsAnonymous = false
	s.UpgradedAt = &now
	s.UpdatedAt = now
	s.LastActivityAt = now
	for k, v := range metadata {
		if s.Metadata == nil {
			s.Metadata = map[string]interface{}{}
		}
		s.Metadata[k] = v
	}

	if err := m.put(ctx, tenantID, s); err != nil {
		return nil, err
	}
	// Copy landed; purge the anonymous key. A failure here leaves a stale
	// anonymous record behind, which the TTL reaps.
	if err := m.state.DeleteState(ctx, state.SessionKey(state.AnonTenant, sessionID)); err != nil {
		m.logger.WarnContext(ctx, "anonymous key purge failed after upgrade",
			"session_id", sessionID, "error", err)
	}

	m.walAppend(ctx, wal.EventSessionUpgraded, tenantID, map[string]interface{}{
		"session_id": sessionID,
		"user_id":    userID,
		"from":       state.AnonTenant,
	})
	m.mintToken(ctx, s)
	return s, nil
}

// Get reads a session. An empty tenant id consults only the anonymous
// namespace; a tenant id only that tenant's. Cross-tenant reads surface as
// not found.
func (m *Manager) Get(ctx context.Context, sessionID, tenantID string) (*Session, error) {
	doc, err := m.state.GetSessionState(ctx, tenantID, sessionID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fault.NotFound("session-manager", "session %q not found", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return fromDoc(doc)
}

// TouchActivity bumps the session's last-activity timestamp. Missing
// sessions are ignored; activity tracking never fails an execution.
func (m *Manager) TouchActivity(ctx context.Context, tenantID, sessionID string) {
	s, err := m.Get(ctx, sessionID, tenantID)
	if err != nil {
		return
	}
	s.LastActivityAt = m.clock.Now()
	s.UpdatedAt = s.LastActivityAt
	if err := m.put(ctx, tenantID, s); err != nil {
		m.logger.WarnContext(ctx, "session activity write failed",
			"session_id", sessionID, "error", err)
	}
}

func (m *Manager) put(ctx context.Context, tenantID string, s *Session) error {
	doc, err := toDoc(s)
	if err != nil {
		return err
	}
	return m.state.SetSessionState(ctx, tenantID, s.SessionID, doc, state.Meta{})
}

// walAppend records a session event; a degraded WAL already buffered it and
// a hard failure must not lose the session itself.
func (m *Manager) walAppend(ctx context.Context, eventType wal.EventType, tenantID string, payload map[string]interface{}) {
	if _, err := m.wal.Append(ctx, eventType, tenantID, payload); err != nil {
		m.logger.WarnContext(ctx, "session event append failed",
			"event_type", eventType, "error", err)
	}
}

func toDoc(s *Session) (map[string]interface{}, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fault.Validation("session not serializable: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fault.Validation("session not serializable: %v", err)
	}
	return doc, nil
}

func fromDoc(doc map[string]interface{}) (*Session, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fault.BackendUnavailable("session-manager", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fault.BackendUnavailable("session-manager", err)
	}
	return &s, nil
}
