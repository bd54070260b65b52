package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/retry"
	"github.com/weftworks/weft/pkg/state/docstore"
	"github.com/weftworks/weft/pkg/state/hotkv"
)

// Strategy selects which tiers a write lands in and, implicitly, how a read
// degrades when the hot tier is down.
type Strategy string

const (
	StrategyHot     Strategy = "hot"
	StrategyDurable Strategy = "durable"
	StrategyTiered  Strategy = "tiered"
)

// Meta accompanies every store call. A zero TTL applies the surface default
// for the resource kind.
type Meta struct {
	Strategy Strategy
	TTL      time.Duration
}

// ErrNotFound is returned when a key is absent from every consulted tier.
var ErrNotFound = errors.New("state: not found")

// Options tune a Surface at construction.
type Options struct {
	// UseMemory substitutes in-memory tiers for absent backends. Tests
	// and local demos only; without it a missing backend is a wiring
	// contract failure.
	UseMemory    bool
	ExecutionTTL time.Duration
	SessionTTL   time.Duration
	FileTTL      time.Duration
}

// Surface is the tenant-scoped state API. Reads consult hot first and fall
// through to durable on miss; values found only in durable stay there
// (rehydration is a policy call the surface does not make).
type Surface struct {
	hot     hotkv.Store
	durable docstore.Store
	opts    Options
	policy  retry.Policy
	logger  *slog.Logger
}

// New builds a Surface over the given tiers. Either tier may be nil only
// when opts.UseMemory is set.
func New(hot hotkv.Store, durable docstore.Store, opts Options) (*Surface, error) {
	if hot == nil {
		if !opts.UseMemory {
			return nil, fault.NotWired("state surface", "hot key/value backend")
		}
		hot = hotkv.NewMemoryStore()
	}
	if durable == nil {
		if !opts.UseMemory {
			return nil, fault.NotWired("state surface", "durable document backend")
		}
		durable = docstore.NewMemoryStore()
	}
	if opts.ExecutionTTL == 0 {
		opts.ExecutionTTL = 1 * time.Hour
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.FileTTL == 0 {
		opts.FileTTL = 24 * time.Hour
	}
	return &Surface{
		hot:     hot,
		durable: durable,
		opts:    opts,
		policy:  retry.DefaultPolicy(),
		logger:  slog.Default().With("component", "state-surface"),
	}, nil
}

// Durable exposes the durable tier for components that own their own key
// layout on it (the artifact registry).
func (s *Surface) Durable() docstore.Store { return s.durable }

// SetExecutionState writes an execution record under the execution key.
func (s *Surface) SetExecutionState(ctx context.Context, tenantID, executionID string, value map[string]interface{}, meta Meta) error {
	if meta.TTL == 0 {
		meta.TTL = s.opts.ExecutionTTL
	}
	return s.set(ctx, ExecutionKey(tenantOrAnon(tenantID), executionID), value, meta)
}

// GetExecutionState reads an execution record, hot tier first.
func (s *Surface) GetExecutionState(ctx context.Context, tenantID, executionID string) (map[string]interface{}, error) {
	return s.get(ctx, ExecutionKey(tenantOrAnon(tenantID), executionID))
}

// SetSessionState writes a session record under the session key. A nil
// tenant id lands the record in the anonymous namespace.
func (s *Surface) SetSessionState(ctx context.Context, tenantID, sessionID string, value map[string]interface{}, meta Meta) error {
	if meta.TTL == 0 {
		meta.TTL = s.opts.SessionTTL
	}
	return s.set(ctx, SessionKey(tenantOrAnon(tenantID), sessionID), value, meta)
}

// GetSessionState reads a session record. Lookup is confined to the single
// namespace the tenant id names; a session created under another tenant is
// invisible here, which is the isolation guarantee.
func (s *Surface) GetSessionState(ctx context.Context, tenantID, sessionID string) (map[string]interface{}, error) {
	return s.get(ctx, SessionKey(tenantOrAnon(tenantID), sessionID))
}

// DeleteState removes key from both tiers.
func (s *Surface) DeleteState(ctx context.Context, key string) error {
	hotErr := s.hot.Delete(ctx, key)
	durErr := s.durable.Delete(ctx, key)
	if hotErr != nil {
		return fault.BackendUnavailable("state-surface", hotErr)
	}
	if durErr != nil {
		return fault.BackendUnavailable("state-surface", durErr)
	}
	return nil
}

// ListExecutions returns recent execution records for tenant from the hot
// tier.
func (s *Surface) ListExecutions(ctx context.Context, tenantID string) ([]map[string]interface{}, error) {
	prefix := fmt.Sprintf("execution:%s:", tenantOrAnon(tenantID))
	keys, err := s.hot.Keys(ctx, prefix)
	if err != nil {
		return nil, fault.BackendUnavailable("state-surface", err)
	}
	out := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		value, err := s.get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// FileMetadata describes a stored file; content lives beside it under the
// same key.
type FileMetadata struct {
	FileID      string `json:"file_id"`
	TenantID    string `json:"tenant_id"`
	SessionID   string `json:"session_id"`
	UIName      string `json:"ui_name"`
	MimeType    string `json:"mime_type"`
	Size        int    `json:"size"`
	ContentHash string `json:"content_hash"`
	StoredAt    string `json:"stored_at"`
}

type fileRecord struct {
	Metadata FileMetadata `json:"metadata"`
	Content  []byte       `json:"content"`
}

// StoreFile persists file content plus metadata under the file key.
func (s *Surface) StoreFile(ctx context.Context, content []byte, md FileMetadata, meta Meta) error {
	if md.FileID == "" {
		return fault.Validation("file id is required")
	}
	if meta.TTL == 0 {
		meta.TTL = s.opts.FileTTL
	}
	record := fileRecord{Metadata: md, Content: content}
	raw, err := json.Marshal(record)
	if err != nil {
		return fault.Validation("file record not serializable: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fault.Validation("file record not serializable: %v", err)
	}
	return s.set(ctx, FileKey(tenantOrAnon(md.TenantID), md.SessionID, md.FileID), doc, meta)
}

// GetFile returns the stored content and metadata.
func (s *Surface) GetFile(ctx context.Context, tenantID, sessionID, fileID string) ([]byte, *FileMetadata, error) {
	doc, err := s.get(ctx, FileKey(tenantOrAnon(tenantID), sessionID, fileID))
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fault.BackendUnavailable("state-surface", err)
	}
	var record fileRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, nil, fault.BackendUnavailable("state-surface", err)
	}
	return record.Content, &record.Metadata, nil
}

// GetFileMetadata returns metadata without the content bytes.
func (s *Surface) GetFileMetadata(ctx context.Context, tenantID, sessionID, fileID string) (*FileMetadata, error) {
	_, md, err := s.GetFile(ctx, tenantID, sessionID, fileID)
	return md, err
}

// DeleteFile removes a stored file from both tiers.
func (s *Surface) DeleteFile(ctx context.Context, tenantID, sessionID, fileID string) error {
	return s.DeleteState(ctx, FileKey(tenantOrAnon(tenantID), sessionID, fileID))
}

// set routes a write per meta.Strategy. An empty strategy means tiered: the
// hot copy serves reads inside the TTL window, the durable copy survives it.
func (s *Surface) set(ctx context.Context, key string, value map[string]interface{}, meta Meta) error {
	strategy := meta.Strategy
	if strategy == "" {
		strategy = StrategyTiered
	}

	if strategy == StrategyHot || strategy == StrategyTiered {
		raw, err := json.Marshal(value)
		if err != nil {
			return fault.Validation("state value not serializable: %v", err)
		}
		err = retry.Do(ctx, retry.Params{Component: "state-surface", Operation: "hot-set", Key: key}, s.policy, func() error {
			return s.hot.Set(ctx, key, raw, meta.TTL)
		})
		if err != nil {
			if strategy == StrategyHot {
				return fault.BackendUnavailable("state-surface", err)
			}
			// Tiered writes degrade to durable-only when the hot tier
			// is down; the value stays readable, just slower.
			s.logger.WarnContext(ctx, "hot tier write failed, degrading to durable", "key", key, "error", err)
		}
	}

	if strategy == StrategyDurable || strategy == StrategyTiered {
		err := retry.Do(ctx, retry.Params{Component: "state-surface", Operation: "durable-put", Key: key}, s.policy, func() error {
			return s.durable.Put(ctx, key, value)
		})
		if err != nil {
			return fault.BackendUnavailable("state-surface", err)
		}
	}
	return nil
}

// get consults hot then durable. Durable hits are not rehydrated.
func (s *Surface) get(ctx context.Context, key string) (map[string]interface{}, error) {
	raw, err := s.hot.Get(ctx, key)
	if err == nil {
		var value map[string]interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fault.BackendUnavailable("state-surface", err)
		}
		return value, nil
	}
	if !errors.Is(err, hotkv.ErrNotFound) {
		s.logger.WarnContext(ctx, "hot tier read failed, consulting durable", "key", key, "error", err)
	}

	value, err := s.durable.Get(ctx, key)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fault.BackendUnavailable("state-surface", err)
	}
	return value, nil
}
