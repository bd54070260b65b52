package realm

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/weftworks/weft/pkg/artifacts"
	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/intent"
)

// WASMConfig describes an out-of-process realm packaged as a WASM module.
// The binary lives in the artifact payload store; Digest names it and
// BinaryTenant is the namespace it was stored under (platform-owned realms
// ship under a shared tenant, not the caller's).
type WASMConfig struct {
	Name         string
	Version      string
	Intents      []string
	Digest       string
	BinaryTenant string

	// MemoryLimitBytes caps linear memory; wazero rounds down to 64KB
	// pages. Zero means 16MB.
	MemoryLimitBytes uint64
	// CPUTimeLimit bounds one invocation via context deadline. Zero means
	// 30 seconds.
	CPUTimeLimit time.Duration
}

// wasmInput is the JSON document handed to the module on stdin.
type wasmInput struct {
	Intent  *intent.Intent `json:"intent"`
	Context wasmContext    `json:"context"`
}

type wasmContext struct {
	ExecutionID string `json:"execution_id"`
	TenantID    string `json:"tenant_id"`
	SessionID   string `json:"session_id"`
	SolutionID  string `json:"solution_id"`
}

// WASMRealm adapts a sandboxed WASM module to the Realm interface. The
// sandbox is deny-by-default: no filesystem, no network, no environment, no
// clock or randomness imports beyond what WASI stdin/stdout needs. The
// module reads one wasmInput JSON document from stdin and writes one
// intent.Result JSON document to stdout.
type WASMRealm struct {
	cfg     WASMConfig
	cas     artifacts.Store
	runtime wazero.Runtime

	mu       sync.Mutex
	compiled wazero.CompiledModule
}

// NewWASMRealm builds the adapter. The binary is resolved lazily on first
// dispatch so registration stays cheap and a missing blob surfaces as a
// handler failure, not a boot failure.
func NewWASMRealm(ctx context.Context, cfg WASMConfig, cas artifacts.Store) (*WASMRealm, error) {
	if cas == nil {
		return nil, fault.NotWired("wasm-realm", "artifact payload store")
	}
	if cfg.Name == "" {
		return nil, fault.Validation("wasm realm name is required")
	}
	if len(cfg.Intents) == 0 {
		return nil, fault.Validation("wasm realm %q declares no intents", cfg.Name)
	}
	if cfg.Digest == "" {
		return nil, fault.Validation("wasm realm %q has no binary digest", cfg.Name)
	}
	if cfg.BinaryTenant == "" {
		cfg.BinaryTenant = "platform"
	}
	if cfg.MemoryLimitBytes == 0 {
		cfg.MemoryLimitBytes = 16 << 20
	}
	if cfg.CPUTimeLimit == 0 {
		cfg.CPUTimeLimit = 30 * time.Second
	}

	pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
	if pages == 0 {
		pages = 1
	}
	runtimeCfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(pages)
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	return &WASMRealm{cfg: cfg, cas: cas, runtime: r}, nil
}

func (w *WASMRealm) Name() string { return w.cfg.Name }

func (w *WASMRealm) DeclareIntents() []string { return w.cfg.Intents }

func (w *WASMRealm) Manifest() Manifest {
	return Manifest{Name: w.cfg.Name, Version: w.cfg.Version}
}

func (w *WASMRealm) HandleIntent(ctx context.Context, in *intent.Intent, ec *intent.ExecutionContext) (*intent.Result, error) {
	compiled, err := w.compile(ctx)
	if err != nil {
		return nil, err
	}

	input, err := json.Marshal(wasmInput{
		Intent: in,
		Context: wasmContext{
			ExecutionID: ec.ExecutionID,
			TenantID:    ec.TenantID,
			SessionID:   ec.SessionID,
			SolutionID:  ec.SolutionID,
		},
	})
	if err != nil {
		return nil, fault.Validation("wasm input not serializable: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.CPUTimeLimit)
	defer cancel()

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(w.cfg.Name).
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := w.runtime.InstantiateModule(runCtx, compiled, modCfg)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, fault.HandlerFailed(w.cfg.Name, fault.Validation("wasm execution timed out after %v", w.cfg.CPUTimeLimit))
		}
		return nil, fault.HandlerFailed(w.cfg.Name, err)
	}
	defer mod.Close(ctx)

	if stderr.Len() > 0 {
		return nil, fault.HandlerFailed(w.cfg.Name, fault.Validation("wasm stderr: %s", stderr.String()))
	}

	var result intent.Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fault.HandlerFailed(w.cfg.Name, fault.Validation("wasm output is not a result document: %v", err))
	}
	return result.Normalize(), nil
}

// compile resolves the binary from the payload store by digest and compiles
// it once; later dispatches reuse the compiled module.
func (w *WASMRealm) compile(ctx context.Context) (wazero.CompiledModule, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.compiled != nil {
		return w.compiled, nil
	}
	wasmBytes, err := w.cas.Get(ctx, w.cfg.BinaryTenant, w.cfg.Digest)
	if err != nil {
		return nil, fault.BackendUnavailable("wasm-realm", err)
	}
	compiled, err := w.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fault.HandlerFailed(w.cfg.Name, err)
	}
	w.compiled = compiled
	return compiled, nil
}

// Close releases the wazero runtime.
func (w *WASMRealm) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.runtime.Close(ctx)
}
