package api

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/artifacts"
	"github.com/weftworks/weft/pkg/executor"
	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/intent"
	"github.com/weftworks/weft/pkg/outbox"
	"github.com/weftworks/weft/pkg/realm"
	"github.com/weftworks/weft/pkg/session"
	"github.com/weftworks/weft/pkg/state"
	"github.com/weftworks/weft/pkg/steward"
	"github.com/weftworks/weft/pkg/wal"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	surface, err := state.New(nil, nil, state.Options{UseMemory: true})
	require.NoError(t, err)
	log, err := wal.New(nil, wal.Options{UseMemory: true})
	require.NoError(t, err)
	ob, err := outbox.New(nil, outbox.Options{UseMemory: true})
	require.NoError(t, err)
	plane, err := artifacts.NewPlane(nil, surface.Durable(), artifacts.Options{UseMemory: true})
	require.NoError(t, err)
	stew, err := steward.New(steward.Options{QuotaPerSecond: 1000})
	require.NoError(t, err)
	keySet, err := session.NewMemoryKeySet()
	require.NoError(t, err)
	tokens, err := session.NewTokenManager(keySet, nil, time.Hour)
	require.NoError(t, err)
	sessions, err := session.NewManager(surface, log, session.Options{Tokens: tokens})
	require.NoError(t, err)
	idem, err := executor.NewIdempotency(nil, executor.IdempotencyOptions{UseMemory: true})
	require.NoError(t, err)

	registry := intent.NewRegistry()
	schemas := intent.NewSchemaSet()
	realms := realm.NewRegistry(registry, schemas)
	require.NoError(t, realms.Register(realm.NewIngestRealm()))

	ex, err := executor.New(executor.Deps{
		Registry:    registry,
		Schemas:     schemas,
		Steward:     stew,
		Surface:     surface,
		WAL:         log,
		Outbox:      ob,
		Plane:       plane,
		Sessions:    sessions,
		Publisher:   outbox.NewCollectingPublisher(),
		Idempotency: idem,
	}, executor.Options{})
	require.NoError(t, err)

	server, err := NewServer(sessions, ex, plane, "weft-core", "test")
	require.NoError(t, err)
	return server.Handler(NewIdempotencyStore(time.Minute), nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	handler := newTestServer(t)
	rec, body := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "weft-core", body["service"])
}

func TestSessionCreateAndUpgradeFlow(t *testing.T) {
	handler := newTestServer(t)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/session/create",
		map[string]interface{}{}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	sessionID := body["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.NotEmpty(t, body["session_token"])

	// Visible in the anonymous namespace only.
	rec, _ = doJSON(t, handler, http.MethodGet, "/api/session/"+sessionID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, handler, http.MethodGet, "/api/session/"+sessionID+"?tenant_id=t1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = doJSON(t, handler, http.MethodPost, "/api/session/upgrade", map[string]interface{}{
		"session_id": sessionID,
		"user_id":    "user-1",
		"tenant_id":  "t1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", body["tenant_id"])
	assert.Equal(t, false, body["is_anonymous"])
	assert.NotEmpty(t, body["session_token"])

	// Now tenant-scoped; the anonymous handle is gone; other tenants see
	// nothing.
	rec, _ = doJSON(t, handler, http.MethodGet, "/api/session/"+sessionID+"?tenant_id=t1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, handler, http.MethodGet, "/api/session/"+sessionID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = doJSON(t, handler, http.MethodGet, "/api/session/"+sessionID+"?tenant_id=t2", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntentSubmitAndStatus(t *testing.T) {
	handler := newTestServer(t)
	content := []byte("uploaded document body")

	rec, body := doJSON(t, handler, http.MethodPost, "/api/intent/submit", map[string]interface{}{
		"intent_type": realm.IntentIngestFile,
		"tenant_id":   "t1",
		"session_id":  "s1",
		"solution_id": "sol",
		"parameters": map[string]interface{}{
			"file_hex": hex.EncodeToString(content),
			"ui_name":  "doc.txt",
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accepted", body["status"])
	executionID := body["execution_id"].(string)

	rec, body = doJSON(t, handler, http.MethodGet,
		fmt.Sprintf("/api/execution/%s/status?tenant_id=t1&include_artifacts=true", executionID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "succeeded", body["status"])
	inline := body["artifacts"].(map[string]interface{})["file"].(map[string]interface{})
	artifactID := inline["artifact_id"].(string)

	decoded, err := base64.StdEncoding.DecodeString(inline["payload"].(string))
	require.NoError(t, err)
	assert.Equal(t, content, decoded)

	// Direct artifact retrieval returns the same bytes; cross-tenant is 404.
	rec, body = doJSON(t, handler, http.MethodGet, "/api/artifacts/"+artifactID+"?tenant_id=t1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decoded, err = base64.StdEncoding.DecodeString(body["payload_base64"].(string))
	require.NoError(t, err)
	assert.Equal(t, content, decoded)

	rec, _ = doJSON(t, handler, http.MethodGet, "/api/artifacts/"+artifactID+"?tenant_id=t2", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitValidationProblemDetail(t *testing.T) {
	handler := newTestServer(t)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/intent/submit", map[string]interface{}{
		"intent_type": "x",
		"session_id":  "s1",
		"solution_id": "sol",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, string(fault.KindValidation), body["kind"])
	assert.Contains(t, body["detail"], "tenant")
}

func TestSubmitUnknownIntentStillAccepted(t *testing.T) {
	handler := newTestServer(t)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/intent/submit", map[string]interface{}{
		"intent_type": "no-such-intent",
		"tenant_id":   "t1",
		"session_id":  "s1",
		"solution_id": "sol",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	executionID := body["execution_id"].(string)

	rec, body = doJSON(t, handler, http.MethodGet,
		fmt.Sprintf("/api/execution/%s/status?tenant_id=t1", executionID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", body["status"])
	assert.Contains(t, body["error"], "no handler")
}

func TestIdempotencyKeyHeaderReplays(t *testing.T) {
	handler := newTestServer(t)
	payload := map[string]interface{}{
		"intent_type": realm.IntentIngestFile,
		"tenant_id":   "t1",
		"session_id":  "s1",
		"solution_id": "sol",
		"parameters": map[string]interface{}{
			"file_hex": "deadbeef",
			"ui_name":  "x.bin",
		},
	}
	headers := map[string]string{"Idempotency-Key": "req-42"}

	rec1, body1 := doJSON(t, handler, http.MethodPost, "/api/intent/submit", payload, headers)
	require.Equal(t, http.StatusOK, rec1.Code)
	rec2, body2 := doJSON(t, handler, http.MethodPost, "/api/intent/submit", payload, headers)
	require.Equal(t, http.StatusOK, rec2.Code)

	assert.Equal(t, body1["execution_id"], body2["execution_id"])
	assert.Equal(t, "true", rec2.Header().Get("Idempotent-Replayed"))
}

func TestVisualNotFound(t *testing.T) {
	handler := newTestServer(t)
	rec, _ := doJSON(t, handler, http.MethodGet, "/api/artifacts/visual/t1/missing.png?tenant_id=t1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(nil, nil, nil, "weft-core", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), fault.ContractMarker)
}
