package realm

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/weftworks/weft/pkg/canonicalize"
	"github.com/weftworks/weft/pkg/clock"
	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/intent"
	"github.com/weftworks/weft/pkg/state"
)

// IntentIngestFile is the intent type the built-in ingest realm handles.
const IntentIngestFile = "ingest-file"

const ingestFileSchema = `{
	"type": "object",
	"required": ["file_hex", "ui_name"],
	"properties": {
		"file_hex":  {"type": "string", "minLength": 2},
		"ui_name":   {"type": "string", "minLength": 1},
		"mime_type": {"type": "string"}
	}
}`

// IngestRealm is the built-in file ingestion realm. It decodes the uploaded
// bytes, persists them through the state surface's file operations, and
// reports the stored file as a content-hashed artifact.
type IngestRealm struct{}

func NewIngestRealm() *IngestRealm { return &IngestRealm{} }

func (r *IngestRealm) Name() string { return "ingest" }

func (r *IngestRealm) DeclareIntents() []string { return []string{IntentIngestFile} }

func (r *IngestRealm) DeclareSchemas() map[string][]byte {
	return map[string][]byte{IntentIngestFile: []byte(ingestFileSchema)}
}

func (r *IngestRealm) Manifest() Manifest {
	return Manifest{Name: "ingest", Version: "1.0.0", Description: "file ingestion"}
}

func (r *IngestRealm) HandleIntent(ctx context.Context, in *intent.Intent, ec *intent.ExecutionContext) (*intent.Result, error) {
	fileHex, _ := in.Parameters["file_hex"].(string)
	uiName, _ := in.Parameters["ui_name"].(string)
	mimeType, _ := in.Parameters["mime_type"].(string)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	content, err := hex.DecodeString(fileHex)
	if err != nil {
		return nil, fault.Validation("file_hex is not valid hex: %v", err)
	}
	if len(content) == 0 {
		return nil, fault.Validation("file content is empty")
	}

	fileID := "file-" + clock.NewID()
	contentHash := canonicalize.Digest(content)
	md := state.FileMetadata{
		FileID:      fileID,
		TenantID:    ec.TenantID,
		SessionID:   ec.SessionID,
		UIName:      uiName,
		MimeType:    mimeType,
		Size:        len(content),
		ContentHash: contentHash,
		StoredAt:    ec.Clock.Now().Format(time.RFC3339),
	}
	if err := ec.State.StoreFile(ctx, content, md, state.Meta{}); err != nil {
		return nil, err
	}

	return &intent.Result{
		Artifacts: map[string]interface{}{
			"file": map[string]interface{}{
				"artifact_type": "file",
				"artifact_id":   fileID,
				"payload":       content,
				"metadata": map[string]interface{}{
					"file_id":      fileID,
					"ui_name":      uiName,
					"mime_type":    mimeType,
					"size":         len(content),
					"content_hash": contentHash,
				},
			},
		},
		Events: []intent.Event{{
			EventID:   clock.NewEventID(),
			EventType: "file.ingested",
			Data: map[string]interface{}{
				"file_id":      fileID,
				"session_id":   ec.SessionID,
				"ui_name":      uiName,
				"size":         len(content),
				"content_hash": contentHash,
			},
		}},
	}, nil
}
