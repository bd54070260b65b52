// Package canonicalize produces deterministic byte representations for
// hashing and content addressing. Structured values go through RFC 8785
// (JCS); text goes through Unicode NFC. Digests use the sha256: prefix
// scheme shared with the artifact payload store.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Payload is a canonicalized value ready for content-addressed storage.
type Payload struct {
	ContentType string `json:"content_type"`
	Bytes       []byte `json:"-"`
	Digest      string `json:"digest"`
	Preview     string `json:"preview"`
}

// JCS returns the RFC 8785 canonical JSON representation of v. The value is
// marshalled first so struct tags apply, then transformed, so key order and
// number formatting are independent of Go's map iteration and encoder.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// Digest computes the sha256:<hex> content address of data.
func Digest(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// CanonicalDigest canonicalizes v and returns its content address.
func CanonicalDigest(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}

// Canonicalize converts a raw value into a Payload. Strings are normalized
// to NFC, raw bytes pass through, everything else is canonical JSON.
func Canonicalize(raw interface{}) (*Payload, error) {
	var canonicalBytes []byte
	var contentType string

	switch v := raw.(type) {
	case string:
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("canonicalize: invalid UTF-8 string")
		}
		contentType = "text/plain"
		canonicalBytes = []byte(norm.NFC.String(v))
	case []byte:
		contentType = "application/octet-stream"
		canonicalBytes = v
	default:
		contentType = "application/json"
		b, err := JCS(v)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: %w", err)
		}
		canonicalBytes = b
	}

	return &Payload{
		ContentType: contentType,
		Bytes:       canonicalBytes,
		Digest:      Digest(canonicalBytes),
		Preview:     preview(canonicalBytes),
	}, nil
}

// preview is a deterministic truncation for logs and registry entries.
func preview(data []byte) string {
	const maxPreviewLen = 50
	if len(data) <= maxPreviewLen {
		return string(data)
	}
	return string(data[:maxPreviewLen]) + "..."
}
