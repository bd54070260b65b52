// Package state exposes the tenant-scoped State Surface: one API over the
// hot (TTL'd) and durable (document) tiers, routed per call by metadata.
package state

import (
	"fmt"
	"strings"
)

// AnonTenant is the placeholder namespace anonymous sessions live under
// until they are upgraded into a real tenant.
const AnonTenant = "anon"

// Key builders. Every stored value is addressed `<kind>:<tenant>:<id>`;
// files carry the owning session as an extra segment. Tenant isolation
// rests on these never being constructed from caller-controlled composites.

func ExecutionKey(tenantID, executionID string) string {
	return fmt.Sprintf("execution:%s:%s", tenantID, executionID)
}

func SessionKey(tenantID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s", tenantID, sessionID)
}

func FileKey(tenantID, sessionID, fileID string) string {
	return fmt.Sprintf("file:%s:%s:%s", tenantID, sessionID, fileID)
}

func ArtifactKey(tenantID, artifactID string) string {
	return fmt.Sprintf("artifact:%s:%s", tenantID, artifactID)
}

func IdempotencyKey(tenantID, intentType, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", tenantID, intentType, key)
}

// TenantOf returns the tenant segment of a key, or "" when the key is
// malformed.
func TenantOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

// tenantOrAnon maps an absent tenant id onto the anonymous namespace.
func tenantOrAnon(tenantID string) string {
	if tenantID == "" {
		return AnonTenant
	}
	return tenantID
}
