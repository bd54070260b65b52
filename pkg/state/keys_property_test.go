package state

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// identifier generates ids the way the fabric mints them: non-empty,
// colon-free alphanumerics with dashes.
func identifier() gopter.Gen {
	return gen.RegexMatch(`[a-z0-9][a-z0-9-]{0,30}`)
}

func TestKeyGrammarProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("TenantOf recovers the tenant from every key shape", prop.ForAll(
		func(tenant, a, b string) bool {
			return TenantOf(ExecutionKey(tenant, a)) == tenant &&
				TenantOf(SessionKey(tenant, a)) == tenant &&
				TenantOf(ArtifactKey(tenant, a)) == tenant &&
				TenantOf(FileKey(tenant, a, b)) == tenant &&
				TenantOf(IdempotencyKey(tenant, a, b)) == tenant
		},
		identifier(), identifier(), identifier(),
	))

	properties.Property("keys from distinct tenants never collide", prop.ForAll(
		func(t1, t2, id string) bool {
			if t1 == t2 {
				return true
			}
			return ExecutionKey(t1, id) != ExecutionKey(t2, id) &&
				SessionKey(t1, id) != SessionKey(t2, id) &&
				ArtifactKey(t1, id) != ArtifactKey(t2, id)
		},
		identifier(), identifier(), identifier(),
	))

	properties.Property("every key starts with its kind prefix", prop.ForAll(
		func(tenant, id string) bool {
			return strings.HasPrefix(ExecutionKey(tenant, id), "execution:") &&
				strings.HasPrefix(SessionKey(tenant, id), "session:") &&
				strings.HasPrefix(ArtifactKey(tenant, id), "artifact:")
		},
		identifier(), identifier(),
	))

	properties.TestingRun(t)
}
