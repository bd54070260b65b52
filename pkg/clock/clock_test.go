package clock

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemClockIsUTC(t *testing.T) {
	now := System().Now()
	assert.Equal(t, time.UTC, now.Location())
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	c := Fixed(at)

	got := c.Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(at))
	assert.Equal(t, got, c.Now(), "fixed clock must not advance")
}

func TestNilClockFallsBack(t *testing.T) {
	var c Clock
	before := time.Now().UTC()
	got := c.Now()
	require.False(t, got.Before(before.Add(-time.Second)))
	assert.Equal(t, time.UTC, got.Location())
}

func TestIDPrefixes(t *testing.T) {
	cases := []struct {
		prefix string
		gen    func() string
	}{
		{"evt-", NewEventID},
		{"exec-", NewExecutionID},
		{"sess-", NewSessionID},
		{"int-", NewIntentID},
		{"art-", NewArtifactID},
	}
	for _, tc := range cases {
		id := tc.gen()
		assert.True(t, strings.HasPrefix(id, tc.prefix), "id %q", id)
		assert.NotEqual(t, id, tc.gen(), "ids must be unique")
	}
}
