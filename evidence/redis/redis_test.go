package redis

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/evidence"
)

func TestStore_KeysAreScopedPerRequest(t *testing.T) {
	s := NewFromClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	r := s.ForRequest("req-1")

	assert.Equal(t, "agentplan:evidence:req-1:seq", r.seqKey())
	assert.Equal(t, "agentplan:evidence:req-1:ids", r.idsKey())
	assert.Equal(t, "agentplan:evidence:req-1:item:E3", r.itemKey("E3"))
	require.NoError(t, s.Close())
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

// TestStore_RoundTrip runs against a live server when AGENTPLAN_REDIS_ADDR is set.
func TestStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("AGENTPLAN_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTPLAN_REDIS_ADDR not set")
	}
	ctx := context.Background()
	base, err := New(ctx, Config{Address: addr, Prefix: "agentplan:test:" + core.NewID()})
	require.NoError(t, err)
	defer base.Close()
	s := base.ForRequest("r1")

	a, err := s.Append(ctx, core.EvidenceItem{SourceRef: "a", Content: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, "E1", a.ID)
	_, err = s.Append(ctx, core.EvidenceItem{SourceRef: "b", Content: "beta"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Content)

	_, err = s.Get(ctx, "E9")
	assert.ErrorIs(t, err, evidence.ErrNotFound)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
