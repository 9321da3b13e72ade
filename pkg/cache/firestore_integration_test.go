//go:build integration

package cache_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFirestoreSink_Integration runs against the Firestore emulator; the
// client library picks up FIRESTORE_EMULATOR_HOST on its own.
func TestFirestoreSink_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	t.Cleanup(cancel)

	const projectID = "test-project"
	client, err := firestore.NewClient(ctx, projectID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := &cache.FirestoreConfig{
		ProjectID:      projectID,
		CollectionName: "snapshots-" + time.Now().Format("150405.000"),
	}
	sink, err := cache.NewFirestoreSink[json.RawMessage](cfg, client, zerolog.Nop())
	require.NoError(t, err)

	t.Run("Fetch Miss", func(t *testing.T) {
		_, err := sink.Fetch(ctx, types.Organization)
		require.ErrorIs(t, err, cache.ErrSnapshotNotFound)
	})

	t.Run("Store and Fetch", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Millisecond)
		raw := json.RawMessage(`{"login":"Netflix","public_repos":42}`)
		require.NoError(t, sink.Store(ctx, types.Metric[json.RawMessage]{Type: types.Organization, Value: raw, CollectedAt: at}))

		got, err := sink.Fetch(ctx, types.Organization)
		require.NoError(t, err)
		assert.JSONEq(t, string(raw), string(got.Value))
		assert.True(t, at.Equal(got.CollectedAt))
	})

	t.Run("Store replaces the previous snapshot", func(t *testing.T) {
		raw := json.RawMessage(`{"login":"Netflix","public_repos":43}`)
		require.NoError(t, sink.Store(ctx, types.Metric[json.RawMessage]{Type: types.Organization, Value: raw, CollectedAt: time.Now()}))

		got, err := sink.Fetch(ctx, types.Organization)
		require.NoError(t, err)
		assert.JSONEq(t, string(raw), string(got.Value))
	})

	t.Run("Nil client is rejected", func(t *testing.T) {
		_, err := cache.NewFirestoreSink[json.RawMessage](cfg, nil, zerolog.Nop())
		require.Error(t, err)
	})
}
