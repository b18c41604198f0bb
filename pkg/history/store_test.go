package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/visionfix/pkg/calibration"
)

func result(id string, completed time.Time, accuracy float64) calibration.Result {
	return calibration.Result{
		SessionID:        id,
		StartedAt:        completed.Add(-10 * time.Second),
		CompletedAt:      completed,
		AccuracyEstimate: accuracy,
		MeanError:        (1 - accuracy) * 0.5,
		Samples:          40,
	}
}

func TestRecordAndListNewestFirst(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, "Default", result("a", base, 0.8)))
	require.NoError(t, store.Record(ctx, "reading", result("b", base.Add(time.Minute), 0.6)))
	require.NoError(t, store.Record(ctx, "Default", result("c", base.Add(2*time.Minute), 0.9)))

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].SessionID, all[1].SessionID, all[2].SessionID})

	onlyDefault, err := store.List(ctx, ListOptions{Profile: "Default", Limit: 1})
	require.NoError(t, err)
	require.Len(t, onlyDefault, 1)
	got := onlyDefault[0].Result()
	assert.Equal(t, "c", got.SessionID)
	assert.InDelta(t, 0.9, got.AccuracyEstimate, 1e-9)
	assert.Equal(t, 40, got.Samples)
	assert.True(t, got.CompletedAt.Equal(base.Add(2*time.Minute)))
}

func TestRecordSameSessionUpdates(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, "Default", result("s1", at, 0.4)))
	require.NoError(t, store.Record(ctx, "Default", result("s1", at, 0.7)))

	recs, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 0.7, recs[0].AccuracyEstimate, 1e-9)
}

func TestRecordValidationAndClose(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)

	store, err := Open(":memory:")
	require.NoError(t, err)
	require.Error(t, store.Record(context.Background(), "Default", calibration.Result{}))

	require.NoError(t, store.Close())
	require.ErrorIs(t, store.Record(context.Background(), "Default", result("x", time.Now(), 1)), ErrClosed)
	_, err = store.List(context.Background(), ListOptions{})
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, store.Close())
}
