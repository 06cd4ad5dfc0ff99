package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	at := time.Unix(1700000000, 123).UTC()

	s, err := NewRecordStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Upsert(ctx, "http://example.org/", at.Add(-time.Hour)))
	require.NoError(t, s.Upsert(ctx, "http://example.org/", at))
	require.NoError(t, s.Close())

	reopened, err := NewRecordStore(dir)
	require.NoError(t, err)
	require.NoError(t, reopened.Open(ctx))
	t.Cleanup(func() { _ = reopened.Close() })

	got, found, err := reopened.LastCrawl(ctx, "http://example.org/")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, at, got)

	_, found, err = reopened.LastCrawl(ctx, "http://example.org/other")
	require.NoError(t, err)
	require.False(t, found)

	var keys []string
	require.NoError(t, reopened.ForEach(ctx, func(k string) error {
		keys = append(keys, k)
		return nil
	}))
	require.Equal(t, []string{"http://example.org/"}, keys)
}

func TestRecordStoreRequiresOpen(t *testing.T) {
	t.Parallel()

	s, err := NewRecordStore(t.TempDir())
	require.NoError(t, err)
	_, _, err = s.LastCrawl(context.Background(), "x")
	require.Error(t, err)

	_, err = NewRecordStore("")
	require.Error(t, err)
}
