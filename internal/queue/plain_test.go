package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

func TestPlainQueueIgnoresHosts(t *testing.T) {
	t.Parallel()

	q := NewPlainQueue(&fakeClock{now: time.Unix(1000, 0)}, 0)
	require.NoError(t, q.AddURI(at("http://a.example/1", "192.0.2.1"), time.Time{}))
	require.NoError(t, q.AddURI(at("http://a.example/2", "192.0.2.1"), time.Time{}))
	require.NoError(t, q.AddURI(uri.MustNew("http://unresolved.example/"), time.Time{}))

	assert.Equal(t, []string{"http://a.example/1", "http://a.example/2", "http://unresolved.example/"}, uris(q.NextURIs()))
	assert.Zero(t, q.PendingCount())
	assert.Empty(t, q.NextURIs())

	var _ Queue = q
	_, hostAware := any(q).(HostAware)
	assert.False(t, hostAware)
}

func TestPlainQueueHonoursDatesAndBatchSize(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	q := NewPlainQueue(clock, 2)
	require.NoError(t, q.AddURI(uri.MustNew("http://a/later"), clock.Now().Add(time.Hour)))
	for _, raw := range []string{"http://a/1", "http://a/2", "http://a/3"} {
		require.NoError(t, q.AddURI(uri.MustNew(raw), time.Time{}))
	}

	assert.Equal(t, []string{"http://a/1", "http://a/2"}, uris(q.NextURIs()))
	assert.Equal(t, []string{"http://a/3"}, uris(q.NextURIs()))
	assert.Empty(t, q.NextURIs())

	clock.Advance(time.Hour)
	assert.Equal(t, []string{"http://a/later"}, uris(q.NextURIs()))

	require.NoError(t, q.AddURI(uri.MustNew("http://a/x"), time.Time{}))
	require.NoError(t, q.Close())
	assert.Zero(t, q.PendingCount())
}
