package processor

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

type fakeResolver struct {
	addrs map[string][]netip.Addr
	calls int
}

func (r *fakeResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	r.calls++
	a, ok := r.addrs[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return a, nil
}

func TestResolvePrefersIPv4(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{addrs: map[string][]netip.Addr{
		"example.org": {netip.MustParseAddr("2001:db8::1"), netip.MustParseAddr("192.0.2.1")},
		"v6.example":  {netip.MustParseAddr("2001:db8::2")},
	}}
	p := New(r, 0)

	addr, err := p.ResolveAddress(context.Background(), uri.MustNew("http://example.org/x"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), addr)

	addr, err = p.ResolveAddress(context.Background(), uri.MustNew("http://v6.example/"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8::2"), addr)
}

func TestResolveLiteralSkipsLookup(t *testing.T) {
	t.Parallel()

	r := &fakeResolver{}
	p := New(r, 0)
	addr, err := p.ResolveAddress(context.Background(), uri.MustNew("http://198.51.100.7:8080/"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("198.51.100.7"), addr)
	assert.Zero(t, r.calls)
}

func TestResolveFailures(t *testing.T) {
	t.Parallel()

	p := New(&fakeResolver{addrs: map[string][]netip.Addr{"empty.example": nil}}, 0)

	_, err := p.ResolveAddress(context.Background(), uri.MustNew("http://nowhere.invalid/"))
	require.ErrorIs(t, err, ErrNotResolvable)

	_, err = p.ResolveAddress(context.Background(), uri.MustNew("http://empty.example/"))
	require.ErrorIs(t, err, ErrNotResolvable)

	_, err = p.ResolveAddress(context.Background(), uri.MustNew("urn:isbn:0451450523"))
	require.ErrorIs(t, err, ErrNotResolvable)
}

func TestProcessAttachesAddressAndType(t *testing.T) {
	t.Parallel()

	p := New(&fakeResolver{addrs: map[string][]netip.Addr{
		"example.org": {netip.MustParseAddr("192.0.2.1")},
	}}, 0)
	in := uri.MustNew("http://example.org/data/dump.nt.gz").WithData("k", "v")

	out, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), out.IP)
	assert.Equal(t, uri.TypeDump, out.Type)
	assert.Equal(t, "v", out.GetString("k"))
	assert.False(t, in.Resolved())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   uri.CrawleableURI
		want uri.Type
	}{
		{uri.MustNew("http://dbpedia.org/sparql"), uri.TypeSparql},
		{uri.MustNew("http://example.org/query/SPARQL?query=x"), uri.TypeSparql},
		{uri.MustNew("http://example.org/dump.ttl"), uri.TypeDump},
		{uri.MustNew("https://example.org/archive.tar.bz2"), uri.TypeDump},
		{uri.MustNew("http://example.org/resource/Berlin"), uri.TypeDereferenceable},
		{uri.MustNew("ftp://example.org/resource"), uri.TypeUnknown},
		{uri.MustNew("http://example.org/page").WithData(uri.KeyType, "dump"), uri.TypeDump},
		{uri.MustNew("mailto:a@example.org"), uri.TypeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.in), tc.in.URI)
	}
}
