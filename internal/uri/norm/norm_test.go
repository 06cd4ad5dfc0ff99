package norm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

func TestCanonicalRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fragment", "http://www.example.com/bar.html#section1", "http://www.example.com/bar.html"},
		{"query order", "http://www.example.com/display?lang=en&article=fred", "http://www.example.com/display?article=fred&lang=en"},
		{"query duplicates", "http://www.example.com/?b=1&a=2&a=1", "http://www.example.com/?a=1&a=2&b=1"},
		{"default http port", "http://www.example.com:80/bar.html", "http://www.example.com/bar.html"},
		{"default https port", "https://www.example.com:443/", "https://www.example.com/"},
		{"non-default port kept", "http://www.example.com:8080/", "http://www.example.com:8080/"},
		{"dot segments", "http://www.example.com/../a/b/../c/./d.html", "http://www.example.com/a/c/d.html"},
		{"trailing dot dot", "http://www.example.com/a/b/..", "http://www.example.com/a/"},
		{"unreserved escapes", "http://www.example.com/%7Eusername/", "http://www.example.com/~username/"},
		{"reserved escapes kept", "http://www.example.com/a%2Fb", "http://www.example.com/a%2Fb"},
		{"empty path", "http://www.example.com", "http://www.example.com/"},
		{"duplicate slashes", "http://www.example.com/foo//bar.html", "http://www.example.com/foo/bar.html"},
		{"empty query", "http://www.example.com/display?", "http://www.example.com/display"},
		{"ipv6 default port", "http://[2001:db8::1]:80/x", "http://[2001:db8::1]/x"},
		{"already canonical", "http://www.example.com/a?x=1", "http://www.example.com/a?x=1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, _, err := Canonical(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"http://www.example.com:80/a/./b/../c//d?z=1&y=2#frag",
		"https://Example.org/%7efoo/?",
		"http://example.org",
		"mailto:someone@example.org",
	}
	for _, in := range inputs {
		once, _, err := Canonical(in)
		require.NoError(t, err)
		twice, changed, err := Canonical(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, in)
		assert.False(t, changed, in)
	}
}

func TestCanonicalRejectsRepeatedPorts(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"http://h.example:80:80", "http://h.example:80:80/a", "https://[2001:db8::1]:443:443/"} {
		got, changed, err := Canonical(in)
		require.Error(t, err, in)
		assert.Equal(t, in, got)
		assert.False(t, changed)
	}

	n := New(nil)
	in := uri.CrawleableURI{URI: "http://h.example:80:80"}
	once := n.Normalize(in)
	assert.Equal(t, in, once)
	assert.Equal(t, once, n.Normalize(once))
}

func TestNormalizeKeepsMetadata(t *testing.T) {
	t.Parallel()

	n := New(nil)
	in := uri.MustNew("http://example.org:80/x#y").WithData(uri.KeyType, "seed")
	in.Type = uri.TypeDump

	out := n.Normalize(in)
	assert.Equal(t, "http://example.org/x", out.URI)
	assert.Equal(t, "seed", out.GetString(uri.KeyType))
	assert.Equal(t, uri.TypeDump, out.Type)
	assert.Equal(t, "http://example.org:80/x#y", in.URI)
}

func TestNormalizeUnparseableReturnsInput(t *testing.T) {
	t.Parallel()

	n := New(nil)
	in := uri.CrawleableURI{URI: "http://exa mple.org/%zz"}
	assert.Equal(t, in, n.Normalize(in))
}

func TestDomainVariant(t *testing.T) {
	t.Parallel()

	got, err := DomainVariant("https://a.b.example.co.uk/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.co.uk/", got)

	_, err = DomainVariant("urn:isbn:123")
	assert.Error(t, err)

	_, err = DomainVariant("http://192.0.2.9/x")
	assert.Error(t, err)
}
