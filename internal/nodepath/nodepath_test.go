package nodepath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DepthTwo(t *testing.T) {
	got, err := Parse("https://srv.example.com/folder/sub/file.txt", "https://srv.example.com")
	require.NoError(t, err)
	assert.Equal(t, Parsed{ParentPath: "/folder/sub/", Name: "file.txt", Depth: 2}, got)
}

func TestParse_RootOnly(t *testing.T) {
	got, err := Parse("https://srv.example.com/", "https://srv.example.com")
	require.NoError(t, err)
	assert.Equal(t, Parsed{ParentPath: "/", Name: "", Depth: 0}, got)
}

func TestParse_HostOnlyNoSlash(t *testing.T) {
	got, err := Parse("https://srv.example.com", "https://srv.example.com")
	require.NoError(t, err)
	assert.Equal(t, Parsed{ParentPath: "/", Name: "", Depth: 0}, got)
}

func TestParse_SchemelessHostStripped(t *testing.T) {
	got, err := Parse("srv.example.com/folder", "https://srv.example.com")
	require.NoError(t, err)
	assert.Equal(t, Parsed{ParentPath: "/", Name: "folder", Depth: 0}, got)
}

func TestParse_EmptyPath(t *testing.T) {
	_, err := Parse("", "https://srv.example.com")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestParse_TrailingSlashTolerated(t *testing.T) {
	got, err := Parse("https://srv.example.com/a/b/", "https://srv.example.com")
	require.NoError(t, err)
	assert.Equal(t, Parsed{ParentPath: "/a/", Name: "b", Depth: 1}, got)
}

func TestBuild_RoundTrip(t *testing.T) {
	cases := []string{
		"https://srv.example.com/folder/sub/file.txt",
		"https://srv.example.com/",
		"https://srv.example.com/a",
	}

	for _, c := range cases {
		p, err := Parse(c, "https://srv.example.com")
		require.NoError(t, err)

		rebuilt := Build(p)
		// Re-parsing the canonical form must be idempotent.
		p2, err := Parse(rebuilt, "https://srv.example.com")
		require.NoError(t, err)
		assert.Equal(t, p, p2)
	}
}

func TestIsSearchQuery(t *testing.T) {
	assert.True(t, IsSearchQuery("report*"))
	assert.False(t, IsSearchQuery("report.pdf"))
}
