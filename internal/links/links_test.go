package links

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLinks(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "links.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "trims and skips blanks",
			content: "  https://a  \n\n\t\nhttps://b\n",
			want:    []string{"https://a", "https://b"},
		},
		{
			name:    "skips comments",
			content: "# my list\nhttps://a\n   # indented comment\n",
			want:    []string{"https://a"},
		},
		{
			name:    "removes duplicates keeping first occurrence",
			content: "https://b\nhttps://a\nhttps://b\n",
			want:    []string{"https://b", "https://a"},
		},
		{
			name:    "windows line endings",
			content: "https://a\r\nhttps://b\r\n",
			want:    []string{"https://a", "https://b"},
		},
		{
			name:    "empty file",
			content: "",
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Load(context.Background(), writeLinks(t, tt.content)))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	urls := Load(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))

	assert.NotNil(t, urls)
	assert.Empty(t, urls)
}

func TestRemove(t *testing.T) {
	path := writeLinks(t, "# keep me\nhttps://a\nhttps://b\n  https://a  \nhttps://c")

	require.NoError(t, Remove(path, "https://a"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# keep me\nhttps://b\nhttps://c", string(data))

	require.NoError(t, Remove(path, "https://not-there"))
	require.NoError(t, Remove(filepath.Join(t.TempDir(), "missing.txt"), "https://a"))
}

func TestRemove_Concurrent(t *testing.T) {
	path := writeLinks(t, "https://1\nhttps://2\nhttps://3\nhttps://4\nhttps://5\n")

	var wg sync.WaitGroup

	for _, u := range []string{"https://1", "https://3", "https://5"} {
		wg.Add(1)

		go func(u string) {
			defer wg.Done()

			assert.NoError(t, Remove(path, u))
		}(u)
	}

	wg.Wait()

	assert.Equal(t, []string{"https://2", "https://4"}, Load(context.Background(), path))
}
