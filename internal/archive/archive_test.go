package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	loadErr   error
	appendErr error
}

func (s *failingStore) Load(context.Context) ([]string, error) { return nil, s.loadErr }

func (s *failingStore) Append(context.Context, string) error { return s.appendErr }

func TestLedger_AddContains(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.txt")

	l, err := Open(ctx, NewFileStore(path))
	require.NoError(t, err)

	assert.False(t, l.Contains("youtube abc"))
	require.NoError(t, l.Add(ctx, "youtube abc"))
	require.NoError(t, l.Add(ctx, "youtube abc"))
	assert.True(t, l.Contains("youtube  abc"))
	assert.Equal(t, 1, l.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "youtube abc\n", string(data))

	reopened, err := Open(ctx, NewFileStore(path))
	require.NoError(t, err)
	assert.True(t, reopened.Contains("youtube abc"))
}

func TestLedger_LoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.txt")
	require.NoError(t, os.WriteFile(path, []byte("youtube a\n\n  vimeo 1  \n"), 0o644))

	l, err := Open(context.Background(), NewFileStore(path))
	require.NoError(t, err)

	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Contains("vimeo 1"))
}

func TestLedger_MissingFileIsEmpty(t *testing.T) {
	l, err := Open(context.Background(), NewFileStore(filepath.Join(t.TempDir(), "nope", "archive.txt")))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
}

func TestLedger_LoadFailureStillUsable(t *testing.T) {
	boom := errors.New("disk on fire")

	l, err := Open(context.Background(), &failingStore{loadErr: boom})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, l)

	require.NoError(t, l.Add(context.Background(), "youtube a"))
	assert.True(t, l.Contains("youtube a"))
}

func TestLedger_AppendFailureKeepsEntry(t *testing.T) {
	boom := errors.New("read-only")

	l, err := Open(context.Background(), &failingStore{appendErr: boom})
	require.NoError(t, err)

	err = l.Add(context.Background(), "youtube a")
	assert.ErrorIs(t, err, boom)
	assert.True(t, l.Contains("youtube a"))
}

func TestLedger_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.txt")

	l, err := Open(ctx, NewFileStore(path))
	require.NoError(t, err)

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			assert.NoError(t, l.Add(ctx, fmt.Sprintf("youtube %d", i%10)))
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 10, l.Len())

	reopened, err := Open(ctx, NewFileStore(path))
	require.NoError(t, err)
	assert.Equal(t, 10, reopened.Len())
}
