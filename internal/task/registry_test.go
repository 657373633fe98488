package task

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []Status
}

func (p *recordingPublisher) PublishStatus(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.statuses = append(p.statuses, t.Status)
}

func TestRegistry_EnqueueIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	first, added := r.Enqueue("https://e/1")
	require.True(t, added)
	assert.Equal(t, StatusQueued, first.Status)
	assert.Equal(t, 1, first.Attempt)
	assert.NotEmpty(t, first.ID)

	again, added := r.Enqueue("  https://e/1 ")
	assert.False(t, added)
	assert.Equal(t, first.ID, again.ID)

	_, added = r.Enqueue("   ")
	assert.False(t, added)

	assert.Len(t, r.Snapshot(), 1)
	assert.Equal(t, 1, r.QueueLen())
}

func TestRegistry_ClaimNextIsFIFO(t *testing.T) {
	r := NewRegistry(nil)

	for _, u := range []string{"https://e/a", "https://e/b", "https://e/c"} {
		r.Enqueue(u)
	}

	var got []string

	for {
		tk, ok := r.ClaimNext()
		if !ok {
			break
		}

		assert.Equal(t, StatusDownloading, tk.Status)
		assert.False(t, tk.StartedAt.IsZero())

		got = append(got, tk.URL)
	}

	assert.Equal(t, []string{"https://e/a", "https://e/b", "https://e/c"}, got)
}

func TestRegistry_ClaimNextConcurrentNeverDuplicates(t *testing.T) {
	r := NewRegistry(nil)

	for i := range 100 {
		r.Enqueue("https://e/" + strconv.Itoa(i))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				tk, ok := r.ClaimNext()
				if !ok {
					return
				}

				mu.Lock()
				seen[tk.ID]++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Len(t, seen, 100)

	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestRegistry_SetTerminal(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	r.Enqueue("https://e/1")

	_, err := r.SetTerminal(ctx, "https://e/1", StatusCompleted, "")
	require.ErrorIs(t, err, ErrInvalidTransition, "queued tasks cannot finish")

	_, ok := r.ClaimNext()
	require.True(t, ok)

	_, err = r.SetTerminal(ctx, "https://e/1", StatusQueued, "")
	require.ErrorIs(t, err, ErrInvalidTransition, "queued is not terminal")

	r.SetMetadata("https://e/1", "youtube abc", "A title")

	done, err := r.SetTerminal(ctx, "https://e/1", StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "youtube abc", done.ContentID)
	assert.Equal(t, "A title", done.DisplayName())
	assert.False(t, done.FinishedAt.IsZero())

	_, err = r.SetTerminal(ctx, "https://e/1", StatusError, "late")
	require.ErrorIs(t, err, ErrInvalidTransition, "a task finishes only once")

	got, ok := r.Get("https://e/1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.ErrorDetail)
}

func TestRegistry_SetFailure(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	r.Enqueue("https://e/1")
	r.ClaimNext()

	failed, err := r.SetFailure(ctx, "https://e/1", "", true)
	require.NoError(t, err)
	assert.Equal(t, StatusError, failed.Status)
	assert.Equal(t, "unknown error", failed.ErrorDetail)
	assert.True(t, failed.Retryable)

	retry, added := r.Enqueue("https://e/1")
	require.True(t, added)
	assert.Equal(t, 2, retry.Attempt)
	assert.NotEqual(t, failed.ID, retry.ID)

	latest, ok := r.Get("https://e/1")
	require.True(t, ok)
	assert.Equal(t, retry.ID, latest.ID)
}

func TestRegistry_DrainQueued(t *testing.T) {
	r := NewRegistry(nil)

	r.Enqueue("https://e/1")
	r.Enqueue("https://e/2")
	r.Enqueue("https://e/3")
	r.ClaimNext()

	drained := r.DrainQueued()
	require.Len(t, drained, 2)

	for _, tk := range drained {
		assert.Equal(t, StatusCancelled, tk.Status)
	}

	assert.Equal(t, 0, r.QueueLen())
	assert.Equal(t, Stats{Downloading: 1, Cancelled: 2}, r.Stats())
	assert.Equal(t, 3, r.Stats().Total())
}

func TestRegistry_PublishesEveryTransition(t *testing.T) {
	p := &recordingPublisher{}
	r := NewRegistry(p)

	r.Enqueue("https://e/1")
	r.Enqueue("https://e/2")
	r.ClaimNext()
	_, err := r.SetTerminal(context.Background(), "https://e/1", StatusSkipped, "")
	require.NoError(t, err)
	r.DrainQueued()

	assert.Equal(t, []Status{StatusQueued, StatusQueued, StatusDownloading, StatusSkipped, StatusCancelled}, p.statuses)
}

func TestRegistry_ReadySignalledOnEnqueue(t *testing.T) {
	r := NewRegistry(nil)

	r.Enqueue("https://e/1")
	r.Enqueue("https://e/2")

	select {
	case <-r.Ready():
	default:
		t.Fatal("expected a ready signal")
	}

	select {
	case <-r.Ready():
		t.Fatal("signals are coalesced")
	default:
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusDownloading, false},
		{StatusCompleted, true},
		{StatusError, true},
		{StatusCancelled, true},
		{StatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}
