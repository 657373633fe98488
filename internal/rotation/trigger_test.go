package rotation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrigger_Evaluate_Sequence(t *testing.T) {
	tr := NewTrigger(2, 500)

	d := tr.Evaluate(1000, true)
	assert.Equal(t, Decision{Rotate: false, Count: 1}, d)

	d = tr.Evaluate(1000, true)
	assert.Equal(t, Decision{Rotate: true, Reason: ReasonCadence, Count: 0}, d)

	d = tr.Evaluate(1000, true)
	assert.Equal(t, Decision{Rotate: false, Count: 1}, d)
}

func TestTrigger_Evaluate_SlowTaskRotatesAtAnyCount(t *testing.T) {
	tests := []struct {
		name  string
		prior int
		want  Decision
	}{
		{"first task", 0, Decision{Rotate: true, Reason: ReasonThreshold, Count: 1}},
		{"cadence also due", 1, Decision{Rotate: true, Reason: ReasonBoth, Count: 0}},
		{"after reset", 2, Decision{Rotate: true, Reason: ReasonThreshold, Count: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTrigger(2, 500)

			for i := 0; i < tt.prior; i++ {
				tr.Evaluate(1000, true)
			}

			assert.Equal(t, tt.want, tr.Evaluate(400, true))
		})
	}
}

func TestTrigger_Evaluate_UnmeasuredSpeedSkipsThreshold(t *testing.T) {
	tr := NewTrigger(3, 500)

	assert.False(t, tr.Evaluate(0, false).Rotate)
	assert.Equal(t, 1, tr.Count())
}

func TestTrigger_Evaluate_DisabledRules(t *testing.T) {
	noCadence := NewTrigger(0, 500)
	for i := 0; i < 10; i++ {
		assert.False(t, noCadence.Evaluate(1000, true).Rotate)
	}

	assert.True(t, noCadence.Evaluate(10, true).Rotate)

	noThreshold := NewTrigger(0, 0)
	assert.False(t, noThreshold.Evaluate(1, true).Rotate)
}

func TestTrigger_Evaluate_Concurrent(t *testing.T) {
	tr := NewTrigger(10, 0)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		rotated int
	)

	for i := 0; i < 100; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if tr.Evaluate(1000, true).Rotate {
				mu.Lock()
				rotated++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 10, rotated)
	assert.Equal(t, 0, tr.Count())
}
