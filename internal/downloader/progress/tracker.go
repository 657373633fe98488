package progress

import (
	"time"

	"github.com/italolelis/auto_ytdlp/internal/fetch"
)

const (
	// DefaultInterval is the minimum time between two published samples.
	DefaultInterval = 250 * time.Millisecond

	// samples are also published every time the percentage crosses a step
	percentStep = 5
)

// Sample is a point-in-time view of a running download.
type Sample struct {
	TaskID           string
	URL              string
	BytesTransferred int64
	TotalBytes       int64
	Elapsed          time.Duration
	Speed            float64 // bytes per second
	Percent          float64
	ETA              time.Duration
}

// Tracker turns raw fetch progress into samples and decides which of them are
// worth publishing. A Tracker belongs to a single task and is not safe for
// concurrent use.
type Tracker struct {
	taskID   string
	url      string
	interval time.Duration
	now      func() time.Time

	start       time.Time
	lastPublish time.Time
	lastStep    int
	last        Sample

	speedSum     float64
	speedSamples int
}

// NewTracker starts tracking a task. A zero interval means DefaultInterval.
func NewTracker(taskID, url string, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}

	t := &Tracker{
		taskID:   taskID,
		url:      url,
		interval: interval,
		now:      time.Now,
	}
	t.start = t.now()

	return t
}

// Update records p and returns the resulting sample. publish is true when the
// sample should be sent to observers: the first report, a report after the
// interval elapsed, a report crossing a percent step, or a finished stream.
func (t *Tracker) Update(p fetch.Progress) (Sample, bool) {
	now := t.now()

	s := Sample{
		TaskID:           t.taskID,
		URL:              t.url,
		BytesTransferred: p.Downloaded,
		TotalBytes:       p.Total,
		Elapsed:          now.Sub(t.start),
		Speed:            p.Speed,
		Percent:          p.Percent(),
		ETA:              p.ETA,
	}

	if s.Speed > 0 {
		t.speedSum += s.Speed
		t.speedSamples++
	}

	t.last = s

	step := int(s.Percent) / percentStep
	publish := t.lastPublish.IsZero() ||
		now.Sub(t.lastPublish) >= t.interval ||
		step > t.lastStep ||
		p.Status == "finished"

	if publish {
		t.lastPublish = now
		t.lastStep = step
	}

	return s, publish
}

// Last returns the most recent sample.
func (t *Tracker) Last() Sample {
	return t.last
}

// AverageSpeed returns the mean of the speeds reported so far in bytes per
// second. measured is false when no speed was ever reported.
func (t *Tracker) AverageSpeed() (speed float64, measured bool) {
	if t.speedSamples == 0 {
		return 0, false
	}

	return t.speedSum / float64(t.speedSamples), true
}
