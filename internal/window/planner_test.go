package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kst = time.FixedZone("KST", 9*60*60)

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	p, err := NewPlanner(kst, "2024-04-16")
	require.NoError(t, err)
	return p
}

func TestPlan_FromLastStoredTimestamp(t *testing.T) {
	p := newTestPlanner(t)

	last := time.Date(2024, 6, 1, 0, 0, 0, 0, kst)
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, kst)

	w := p.Plan(last, true, now)

	assert.Equal(t, time.Date(2024, 5, 31, 15, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC), w.End)
	assert.True(t, w.HasNewData())
}

func TestPlan_NaiveTimestampReadAsLocal(t *testing.T) {
	p := newTestPlanner(t)

	// Same wall clock carried in UTC must be reinterpreted in the source zone.
	last := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 6, 3, 1, 0, 0, 0, time.UTC)

	w := p.Plan(last, true, now)

	assert.Equal(t, time.Date(2024, 5, 31, 15, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC), w.End)
}

func TestPlan_DefaultStartWithoutStore(t *testing.T) {
	p := newTestPlanner(t)

	w := p.Plan(time.Time{}, false, time.Date(2024, 4, 20, 12, 0, 0, 0, kst))

	assert.Equal(t, time.Date(2024, 4, 15, 15, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 4, 19, 15, 0, 0, 0, time.UTC), w.End)
	assert.True(t, w.HasNewData())
}

func TestPlan_EndExcludesCurrentDay(t *testing.T) {
	p := newTestPlanner(t)

	for _, hour := range []int{0, 9, 23} {
		now := time.Date(2024, 6, 3, hour, 30, 0, 0, kst)
		w := p.Plan(time.Date(2024, 6, 1, 0, 0, 0, 0, kst), true, now)
		assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, kst).UTC(), w.End, "hour %d", hour)
	}
}

func TestWindow_HasNewData(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{
			name:  "last hour of yesterday already stored",
			start: time.Date(2024, 6, 2, 14, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC),
			want:  false,
		},
		{
			name:  "one full day behind",
			start: time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC),
			want:  true,
		},
		{
			name:  "start after end",
			start: time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC),
			want:  false,
		},
		{
			name:  "empty window",
			start: time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 6, 2, 15, 0, 0, 0, time.UTC),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Window{Start: tt.start, End: tt.end}.HasNewData())
		})
	}
}

func TestNewPlanner_Errors(t *testing.T) {
	_, err := NewPlanner(nil, "2024-04-16")
	assert.Error(t, err)

	_, err = NewPlanner(kst, "16/04/2024")
	assert.Error(t, err)
}
