package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCallBudget_Take(t *testing.T) {
	tests := []struct {
		name   string
		offset []time.Duration
		want   []bool
	}{
		{
			name:   "within budget",
			offset: []time.Duration{0, time.Second},
			want:   []bool{true, true},
		},
		{
			name:   "third call in the same minute is refused",
			offset: []time.Duration{0, time.Second, 2 * time.Second},
			want:   []bool{true, true, false},
		},
		{
			name:   "slot frees once the oldest call ages out",
			offset: []time.Duration{0, 30 * time.Second, 59 * time.Second, 61 * time.Second},
			want:   []bool{true, true, false, true},
		},
		{
			name:   "no burst across a minute boundary",
			offset: []time.Duration{50 * time.Second, 55 * time.Second, 65 * time.Second},
			want:   []bool{true, true, false},
		},
		{
			name:   "refused calls do not extend the wait",
			offset: []time.Duration{0, 10 * time.Second, 20 * time.Second, 30 * time.Second, 61 * time.Second},
			want:   []bool{true, true, false, false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newCallBudget(2, time.Minute)
			var at time.Time
			b.now = func() time.Time { return at }
			for i, off := range tt.offset {
				at = FixedTime.Add(off)
				assert.Equal(t, tt.want[i], b.take(), "call %d at +%s", i, off)
			}
		})
	}
}
