package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock(" 07:01 ")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 7, Minute: 1}, c)
	assert.Equal(t, "07:01", c.String())

	_, err = ParseClock("25:00")
	assert.Error(t, err)
	_, err = ParseClock("noon")
	assert.Error(t, err)
}

func TestDailyNext(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	daily, err := NewDaily([]Clock{{23, 1}, {7, 1}, {15, 1}}, kst)
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before first",
			now:  time.Date(2024, 5, 1, 6, 0, 0, 0, kst),
			want: time.Date(2024, 5, 1, 7, 1, 0, 0, kst),
		},
		{
			name: "exactly at a trigger moves to the next one",
			now:  time.Date(2024, 5, 1, 7, 1, 0, 0, kst),
			want: time.Date(2024, 5, 1, 15, 1, 0, 0, kst),
		},
		{
			name: "between",
			now:  time.Date(2024, 5, 1, 16, 30, 0, 0, kst),
			want: time.Date(2024, 5, 1, 23, 1, 0, 0, kst),
		},
		{
			name: "after last rolls over to tomorrow",
			now:  time.Date(2024, 5, 31, 23, 30, 0, 0, kst),
			want: time.Date(2024, 6, 1, 7, 1, 0, 0, kst),
		},
		{
			name: "input in another zone",
			now:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 5, 1, 15, 1, 0, 0, kst),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(daily.Next(tt.now)), "got %s", daily.Next(tt.now))
		})
	}
}

func TestNewDailyNeedsTimes(t *testing.T) {
	_, err := NewDaily(nil, nil)
	assert.Error(t, err)
}

func TestCadenceNext(t *testing.T) {
	c := Cadence{Interval: time.Minute}
	now := time.Date(2024, 5, 1, 10, 0, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC), c.Next(now))
	assert.Equal(t, time.Date(2024, 5, 1, 10, 2, 0, 0, time.UTC), c.Next(time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC)))
}

func TestSchedulerFiresAndStops(t *testing.T) {
	var fired atomic.Int32
	s := New(Cadence{Interval: 10 * time.Millisecond}, nil)
	s.RunImmediately = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, func(context.Context) { fired.Add(1) })
		close(done)
	}()

	require.Eventually(t, func() bool { return fired.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerRejectsInvalidCadence(t *testing.T) {
	done := make(chan struct{})
	go func() {
		New(Cadence{}, nil).Start(context.Background(), func(context.Context) {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler should exit on invalid cadence")
	}
}
