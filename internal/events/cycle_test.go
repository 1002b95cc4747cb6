package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

func TestCycleBroadcaster(t *testing.T) {
	b := NewCycleBroadcaster(1)
	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(domain.CycleSummary{CycleID: "c1"})
	// buffer full, dropped
	b.Publish(domain.CycleSummary{CycleID: "c2"})

	for _, ch := range []chan domain.CycleSummary{first, second} {
		got := <-ch
		assert.Equal(t, "c1", got.CycleID)
		assert.Empty(t, ch)
	}

	b.Unsubscribe(first)
	_, ok := <-first
	require.False(t, ok)

	b.Unsubscribe(first)
	b.Publish(domain.CycleSummary{CycleID: "c3"})
	assert.Equal(t, "c3", (<-second).CycleID)
}
