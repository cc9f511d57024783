package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusPending, StatusDelivered, false},
		{StatusProcessing, StatusShipped, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusPending, false},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, true},
		{StatusShipped, StatusProcessing, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusDelivered, StatusProcessing, false},
		{StatusCancelled, StatusPending, false},
		{StatusPending, StatusPending, false},
		{"unknown", StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range Statuses {
		want := s == StatusDelivered || s == StatusCancelled
		assert.Equal(t, want, s.Terminal(), s)
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("lost").Valid())
	assert.False(t, Status("lost").Terminal())
}

// Nothing is reachable from a terminal status, however many steps are taken.
func TestStatus_TerminalClosureEmpty(t *testing.T) {
	for _, start := range []Status{StatusDelivered, StatusCancelled} {
		seen := map[Status]bool{}
		frontier := []Status{start}
		for len(frontier) > 0 {
			cur := frontier[0]
			frontier = frontier[1:]
			for _, next := range Statuses {
				if CanTransition(cur, next) && !seen[next] {
					seen[next] = true
					frontier = append(frontier, next)
				}
			}
		}
		assert.Empty(t, seen, start)
	}
}
