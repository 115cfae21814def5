package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
		want SessionStatus
	}{
		{
			name: "processing wins over everything",
			obs: Observation{
				Processing: true,
				Problems:   []Problem{{Text: "error: boom", Severity: SeverityHigh}},
				TodosTotal: 3, TodosDone: 1, TodosLeft: 2,
				InputReady: true,
			},
			want: StatusInProgress,
		},
		{
			name: "problems preempt work",
			obs: Observation{
				Problems:   []Problem{{Text: "test failed", Severity: SeverityMedium}},
				TodosTotal: 3, TodosDone: 1, TodosLeft: 2,
				InputReady: true,
			},
			want: StatusError,
		},
		{
			name: "remaining work with ready input",
			obs: Observation{
				TodosTotal: 4, TodosDone: 1, TodosLeft: 3,
				InputReady: true,
			},
			want: StatusHasWork,
		},
		{
			name: "all tracked work done",
			obs: Observation{
				TodosTotal: 4, TodosDone: 4, TodosLeft: 0,
				InputReady: true,
			},
			want: StatusPhaseComplete,
		},
		{
			name: "no tracked work is never complete",
			obs: Observation{
				InputReady: true,
			},
			want: StatusWaitingForInput,
		},
		{
			name: "long idle without input",
			obs: Observation{
				IdleFor: 11 * time.Minute,
			},
			want: StatusIdle,
		},
		{
			name: "idle threshold is exclusive",
			obs: Observation{
				IdleFor: 10 * time.Minute,
			},
			want: StatusUnknown,
		},
		{
			name: "nothing observable",
			obs:  Observation{},
			want: StatusUnknown,
		},
		{
			name: "work without ready input stays unknown",
			obs: Observation{
				TodosTotal: 2, TodosDone: 0, TodosLeft: 2,
			},
			want: StatusUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.obs))
		})
	}
}

func TestClassifyRepairsCounters(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
		want SessionStatus
	}{
		{
			name: "done exceeding total clamps to complete",
			obs:  Observation{TodosTotal: 3, TodosDone: 5, TodosLeft: -2, InputReady: true},
			want: StatusPhaseComplete,
		},
		{
			name: "negative total treated as no work",
			obs:  Observation{TodosTotal: -1, TodosDone: 0, InputReady: true},
			want: StatusWaitingForInput,
		},
		{
			name: "stale remaining recomputed from total and done",
			obs:  Observation{TodosTotal: 5, TodosDone: 2, TodosLeft: 0, InputReady: true},
			want: StatusHasWork,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.obs))
		})
	}
}

// Classify never returns session_lost: that status is orchestration-level.
func TestClassifyNeverReportsSessionLost(t *testing.T) {
	observations := []Observation{
		{},
		{Processing: true},
		{InputReady: true},
		{IdleFor: time.Hour},
		{TodosTotal: 1, TodosDone: 1, InputReady: true},
		{Problems: []Problem{{Text: "x"}}},
	}
	for _, obs := range observations {
		assert.NotEqual(t, StatusSessionLost, Classify(obs))
	}
}
