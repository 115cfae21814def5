package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func decisionAt(action Action, at time.Time) Decision {
	return Decision{Action: action, Time: at}
}

func TestCountRecent(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	history := []Decision{
		decisionAt(ActionContinue, now.Add(-1*time.Minute)),
		decisionAt(ActionContinue, now.Add(-4*time.Minute)),
		decisionAt(ActionContinue, now.Add(-6*time.Minute)), // outside window
		decisionAt(ActionNotify, now.Add(-2*time.Minute)),   // wrong action
		decisionAt(ActionWait, now.Add(-30*time.Second)),
	}

	assert.Equal(t, 2, CountRecent(history, ActionContinue, 5*time.Minute, now))
	assert.Equal(t, 1, CountRecent(history, ActionNotify, 5*time.Minute, now))
	assert.Equal(t, 3, CountRecent(history, ActionContinue, time.Hour, now))
	assert.Equal(t, 0, CountRecent(nil, ActionContinue, 5*time.Minute, now))
}

func TestSuppressContinue(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		history []Decision
		want    bool
	}{
		{
			name: "two repeats stay under the limit",
			history: []Decision{
				decisionAt(ActionContinue, now.Add(-1*time.Minute)),
				decisionAt(ActionContinue, now.Add(-2*time.Minute)),
			},
			want: false,
		},
		{
			name: "three repeats inside the window trigger",
			history: []Decision{
				decisionAt(ActionContinue, now.Add(-1*time.Minute)),
				decisionAt(ActionContinue, now.Add(-2*time.Minute)),
				decisionAt(ActionContinue, now.Add(-3*time.Minute)),
			},
			want: true,
		},
		{
			name: "old repeats age out",
			history: []Decision{
				decisionAt(ActionContinue, now.Add(-1*time.Minute)),
				decisionAt(ActionContinue, now.Add(-6*time.Minute)),
				decisionAt(ActionContinue, now.Add(-7*time.Minute)),
			},
			want: false,
		},
		{
			name: "other actions do not count",
			history: []Decision{
				decisionAt(ActionNotify, now.Add(-1*time.Minute)),
				decisionAt(ActionNotify, now.Add(-2*time.Minute)),
				decisionAt(ActionNotify, now.Add(-3*time.Minute)),
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SuppressContinue(tt.history, now))
		})
	}
}

func TestApplyLoopGuard(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	looping := []Decision{
		decisionAt(ActionContinue, now.Add(-1*time.Minute)),
		decisionAt(ActionContinue, now.Add(-2*time.Minute)),
		decisionAt(ActionContinue, now.Add(-3*time.Minute)),
	}

	t.Run("continue swapped for notify under loop pressure", func(t *testing.T) {
		dec := ApplyLoopGuard(Decision{Action: ActionContinue, Command: "go on"}, looping, now)
		assert.Equal(t, ActionNotify, dec.Action)
		assert.Empty(t, dec.Command)
		assert.Equal(t, 0.90, dec.Confidence)
	})

	t.Run("non-continue decisions pass through", func(t *testing.T) {
		in := Decision{Action: ActionUseRemedy, Command: "make fix", Confidence: 0.82}
		assert.Equal(t, in, ApplyLoopGuard(in, looping, now))
	})

	t.Run("quiet history passes continue through", func(t *testing.T) {
		in := Decision{Action: ActionContinue, Command: "go on", Confidence: 0.86}
		assert.Equal(t, in, ApplyLoopGuard(in, nil, now))
	})
}
