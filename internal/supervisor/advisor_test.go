package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region fakes

type fakeAdvisoryClient struct {
	mu    sync.Mutex
	reply AdvisoryReply
	err   error
	calls int
}

func (f *fakeAdvisoryClient) Complete(_ context.Context, _ string) (AdvisoryReply, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeAdvisoryClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLedger struct {
	spend   float64
	readErr error
	booked  []float64
}

func (f *fakeLedger) SpendSince(_ time.Time) (float64, error) {
	return f.spend, f.readErr
}

func (f *fakeLedger) AddSpend(_ string, amount float64, _ time.Time) error {
	f.booked = append(f.booked, amount)
	return nil
}

func (f *fakeLedger) net() float64 {
	var total float64
	for _, b := range f.booked {
		total += b
	}
	return total
}

// memLedger sums booked amounts like the durable ledger does, so
// reservations made by one caller gate the next.
type memLedger struct {
	mu      sync.Mutex
	entries []float64
}

func (l *memLedger) SpendSince(_ time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, e := range l.entries {
		total += e
	}
	return total, nil
}

func (l *memLedger) AddSpend(_ string, amount float64, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, amount)
	return nil
}

// #endregion

func advisoryFixture(client AdvisoryClient, ledger Ledger, cfg AdvisoryConfig) *AdvisoryPolicy {
	return NewAdvisoryPolicy(cfg, client, ledger, NewRulePolicy(), nil)
}

func enabledConfig() AdvisoryConfig {
	return AdvisoryConfig{
		Enabled:            true,
		Model:              "test-model",
		DailyCeilingUSD:    5,
		WeeklyCeilingUSD:   25,
		InputPricePerMTok:  3,
		OutputPricePerMTok: 15,
	}
}

func TestAdvisoryDisabledFallsBackToRules(t *testing.T) {
	client := &fakeAdvisoryClient{}
	p := advisoryFixture(client, &fakeLedger{}, AdvisoryConfig{Enabled: false})

	dec := p.Decide(context.Background(), StatusInProgress, Observation{}, ProjectConfig{Name: "demo"}, nil, policyNow)
	assert.Equal(t, MethodRuleBased, dec.Method)
	assert.Equal(t, ActionWait, dec.Action)
	assert.Zero(t, client.calls)
}

func TestAdvisoryNilClientFallsBackToRules(t *testing.T) {
	p := advisoryFixture(nil, &fakeLedger{}, enabledConfig())
	dec := p.Decide(context.Background(), StatusUnknown, Observation{}, ProjectConfig{}, nil, policyNow)
	assert.Equal(t, MethodRuleBased, dec.Method)
}

func TestAdvisoryBudgetGate(t *testing.T) {
	tests := []struct {
		name     string
		ledger   *fakeLedger
		wantCall bool
	}{
		{name: "under budget calls the service", ledger: &fakeLedger{spend: 1.0}, wantCall: true},
		{name: "daily ceiling reached", ledger: &fakeLedger{spend: 5.0}, wantCall: false},
		{name: "over ceiling", ledger: &fakeLedger{spend: 7.5}, wantCall: false},
		{name: "ledger read failure counts as no headroom", ledger: &fakeLedger{readErr: errors.New("db locked")}, wantCall: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeAdvisoryClient{
				reply: AdvisoryReply{Text: `{"action": "wait", "rationale": "observing", "confidence": 0.8}`},
			}
			p := advisoryFixture(client, tt.ledger, enabledConfig())
			dec := p.Decide(context.Background(), StatusUnknown, Observation{}, ProjectConfig{Name: "demo"}, nil, policyNow)

			if tt.wantCall {
				assert.Equal(t, 1, client.calls)
				assert.Equal(t, MethodAdvisory, dec.Method)
			} else {
				assert.Zero(t, client.calls)
				assert.Equal(t, MethodRuleBased, dec.Method)
			}
		})
	}
}

func TestAdvisoryBudgetGateConcurrentCallers(t *testing.T) {
	client := &fakeAdvisoryClient{
		reply: AdvisoryReply{
			Text:         `{"action": "wait", "confidence": 0.8}`,
			InputTokens:  2000,
			OutputTokens: 1000,
		},
	}
	ledger := &memLedger{}
	cfg := enabledConfig()
	cfg.DailyCeilingUSD = 0.01
	p := advisoryFixture(client, ledger, cfg)

	var wg sync.WaitGroup
	methods := make([]PolicyMethod, 4)
	for i := range methods {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dec := p.Decide(context.Background(), StatusUnknown, Observation{},
				ProjectConfig{Name: fmt.Sprintf("proj-%d", i)}, nil, policyNow)
			methods[i] = dec.Method
		}(i)
	}
	wg.Wait()

	// The first reservation alone exceeds the remaining headroom, so
	// exactly one caller is admitted regardless of interleaving.
	assert.Equal(t, 1, client.callCount())
	advisory := 0
	for _, m := range methods {
		if m == MethodAdvisory {
			advisory++
		}
	}
	assert.Equal(t, 1, advisory)
}

func TestAdvisorySuccessRecordsUsage(t *testing.T) {
	client := &fakeAdvisoryClient{
		reply: AdvisoryReply{
			Text:         `{"action": "continue", "command": "keep going", "rationale": "work remains", "confidence": 0.85}`,
			InputTokens:  2000,
			OutputTokens: 100,
		},
	}
	ledger := &fakeLedger{}
	p := advisoryFixture(client, ledger, enabledConfig())

	dec := p.Decide(context.Background(), StatusHasWork, Observation{TodosLeft: 1}, ProjectConfig{Name: "demo"}, nil, policyNow)

	assert.Equal(t, ActionContinue, dec.Action)
	assert.Equal(t, "keep going", dec.Command)
	assert.Equal(t, MethodAdvisory, dec.Method)
	require.NotNil(t, dec.Usage)
	assert.Equal(t, int64(2000), dec.Usage.InputTokens)
	assert.Equal(t, int64(100), dec.Usage.OutputTokens)
	// 2000*3/1e6 + 100*15/1e6 = 0.006 + 0.0015
	assert.Equal(t, 0.0075, dec.Usage.CostUSD)
	require.NotEmpty(t, ledger.booked)
	assert.InDelta(t, 0.0075, ledger.net(), 1e-9, "reservation reconciles to the actual cost")
}

func TestAdvisoryCostRounding(t *testing.T) {
	client := &fakeAdvisoryClient{
		reply: AdvisoryReply{
			Text:         `{"action": "wait", "confidence": 0.9}`,
			InputTokens:  1,
			OutputTokens: 1,
		},
	}
	ledger := &fakeLedger{}
	p := advisoryFixture(client, ledger, enabledConfig())

	dec := p.Decide(context.Background(), StatusUnknown, Observation{}, ProjectConfig{}, nil, policyNow)
	require.NotNil(t, dec.Usage)
	// 3e-6 + 15e-6 rounds to 0.000018 exactly at 6 decimals.
	assert.Equal(t, 0.000018, dec.Usage.CostUSD)
}

func TestAdvisoryTransportErrorFallsBack(t *testing.T) {
	client := &fakeAdvisoryClient{err: errors.New("connection reset")}
	ledger := &fakeLedger{}
	p := advisoryFixture(client, ledger, enabledConfig())

	dec := p.Decide(context.Background(), StatusInProgress, Observation{Processing: true}, ProjectConfig{}, nil, policyNow)
	assert.Equal(t, MethodRuleBased, dec.Method)
	assert.Equal(t, ActionWait, dec.Action)
	require.Len(t, ledger.booked, 2)
	assert.Zero(t, ledger.net(), "a released reservation leaves no net spend")
}

func TestAdvisoryUnparseableReplyFallsBack(t *testing.T) {
	client := &fakeAdvisoryClient{
		reply: AdvisoryReply{
			Text:         "I think you should probably keep going.",
			InputTokens:  2000,
			OutputTokens: 100,
		},
	}
	ledger := &fakeLedger{}
	p := advisoryFixture(client, ledger, enabledConfig())

	dec := p.Decide(context.Background(), StatusInProgress, Observation{Processing: true}, ProjectConfig{}, nil, policyNow)
	assert.Equal(t, MethodRuleBased, dec.Method)
	// The tokens were consumed even though the reply was unusable.
	assert.InDelta(t, 0.0075, ledger.net(), 1e-9)
}

func TestParseReply(t *testing.T) {
	p := advisoryFixture(nil, nil, AdvisoryConfig{})

	t.Run("object with surrounding prose", func(t *testing.T) {
		dec, err := p.parseReply("Here you go:\n```json\n{\"action\": \"notify\", \"rationale\": \"needs a human\", \"confidence\": 0.7}\n```")
		require.NoError(t, err)
		assert.Equal(t, ActionNotify, dec.Action)
		assert.Equal(t, 0.7, dec.Confidence)
	})

	t.Run("invalid action degrades to wait", func(t *testing.T) {
		dec, err := p.parseReply(`{"action": "self-destruct", "confidence": 0.99}`)
		require.NoError(t, err)
		assert.Equal(t, ActionWait, dec.Action)
		assert.Equal(t, 0.50, dec.Confidence)
	})

	t.Run("missing action degrades to wait", func(t *testing.T) {
		dec, err := p.parseReply(`{"rationale": "unsure"}`)
		require.NoError(t, err)
		assert.Equal(t, ActionWait, dec.Action)
		assert.Equal(t, 0.50, dec.Confidence)
	})

	t.Run("confidence clamped into range", func(t *testing.T) {
		dec, err := p.parseReply(`{"action": "wait", "confidence": 7.5}`)
		require.NoError(t, err)
		assert.Equal(t, 1.0, dec.Confidence)

		dec, err = p.parseReply(`{"action": "wait", "confidence": -3}`)
		require.NoError(t, err)
		assert.Equal(t, 0.0, dec.Confidence)
	})

	t.Run("malformed JSON is an error", func(t *testing.T) {
		_, err := p.parseReply(`{"action": "wait",`)
		assert.Error(t, err)
	})

	t.Run("no object at all is an error", func(t *testing.T) {
		_, err := p.parseReply("plain prose")
		assert.Error(t, err)
	})
}
