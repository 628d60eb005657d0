package caller_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/keypool/internal/caller"
	"github.com/fairyhunter13/keypool/internal/domain"
	"github.com/fairyhunter13/keypool/internal/pool"
)

// fakePool scripts selection results and records reported outcomes.
type fakePool struct {
	keys     []domain.Credential // popped per SelectKey call; "" means exhausted
	selects  int
	outcomes []pool.Outcome
	reported []domain.Credential
}

func (p *fakePool) SelectKey() (domain.Credential, bool) {
	p.selects++
	if len(p.keys) == 0 {
		return "", false
	}
	k := p.keys[0]
	p.keys = p.keys[1:]
	if k == "" {
		return "", false
	}
	return k, true
}

func (p *fakePool) ReportOutcome(_ context.Context, cred domain.Credential, out pool.Outcome) error {
	p.reported = append(p.reported, cred)
	p.outcomes = append(p.outcomes, out)
	return nil
}

func fastConfig() caller.Config {
	return caller.Config{
		MaxElapsedTime:  2 * time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      1.5,
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	p := &fakePool{keys: []domain.Credential{"k1"}}
	err := caller.Do(context.Background(), p, func(_ context.Context, key domain.Credential) error {
		assert.Equal(t, domain.Credential("k1"), key)
		return nil
	}, fastConfig())
	require.NoError(t, err)
	require.Len(t, p.outcomes, 1)
	assert.True(t, p.outcomes[0].Success)
}

func TestDo_FailureThenSuccessRotatesKeys(t *testing.T) {
	p := &fakePool{keys: []domain.Credential{"k1", "k2"}}
	calls := 0
	err := caller.Do(context.Background(), p, func(_ context.Context, key domain.Credential) error {
		calls++
		if calls == 1 {
			return &caller.Failure{Code: "RATE_LIMIT", Message: "quota exceeded"}
		}
		return nil
	}, fastConfig())
	require.NoError(t, err)
	require.Len(t, p.outcomes, 2)
	assert.False(t, p.outcomes[0].Success)
	assert.Equal(t, "RATE_LIMIT", p.outcomes[0].Code)
	assert.Equal(t, "quota exceeded", p.outcomes[0].Message)
	assert.True(t, p.outcomes[1].Success)
	assert.Equal(t, []domain.Credential{"k1", "k2"}, p.reported)
}

func TestDo_ExhaustedPoolRetries(t *testing.T) {
	// Two empty draws before a key frees up.
	p := &fakePool{keys: []domain.Credential{"", "", "k1"}}
	err := caller.Do(context.Background(), p, func(_ context.Context, _ domain.Credential) error {
		return nil
	}, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, p.selects)
	require.Len(t, p.outcomes, 1)
	assert.True(t, p.outcomes[0].Success)
}

func TestDo_PermanentFailureStops(t *testing.T) {
	p := &fakePool{keys: []domain.Credential{"k1", "k2", "k3"}}
	wantErr := &caller.Failure{Code: "INVALID_INPUT", Message: "question too long", Permanent: true}
	err := caller.Do(context.Background(), p, func(_ context.Context, _ domain.Credential) error {
		return wantErr
	}, fastConfig())
	require.Error(t, err)
	var f *caller.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "INVALID_INPUT", f.Code)
	// Exactly one attempt: the outcome is still reported so the pool sees it.
	require.Len(t, p.outcomes, 1)
	assert.False(t, p.outcomes[0].Success)
}

func TestDo_UnclassifiedErrorGetsUnexpectedCode(t *testing.T) {
	p := &fakePool{keys: []domain.Credential{"k1", "k2"}}
	calls := 0
	err := caller.Do(context.Background(), p, func(_ context.Context, _ domain.Credential) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, "UNEXPECTED", p.outcomes[0].Code)
	assert.Equal(t, "connection reset by peer", p.outcomes[0].Message)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakePool{} // always exhausted
	err := caller.Do(ctx, p, func(_ context.Context, _ domain.Credential) error {
		t.Fatal("operation must not run")
		return nil
	}, fastConfig())
	assert.Error(t, err)
}

func TestDo_GivesUpAfterBudget(t *testing.T) {
	p := &fakePool{} // always exhausted
	cfg := fastConfig()
	cfg.MaxElapsedTime = 50 * time.Millisecond
	err := caller.Do(context.Background(), p, func(_ context.Context, _ domain.Credential) error {
		return nil
	}, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, caller.ErrExhausted)
}

func TestFailure_Error(t *testing.T) {
	f := &caller.Failure{Code: "RATE_LIMIT", Message: "429", Err: errors.New("upstream")}
	assert.Contains(t, f.Error(), "RATE_LIMIT")
	assert.Contains(t, f.Error(), "upstream")
	assert.EqualError(t, errors.Unwrap(f), "upstream")

	bare := &caller.Failure{Code: "X", Message: "y"}
	assert.Equal(t, "X: y", bare.Error())
}
