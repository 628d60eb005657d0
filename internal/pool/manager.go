// Package pool implements the key pool manager: it owns the active credential
// set and per-key health state, answers "which key may I use right now",
// records outcomes with cooldown penalties, and keeps the state mapping
// persisted across restarts.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/fairyhunter13/keypool/internal/adapter/observability"
	"github.com/fairyhunter13/keypool/internal/domain"
)

// Outcome reports the result of one use of a credential. Failures must carry
// a non-empty Code and Message so they remain diagnosable.
type Outcome struct {
	Success bool
	Code    string
	Message string
}

// Manager is safe for concurrent use by any number of callers. A single
// mutex guards the combined credential set and state map so that the whole
// filter-choose-stamp sequence of SelectKey is atomic.
type Manager struct {
	mu     sync.Mutex
	keys   []domain.Credential
	member map[domain.Credential]struct{}
	states map[string]domain.KeyState // keyed by fingerprint

	policy Policy
	store  domain.StateStore
	now    func() time.Time
	pick   func(n int) int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithPolicy overrides the default exponential cooldown policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New builds a Manager from the given credentials, deduplicated with empty
// entries dropped, and loads persisted state from store. State entries whose
// fingerprint matches no active credential are discarded. An empty resulting
// set fails with domain.ErrNoCredentials; a broken or malformed store is
// logged and treated as empty state.
func New(ctx context.Context, credentials []string, store domain.StateStore, opts ...Option) (*Manager, error) {
	m := &Manager{
		member: make(map[domain.Credential]struct{}),
		states: make(map[string]domain.KeyState),
		policy: DefaultExponential(),
		store:  store,
		now:    time.Now,
		pick:   rand.IntN,
	}
	for _, o := range opts {
		o(m)
	}

	for _, raw := range credentials {
		c := domain.Credential(raw)
		if c == "" {
			continue
		}
		if _, ok := m.member[c]; ok {
			continue
		}
		m.member[c] = struct{}{}
		m.keys = append(m.keys, c)
	}
	if len(m.keys) == 0 {
		return nil, fmt.Errorf("op=pool.New: %w", domain.ErrNoCredentials)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		slog.Warn("key state load failed; starting with empty state",
			slog.Any("error", err))
		observability.StateErrorsTotal.WithLabelValues("load").Inc()
		loaded = nil
	}
	active := make(map[string]struct{}, len(m.keys))
	for _, c := range m.keys {
		active[Fingerprint(c)] = struct{}{}
	}
	dropped := 0
	for fp, st := range loaded {
		if _, ok := active[fp]; !ok {
			dropped++
			continue
		}
		m.states[fp] = st.Clone()
	}
	slog.Info("key pool initialized",
		slog.Int("keys", len(m.keys)),
		slog.Int("states_loaded", len(m.states)),
		slog.Int("states_dropped", dropped),
		slog.String("policy", m.policy.Name()))
	return m, nil
}

// SelectKey returns a credential that is neither in cooldown nor, when the
// policy defines a reuse interval, used within that interval. The choice is
// uniform among eligible keys to spread load; when the reuse interval is
// active the chosen key's LastUsedAt is stamped before returning so no two
// concurrent callers can claim the same interval window. It never blocks:
// ok=false means no key is available right now and the caller owns retrying.
func (m *Manager) SelectKey() (cred domain.Credential, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	interval := m.policy.ReuseInterval()

	eligible := make([]domain.Credential, 0, len(m.keys))
	for _, c := range m.keys {
		st, has := m.states[Fingerprint(c)]
		if !has {
			eligible = append(eligible, c)
			continue
		}
		if !st.Available(now) {
			continue
		}
		if interval > 0 && !st.LastUsedAt.IsZero() && st.LastUsedAt.Add(interval).After(now) {
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		observability.SelectionsTotal.WithLabelValues("exhausted").Inc()
		return "", false
	}

	cred = eligible[m.pick(len(eligible))]
	if interval > 0 {
		fp := Fingerprint(cred)
		st := m.states[fp]
		st.LastUsedAt = now
		m.states[fp] = st
	}
	observability.SelectionsTotal.WithLabelValues("selected").Inc()
	return cred, true
}

// ReportOutcome records the result of using a credential and persists the
// updated state before returning. Success clears the key's penalty state and
// is idempotent. Failure requires a code and message, increments the
// consecutive failure count and pushes the cooldown out per the policy; the
// cooldown never moves backwards while failures continue. Persistence faults
// are logged and absorbed, never returned: the pool degrades to in-memory
// state rather than failing the caller.
func (m *Manager) ReportOutcome(ctx context.Context, cred domain.Credential, out Outcome) error {
	if !out.Success && (out.Code == "" || out.Message == "") {
		return fmt.Errorf("op=pool.ReportOutcome: failure report requires code and message: %w", domain.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.member[cred]; !ok {
		return fmt.Errorf("op=pool.ReportOutcome: %w", domain.ErrUnknownCredential)
	}

	fp := Fingerprint(cred)
	if out.Success {
		st, had := m.states[fp]
		if had && (st.ConsecutiveFailures > 0 || !st.CooldownUntil.IsZero()) {
			slog.Info("key recovered",
				slog.String("key", fp),
				slog.Int("previous_failures", st.ConsecutiveFailures))
		}
		if had {
			st.CooldownUntil = time.Time{}
			st.ConsecutiveFailures = 0
			st.LastFailure = nil
			if st.LastUsedAt.IsZero() {
				delete(m.states, fp)
			} else {
				m.states[fp] = st
			}
		}
		observability.OutcomesTotal.WithLabelValues("success").Inc()
	} else {
		now := m.now()
		st := m.states[fp]
		st.ConsecutiveFailures++
		until := now.Add(m.policy.Cooldown(st.ConsecutiveFailures))
		if until.After(st.CooldownUntil) {
			st.CooldownUntil = until
		}
		st.LastFailure = &domain.LastFailure{At: now, Code: out.Code, Message: out.Message}
		m.states[fp] = st
		observability.OutcomesTotal.WithLabelValues("failure").Inc()
		slog.Warn("key cooling down after failure",
			slog.String("key", fp),
			slog.String("code", out.Code),
			slog.String("message", out.Message),
			slog.Int("failures", st.ConsecutiveFailures),
			slog.Time("cooldown_until", st.CooldownUntil))
	}

	m.refreshCooldownGauge()
	m.persistLocked(ctx, "report_outcome")
	return nil
}

// GetStatus returns a copy of the credential's state. ok is false when the
// credential is not in the active set.
func (m *Manager) GetStatus(cred domain.Credential) (domain.KeyState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, member := m.member[cred]; !member {
		return domain.KeyState{}, false
	}
	return m.states[Fingerprint(cred)].Clone(), true
}

// Credentials returns a snapshot copy of the active set.
func (m *Manager) Credentials() []domain.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Credential, len(m.keys))
	copy(out, m.keys)
	return out
}

// Add inserts a credential into the active set and persists immediately.
// When the save fails the in-memory mutation is rolled back so memory and
// store stay consistent, and the error is surfaced to the administrator.
func (m *Manager) Add(ctx context.Context, cred domain.Credential) error {
	if cred == "" {
		return fmt.Errorf("op=pool.Add: empty credential: %w", domain.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.member[cred]; ok {
		return fmt.Errorf("op=pool.Add: credential already present: %w", domain.ErrInvalidArgument)
	}
	m.member[cred] = struct{}{}
	m.keys = append(m.keys, cred)
	if err := m.persistLocked(ctx, "add"); err != nil {
		delete(m.member, cred)
		m.keys = m.keys[:len(m.keys)-1]
		return fmt.Errorf("op=pool.Add: %w: %w", domain.ErrPersistence, err)
	}
	slog.Info("key added", slog.String("key", Fingerprint(cred)), slog.Int("pool_size", len(m.keys)))
	return nil
}

// Remove deletes a credential and its state and persists immediately, with
// the same rollback-on-save-failure behavior as Add. Removing the last
// credential is allowed; selection simply reports exhaustion afterwards.
func (m *Manager) Remove(ctx context.Context, cred domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.member[cred]; !ok {
		return fmt.Errorf("op=pool.Remove: %w", domain.ErrUnknownCredential)
	}
	fp := Fingerprint(cred)
	prevState, hadState := m.states[fp]
	prevIdx := -1
	for i, c := range m.keys {
		if c == cred {
			prevIdx = i
			break
		}
	}

	delete(m.member, cred)
	m.keys = append(m.keys[:prevIdx], m.keys[prevIdx+1:]...)
	delete(m.states, fp)

	if err := m.persistLocked(ctx, "remove"); err != nil {
		m.member[cred] = struct{}{}
		m.keys = append(m.keys, "")
		copy(m.keys[prevIdx+1:], m.keys[prevIdx:])
		m.keys[prevIdx] = cred
		if hadState {
			m.states[fp] = prevState
		}
		return fmt.Errorf("op=pool.Remove: %w: %w", domain.ErrPersistence, err)
	}
	slog.Info("key removed", slog.String("key", fp), slog.Int("pool_size", len(m.keys)))
	return nil
}

// persistLocked writes the whole state mapping through the store. The caller
// must hold the mutex. The returned error is informational: ReportOutcome
// absorbs it, administrative operations roll back on it.
func (m *Manager) persistLocked(ctx context.Context, op string) error {
	snapshot := make(map[string]domain.KeyState, len(m.states))
	for fp, st := range m.states {
		snapshot[fp] = st.Clone()
	}
	if err := m.store.Save(ctx, snapshot); err != nil {
		observability.StateErrorsTotal.WithLabelValues(op).Inc()
		slog.Warn("key state save failed; continuing with in-memory state",
			slog.String("op", op),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (m *Manager) refreshCooldownGauge() {
	now := m.now()
	cooling := 0
	for _, st := range m.states {
		if !st.Available(now) {
			cooling++
		}
	}
	observability.KeysInCooldown.Set(float64(cooling))
}
