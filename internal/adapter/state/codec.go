// Package state defines the persisted wire format shared by the state store
// adapters: a JSON mapping from credential fingerprint to a state record with
// epoch-second timestamps.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fairyhunter13/keypool/internal/domain"
)

type failureRecord struct {
	At      int64  `json:"at"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type keyRecord struct {
	CooldownUntil int64          `json:"cooldown_until,omitempty"`
	Failures      int            `json:"failures"`
	LastUsedAt    int64          `json:"last_used_at,omitempty"`
	LastFailure   *failureRecord `json:"last_failure,omitempty"`
}

// Marshal encodes the state mapping as JSON.
func Marshal(states map[string]domain.KeyState) ([]byte, error) {
	records := make(map[string]keyRecord, len(states))
	for fp, st := range states {
		rec := keyRecord{Failures: st.ConsecutiveFailures}
		if !st.CooldownUntil.IsZero() {
			rec.CooldownUntil = st.CooldownUntil.Unix()
		}
		if !st.LastUsedAt.IsZero() {
			rec.LastUsedAt = st.LastUsedAt.Unix()
		}
		if st.LastFailure != nil {
			rec.LastFailure = &failureRecord{
				At:      st.LastFailure.At.Unix(),
				Code:    st.LastFailure.Code,
				Message: st.LastFailure.Message,
			}
		}
		records[fp] = rec
	}
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("op=state.Marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a JSON state mapping. Timestamps come back UTC at second
// precision, matching the wire format.
func Unmarshal(b []byte) (map[string]domain.KeyState, error) {
	var records map[string]keyRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("op=state.Unmarshal: %w", err)
	}
	states := make(map[string]domain.KeyState, len(records))
	for fp, rec := range records {
		st := domain.KeyState{ConsecutiveFailures: rec.Failures}
		if rec.CooldownUntil != 0 {
			st.CooldownUntil = time.Unix(rec.CooldownUntil, 0).UTC()
		}
		if rec.LastUsedAt != 0 {
			st.LastUsedAt = time.Unix(rec.LastUsedAt, 0).UTC()
		}
		if rec.LastFailure != nil {
			st.LastFailure = &domain.LastFailure{
				At:      time.Unix(rec.LastFailure.At, 0).UTC(),
				Code:    rec.LastFailure.Code,
				Message: rec.LastFailure.Message,
			}
		}
		states[fp] = st
	}
	return states, nil
}
