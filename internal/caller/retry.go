// Package caller provides the retry loop that collaborators run around the
// key pool: select a key, attempt the operation, report the outcome, and back
// off before trying again. The loop is bounded and context-cancelable; it
// replaces hard sleeps inside shared infrastructure.
package caller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/keypool/internal/domain"
	"github.com/fairyhunter13/keypool/internal/pool"
)

// ErrExhausted signals that no key was available on an attempt. It is
// retryable: keys come back as cooldowns and reuse intervals expire.
var ErrExhausted = errors.New("no key available")

// KeyPool is the slice of the pool manager the retry loop needs.
type KeyPool interface {
	SelectKey() (domain.Credential, bool)
	ReportOutcome(ctx context.Context, cred domain.Credential, out pool.Outcome) error
}

// Operation performs one unit of work with the selected credential.
type Operation func(ctx context.Context, key domain.Credential) error

// Failure lets an Operation attach a diagnosable code and message to an
// error, and mark it permanent to stop retrying. Errors that are not a
// Failure are reported with code UNEXPECTED and retried.
type Failure struct {
	Code      string
	Message   string
	Permanent bool
	Err       error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (f *Failure) Unwrap() error { return f.Err }

// Config bounds the retry loop.
type Config struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func (c Config) newBackOff() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	if c.MaxElapsedTime > 0 {
		expo.MaxElapsedTime = c.MaxElapsedTime
	}
	if c.InitialInterval > 0 {
		expo.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		expo.MaxInterval = c.MaxInterval
	}
	if c.Multiplier > 0 {
		expo.Multiplier = c.Multiplier
	}
	return expo
}

// Do runs op with keys drawn from p until it succeeds, a permanent failure
// occurs, the backoff budget is spent, or ctx is canceled. Every attempt's
// outcome is reported back to the pool so cooldowns stay accurate.
func Do(ctx context.Context, p KeyPool, op Operation, cfg Config) error {
	attempt := 0
	run := func() error {
		attempt++
		key, ok := p.SelectKey()
		if !ok {
			slog.Debug("key pool exhausted; backing off", slog.Int("attempt", attempt))
			return ErrExhausted
		}

		err := op(ctx, key)
		if err == nil {
			if rerr := p.ReportOutcome(ctx, key, pool.Outcome{Success: true}); rerr != nil {
				slog.Warn("success outcome report failed", slog.Any("error", rerr))
			}
			return nil
		}

		code, message := "UNEXPECTED", err.Error()
		var f *Failure
		if errors.As(err, &f) {
			code, message = f.Code, f.Message
		}
		if rerr := p.ReportOutcome(ctx, key, pool.Outcome{Success: false, Code: code, Message: message}); rerr != nil {
			slog.Warn("failure outcome report failed", slog.Any("error", rerr))
		}
		if f != nil && f.Permanent {
			return backoff.Permanent(err)
		}
		slog.Warn("attempt failed; retrying with another key",
			slog.Int("attempt", attempt),
			slog.String("code", code))
		return err
	}

	bo := backoff.WithContext(cfg.newBackOff(), ctx)
	if err := backoff.Retry(run, bo); err != nil {
		return fmt.Errorf("op=caller.Do: %w", err)
	}
	return nil
}
