// Package probe waits for a freshly provisioned host to accept SSH. It purges
// stale trust records for the address first, then polls with exponential
// backoff until a handshake and authentication succeed or the deadline passes.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/sshconn"
	"golang.org/x/crypto/ssh"
)

// Defaults used when a Config field is zero.
const (
	DefaultInitialDelay = 30 * time.Second
	DefaultInterval     = time.Second
	DefaultMaxInterval  = 16 * time.Second
	DefaultMaxWait      = 5 * time.Minute
)

// Config tunes the polling schedule.
type Config struct {
	// InitialDelay is the boot allowance before the first attempt. A negative
	// value disables it.
	InitialDelay time.Duration
	Interval     time.Duration
	MaxInterval  time.Duration
	// MaxWait bounds the whole probe, including InitialDelay.
	MaxWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

// Result describes a successful probe.
type Result struct {
	Address     string
	Fingerprint string
	Attempts    int
}

// Connector opens an authenticated client. *sshconn.Dialer implements it.
type Connector interface {
	Connect(ctx context.Context, c sshconn.Connection) (*sshconn.Client, error)
}

// Probe gates remote work on a host being reachable.
type Probe struct {
	Trust     *sshconn.TrustStore
	Connector Connector
	Config    Config

	// clock hooks for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New returns a probe using dialer for connections and its trust store for
// purging.
func New(dialer *sshconn.Dialer, cfg Config) *Probe {
	return &Probe{Trust: dialer.Trust, Connector: dialer, Config: cfg}
}

// Wait blocks until conn accepts an authenticated SSH session. On deadline it
// returns an *UnreachableError, which is fatal to the run.
func (p *Probe) Wait(ctx context.Context, conn sshconn.Connection) (Result, error) {
	cfg := p.Config.withDefaults()
	addr := conn.Address()
	ctx, logger := ctxlog.With(ctx, "address", addr)

	sleep, now := p.sleep, p.now
	if sleep == nil {
		sleep = sleepCtx
	}
	if now == nil {
		now = time.Now
	}
	started := now()

	if p.Trust != nil {
		removed, err := p.Trust.Purge(conn.Host, conn.Port)
		if err != nil {
			return Result{}, fmt.Errorf("purging trust records for %s: %w", addr, err)
		}
		if removed > 0 {
			logger.Info("Removed stale host key records.", "count", removed)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.MaxWait)
	defer cancel()

	logger.Info("⏳ Waiting for host to boot", "delay", cfg.InitialDelay)
	if err := sleep(waitCtx, cfg.InitialDelay); err != nil {
		return Result{}, p.unreachable(ctx, addr, 0, now().Sub(started), err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Interval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := 0
	var lastErr error
	for {
		attempts++
		client, err := p.Connector.Connect(waitCtx, conn)
		if err == nil {
			fp := ssh.FingerprintSHA256(client.HostKey)
			_ = client.Close()
			logger.Info("✅ Host reachable", "attempts", attempts, "fingerprint", fp)
			return Result{Address: addr, Fingerprint: fp, Attempts: attempts}, nil
		}

		var mismatch *sshconn.HostKeyMismatchError
		if errors.As(err, &mismatch) {
			// Another connection pinned a different key since the purge.
			return Result{}, err
		}
		lastErr = err

		delay := b.NextBackOff()
		logger.Debug("SSH not ready, retrying", "attempt", attempts, "delay", delay, "error", err)
		if err := sleep(waitCtx, delay); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, p.unreachable(ctx, addr, attempts, now().Sub(started), lastErr)
		}
	}
}

func (p *Probe) unreachable(ctx context.Context, addr string, attempts int, waited time.Duration, lastErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return &UnreachableError{Address: addr, Attempts: attempts, Waited: waited, LastErr: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnreachableError means the host never accepted a session before the
// deadline. The scheduler treats it as fatal.
type UnreachableError struct {
	Address  string
	Attempts int
	Waited   time.Duration
	LastErr  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("host %s unreachable after %d attempts in %s: %v", e.Address, e.Attempts, e.Waited.Round(time.Millisecond), e.LastErr)
}

func (e *UnreachableError) Unwrap() error { return e.LastErr }

// Fatal marks the error as one that stops the run.
func (e *UnreachableError) Fatal() bool { return true }
