// Package check runs one bounded, budgeted slot check against the target
// page and classifies the outcome.
package check

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"citawatch/browse"
	"citawatch/classify"
	"citawatch/pkg/slots"
)

const (
	defaultAttempts = 3
	defaultBudget   = 90 * time.Second

	// Small fixed pause between gate passes so the browser settles. This is
	// not backoff: inter-check backoff is the scheduler's cooldown.
	interAttemptDelay = 500 * time.Millisecond

	stampFormat = "20060102_150405"
)

// Session is one browser pass through the gate flow. The production
// implementation is browse.Session.
type Session interface {
	Gate(ctx context.Context) (string, error)
	ScreenshotTo(path string) error
	Close()
}

// Config holds the checker's knobs. Zero values pick the defaults.
type Config struct {
	TargetURL         string
	DataDir           string
	ScreenshotOnSlots bool
	Headless          bool
	Attempts          int
	Budget            time.Duration
}

// Checker performs complete slot checks, one browser session per call.
type Checker struct {
	cfg        Config
	logger     *slog.Logger
	newSession func(ctx context.Context) (Session, error)
}

// New creates a checker that launches real browser sessions.
func New(cfg Config, logger *slog.Logger) *Checker {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Budget <= 0 {
		cfg.Budget = defaultBudget
	}
	c := &Checker{cfg: cfg, logger: logger}
	c.newSession = func(ctx context.Context) (Session, error) {
		return browse.NewSession(ctx, browse.Options{
			TargetURL: cfg.TargetURL,
			DataDir:   cfg.DataDir,
			Headless:  cfg.Headless,
			Logger:    logger,
		})
	}
	return c
}

// Once performs one complete check: a single browser session, up to
// Attempts gate passes, and classification of the final page text.
//
// The whole call runs under a hard wall-clock budget. The session is torn
// down on every exit path, including cancellation; teardown tolerates an
// already-closed session. On exhaustion the last classified error is
// returned so the caller can pick its backoff policy.
func (c *Checker) Once(ctx context.Context) (*slots.CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Budget)
	defer cancel()

	checkedAt := time.Now().UTC().Format(slots.TimeFormat)

	session, err := c.newSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var text string
	err = retry.Do(
		func() error {
			var gateErr error
			text, gateErr = session.Gate(ctx)
			return gateErr
		},
		retry.Attempts(uint(c.cfg.Attempts)),
		retry.Delay(interAttemptDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Gate pass failed, retrying",
				"attempt", n+1,
				"kind", slots.Kind(err),
				"error", err)
		}),
		retry.RetryIf(func(error) bool {
			return ctx.Err() == nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("check exhausted after %d attempts: %w", c.cfg.Attempts, err)
	}

	res := classify.Classify(text)
	result := &slots.CheckResult{
		CheckedAt: checkedAt,
		HasSlots:  res.HasSlots,
		Summary:   res.Summary,
		Digest:    res.Digest,
	}

	if res.HasSlots && c.cfg.ScreenshotOnSlots {
		path := filepath.Join(c.cfg.DataDir, "screenshots",
			"slots_"+time.Now().UTC().Format(stampFormat)+".png")
		if err := session.ScreenshotTo(path); err != nil {
			c.logger.Warn("Slots screenshot failed", "path", path, "error", err)
		} else {
			result.ScreenshotPath = path
		}
	}

	c.logger.Info("Check completed",
		"has_slots", result.HasSlots,
		"digest", result.Digest,
		"summary_len", len(result.Summary))

	return result, nil
}
