// Package monitor runs the recurring check job and decides when a check
// result is worth telling subscribers about.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"citawatch/pkg/slots"
	"citawatch/storage"
)

// Cooldown windows applied after a failed tick. An empty page looks like a
// soft block, so its cooldown escalates with the consecutive-failure streak.
const (
	transientCooldown  = 1 * time.Minute
	noContinueCooldown = 3 * time.Minute
	emptyPageCooldown  = 5 * time.Minute
	maxCooldown        = 30 * time.Minute

	// First tick fires shortly after Start rather than a full interval later.
	startupDelay = 1 * time.Second
)

// Checker runs one complete slot check.
type Checker interface {
	Once(ctx context.Context) (*slots.CheckResult, error)
}

// Store is the persistence the monitor needs: settings, subscribers, and
// the last-check record.
type Store interface {
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	IntSetting(ctx context.Context, key string, def int) (int, error)
	ListSubscribers(ctx context.Context) ([]int64, error)
	SaveLastCheck(ctx context.Context, res *slots.CheckResult) error
}

// Notifier fans a message out to subscribers.
type Notifier interface {
	Broadcast(ctx context.Context, chatIDs []int64, text string)
}

// Monitor owns the single recurring check job. At most one job runs at a
// time; ticks within a job never overlap.
type Monitor struct {
	checker   Checker
	store     Store
	notifier  Notifier
	logger    *slog.Logger
	targetURL string

	now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped monitor.
func New(checker Checker, store Store, notifier Notifier, targetURL string, logger *slog.Logger) *Monitor {
	return &Monitor{
		checker:   checker,
		store:     store,
		notifier:  notifier,
		logger:    logger,
		targetURL: targetURL,
		now:       time.Now,
	}
}

// Running reports whether the recurring job is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Start launches the recurring job. Starting an already-running monitor is
// an error; use Restart to change the interval.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return fmt.Errorf("monitor already running")
	}

	jobCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	m.logger.Info("Monitoring started", "interval", interval.String())
	go m.run(jobCtx, interval, done)
	return nil
}

// Stop cancels the job and waits for the in-flight tick, if any, to
// finish. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("Monitoring stopped")
}

// Restart stops the job if running and starts it with a new interval.
func (m *Monitor) Restart(ctx context.Context, interval time.Duration) error {
	m.Stop()
	return m.Start(ctx, interval)
}

func (m *Monitor) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	first := time.NewTimer(startupDelay)
	defer first.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-first.C:
			m.Tick(ctx)
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one scheduled check. It never returns an error: a failed
// check must not kill the recurring job, so failures are logged and turned
// into cooldown state instead.
func (m *Monitor) Tick(ctx context.Context) {
	if until, active := m.cooldownActive(ctx); active {
		m.logger.Info("Tick skipped, cooldown active", "until", until.UTC().Format(time.RFC3339))
		return
	}

	res, err := m.checker.Once(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.handleFailure(ctx, err)
		return
	}
	m.handleSuccess(ctx, res)
}

func (m *Monitor) cooldownActive(ctx context.Context) (time.Time, bool) {
	raw, err := m.store.Setting(ctx, storage.KeyCooldownUntil)
	if err != nil || raw == "" {
		return time.Time{}, false
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return until, m.now().Before(until)
}

func (m *Monitor) handleSuccess(ctx context.Context, res *slots.CheckResult) {
	prevDigest, err := m.store.Setting(ctx, storage.KeyLastDigest)
	if err != nil {
		m.logger.Error("Failed to read previous digest", "error", err)
	}
	prevHasSlots, err := m.store.Setting(ctx, storage.KeyLastHasSlots)
	if err != nil {
		m.logger.Error("Failed to read previous slots flag", "error", err)
	}

	if err := m.store.SaveLastCheck(ctx, res); err != nil {
		m.logger.Error("Failed to persist check result", "error", err)
	}
	m.setSettings(ctx, map[string]string{
		storage.KeyLastDigest:    res.Digest,
		storage.KeyLastHasSlots:  boolSetting(res.HasSlots),
		storage.KeyEmptyStreak:   "0",
		storage.KeyCooldownUntil: "",
		storage.KeyLastError:     "",
	})

	digestChanged := res.Digest != prevDigest
	wasNoSlots := prevHasSlots != "1"

	m.logger.Info("Tick completed",
		"has_slots", res.HasSlots,
		"digest_changed", digestChanged,
		"was_no_slots", wasNoSlots)

	if !res.HasSlots || (!digestChanged && !wasNoSlots) {
		return
	}

	subs, err := m.store.ListSubscribers(ctx)
	if err != nil {
		m.logger.Error("Failed to list subscribers", "error", err)
		return
	}
	m.notifier.Broadcast(ctx, subs, slotsMessage(res, m.targetURL))
}

func (m *Monitor) handleFailure(ctx context.Context, err error) {
	kind := slots.Kind(err)

	var cooldown time.Duration
	switch kind {
	case slots.KindEmptyPage:
		streak, serr := m.store.IntSetting(ctx, storage.KeyEmptyStreak, 0)
		if serr != nil {
			m.logger.Error("Failed to read empty streak", "error", serr)
		}
		streak++
		cooldown = time.Duration(streak) * emptyPageCooldown
		if cooldown > maxCooldown {
			cooldown = maxCooldown
		}
		m.setSettings(ctx, map[string]string{
			storage.KeyEmptyStreak: fmt.Sprintf("%d", streak),
		})
	case slots.KindContinueNotFound:
		cooldown = noContinueCooldown
	default:
		cooldown = transientCooldown
	}

	until := m.now().Add(cooldown).UTC()
	m.setSettings(ctx, map[string]string{
		storage.KeyCooldownUntil: until.Format(time.RFC3339),
		storage.KeyLastError:     err.Error(),
	})

	m.logger.Warn("Tick failed",
		"kind", kind,
		"cooldown", cooldown.String(),
		"cooldown_until", until.Format(time.RFC3339),
		"error", err)
}

func (m *Monitor) setSettings(ctx context.Context, kv map[string]string) {
	for key, value := range kv {
		if err := m.store.SetSetting(ctx, key, value); err != nil {
			m.logger.Error("Failed to update setting", "key", key, "error", err)
		}
	}
}

func boolSetting(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func slotsMessage(res *slots.CheckResult, targetURL string) string {
	return fmt.Sprintf("🟢 Appointment slots may be available!\n\nChecked: %s\n%s\n\n%s",
		res.CheckedAt, targetURL, res.Summary)
}
