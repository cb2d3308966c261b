package check

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"citawatch/pkg/slots"
)

type fakeSession struct {
	gates      []func(ctx context.Context) (string, error)
	gateCalls  int
	screenshot string
	closed     bool
}

func (f *fakeSession) Gate(ctx context.Context) (string, error) {
	call := f.gateCalls
	f.gateCalls++
	if call >= len(f.gates) {
		call = len(f.gates) - 1
	}
	return f.gates[call](ctx)
}

func (f *fakeSession) ScreenshotTo(path string) error {
	f.screenshot = path
	return nil
}

func (f *fakeSession) Close() { f.closed = true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestChecker(t *testing.T, cfg Config, session *fakeSession) *Checker {
	t.Helper()
	c := New(cfg, testLogger())
	c.newSession = func(context.Context) (Session, error) { return session, nil }
	return c
}

func ok(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func fail(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

func TestOnceSucceedsOnThirdAttempt(t *testing.T) {
	session := &fakeSession{gates: []func(context.Context) (string, error){
		fail(&slots.EmptyPageError{Checkpoint: slots.CheckpointPreClick, Length: 2}),
		fail(errors.New("click timeout")),
		ok("Seleccione un servicio disponible para continuar con la reserva"),
	}}

	c := newTestChecker(t, Config{Attempts: 3, DataDir: t.TempDir()}, session)

	res, err := c.Once(context.Background())
	if err != nil {
		t.Fatalf("Once() error: %v", err)
	}
	if session.gateCalls != 3 {
		t.Errorf("gate called %d times, want 3", session.gateCalls)
	}
	if !res.HasSlots {
		t.Error("expected HasSlots=true for text without negative phrases")
	}
	if len(res.Digest) != 16 {
		t.Errorf("digest length = %d, want 16", len(res.Digest))
	}
	if !session.closed {
		t.Error("session not closed after success")
	}
}

func TestOnceExhaustionKeepsLastClassifiedError(t *testing.T) {
	session := &fakeSession{gates: []func(context.Context) (string, error){
		fail(errors.New("navigation timeout")),
		fail(&slots.EmptyPageError{Checkpoint: slots.CheckpointPostClick, Length: 4}),
	}}

	c := newTestChecker(t, Config{Attempts: 2, DataDir: t.TempDir()}, session)

	_, err := c.Once(context.Background())
	if err == nil {
		t.Fatal("Once() should fail after exhausting attempts")
	}
	if session.gateCalls != 2 {
		t.Errorf("gate called %d times, want 2", session.gateCalls)
	}
	if !slots.IsEmptyPage(err) {
		t.Errorf("last classified error lost through wrapping: %v", err)
	}
	if !session.closed {
		t.Error("session not closed after exhaustion")
	}
}

func TestOnceClassifiesNoSlots(t *testing.T) {
	session := &fakeSession{gates: []func(context.Context) (string, error){
		ok("No hay horas disponibles. Inténtelo de nuevo más tarde."),
	}}

	c := newTestChecker(t, Config{ScreenshotOnSlots: true, DataDir: t.TempDir()}, session)

	res, err := c.Once(context.Background())
	if err != nil {
		t.Fatalf("Once() error: %v", err)
	}
	if res.HasSlots {
		t.Error("expected HasSlots=false")
	}
	if session.screenshot != "" {
		t.Error("no screenshot should be taken when no slots were found")
	}
	if res.ScreenshotPath != "" {
		t.Errorf("ScreenshotPath = %q, want empty", res.ScreenshotPath)
	}
}

func TestOnceScreenshotOnSlots(t *testing.T) {
	session := &fakeSession{gates: []func(context.Context) (string, error){
		ok("Hay citas disponibles para el servicio seleccionado"),
	}}

	c := newTestChecker(t, Config{ScreenshotOnSlots: true, DataDir: t.TempDir()}, session)

	res, err := c.Once(context.Background())
	if err != nil {
		t.Fatalf("Once() error: %v", err)
	}
	if res.ScreenshotPath == "" || res.ScreenshotPath != session.screenshot {
		t.Errorf("ScreenshotPath = %q, session wrote %q", res.ScreenshotPath, session.screenshot)
	}
}

func TestOnceBudgetReleasesSession(t *testing.T) {
	session := &fakeSession{gates: []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}}

	c := newTestChecker(t, Config{Attempts: 3, Budget: 50 * time.Millisecond, DataDir: t.TempDir()}, session)

	start := time.Now()
	_, err := c.Once(context.Background())
	if err == nil {
		t.Fatal("Once() should fail when the budget is exceeded")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should wrap context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Once() took %v, should stop near the 50ms budget", elapsed)
	}
	if !session.closed {
		t.Error("session must be released after a budget timeout")
	}
}

func TestOnceSessionOpenFailure(t *testing.T) {
	c := New(Config{DataDir: t.TempDir()}, testLogger())
	openErr := errors.New("chromium not found")
	c.newSession = func(context.Context) (Session, error) { return nil, openErr }

	_, err := c.Once(context.Background())
	if !errors.Is(err, openErr) {
		t.Errorf("Once() error = %v, want wrapped %v", err, openErr)
	}
}
