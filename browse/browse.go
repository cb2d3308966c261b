// Package browse drives a Chromium session through the booking site's gate
// flow and extracts the page text the classifier needs.
package browse

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"citawatch/capture"
	"citawatch/classify"
	"citawatch/pkg/slots"
)

const (
	navigationTimeout = 60 * time.Second
	clickTimeout      = 60 * time.Second
	idleTimeout       = 10 * time.Second

	// Body-length floors below which the site is treated as soft-blocking.
	// The post-click floor is higher because the services view always
	// renders at least a heading.
	minPreClickChars  = 5
	minPostClickChars = 20
)

// Jitter ranges in milliseconds. Randomized pauses between steps keep the
// session from emitting a perfectly periodic automation fingerprint and give
// slow gate pages time to settle.
var (
	preNavigateJitter = [2]int{200, 900}
	settleJitter      = [2]int{700, 1400}
	postClickJitter   = [2]int{900, 1700}
)

// Options configures a browser session.
type Options struct {
	TargetURL string
	DataDir   string // screenshots/ and profile/ live underneath
	Headless  bool
	Logger    *slog.Logger
}

// Session owns one browser, one page, and the persistent profile directory.
// A session is exclusively owned by one check call; it must never be shared.
type Session struct {
	browser   *rod.Browser
	page      *rod.Page
	launch    *launcher.Launcher
	targetURL string
	dataDir   string
	logger    *slog.Logger

	// Gate steps, indirected so tests can drive the flow without a browser.
	navigateFn func(ctx context.Context) error
	idleFn     func()
	pauseFn    func(r [2]int)
	textFn     func(ctx context.Context) (string, error)
	findFn     func(ctx context.Context) *match
	clickFn    func(m *match) error
	snapshot   capture.Page
}

// NewSession launches Chromium with a persistent profile under
// dataDir/profile. Reusing the profile keeps cookies and local storage
// across ticks, which reduces repeated challenge friction on the gate page.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	profileDir := filepath.Join(opts.DataDir, "profile")
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	launch := launcher.New().Headless(opts.Headless).UserDataDir(profileDir)
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		launch.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		launch.Kill()
		return nil, fmt.Errorf("create page: %w", err)
	}

	s := &Session{
		browser:   browser,
		page:      page,
		launch:    launch,
		targetURL: opts.TargetURL,
		dataDir:   opts.DataDir,
		logger:    opts.Logger,
	}
	s.navigateFn = s.navigate
	s.idleFn = s.waitIdle
	s.pauseFn = s.pause
	s.textFn = s.bodyText
	s.findFn = s.findContinue
	s.clickFn = s.clickControl
	s.snapshot = s
	s.acceptDialogs(ctx)
	return s, nil
}

// acceptDialogs auto-accepts any native dialog (the site shows a welcome
// alert on some paths) for the session lifetime. It runs detached and its
// failures are discarded, so a dialog can never surface as an unhandled
// async fault or block the main sequence.
func (s *Session) acceptDialogs(ctx context.Context) {
	page := s.page
	logger := s.logger
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Debug("Dialog handler stopped", "reason", fmt.Sprint(r))
			}
		}()
		page.Context(ctx).EachEvent(func(ev *proto.PageJavascriptDialogOpening) {
			logger.Info("Auto-accepting dialog", "message", ev.Message)
			if err := (proto.PageHandleJavaScriptDialog{Accept: true}).Call(page); err != nil {
				logger.Debug("Dialog accept failed", "error", err)
			}
		})()
	}()
}

// Gate performs one deterministic pass through the gate flow and returns
// the normalized post-click page text, or a classified failure.
func (s *Session) Gate(ctx context.Context) (string, error) {
	s.pauseFn(preNavigateJitter)

	if err := s.navigateFn(ctx); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", s.targetURL, err)
	}
	s.idleFn()
	s.pauseFn(settleJitter)

	text, err := s.textFn(ctx)
	if err != nil {
		return "", fmt.Errorf("extract body text: %w", err)
	}
	if len(text) < minPreClickChars {
		capture.Dump(s.snapshot, s.dataDir, "fail_empty_page", s.logger)
		return "", &slots.EmptyPageError{Checkpoint: slots.CheckpointPreClick, Length: len(text)}
	}

	control := s.findFn(ctx)
	if control == nil {
		capture.Dump(s.snapshot, s.dataDir, "fail_no_continue", s.logger)
		return "", &slots.ContinueNotFoundError{URL: s.targetURL}
	}

	if err := s.clickFn(control); err != nil {
		return "", err
	}

	s.idleFn()
	s.pauseFn(postClickJitter)

	text, err = s.textFn(ctx)
	if err != nil {
		return "", fmt.Errorf("extract post-click body text: %w", err)
	}
	if len(text) < minPostClickChars {
		capture.Dump(s.snapshot, s.dataDir, "fail_empty_after_continue", s.logger)
		return "", &slots.EmptyPageError{Checkpoint: slots.CheckpointPostClick, Length: len(text)}
	}

	return text, nil
}

// clickControl makes the located gate control visible and clicks it.
func (s *Session) clickControl(m *match) error {
	if err := m.el.Timeout(clickTimeout).WaitVisible(); err != nil {
		return fmt.Errorf("wait for gate control (%s): %w", m.strategy, err)
	}
	if err := m.el.Timeout(clickTimeout).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click gate control (%s): %w", m.strategy, err)
	}
	return nil
}

// navigate loads the target URL and waits for the DOM-ready checkpoint, not
// the full load event.
func (s *Session) navigate(ctx context.Context) error {
	page := s.page.Context(ctx).Timeout(navigationTimeout)
	wait := page.WaitEvent(&proto.PageDomContentEventFired{})
	if err := page.Navigate(s.targetURL); err != nil {
		return err
	}
	wait()
	// wait returns on either the event or the deadline; only the deadline
	// leaves an error on the page context.
	return page.GetContext().Err()
}

// waitIdle waits for the network to go quiet. Best-effort: busy third-party
// beacons keep some pages from ever settling, and that is not fatal.
func (s *Session) waitIdle() {
	if err := s.page.WaitIdle(idleTimeout); err != nil {
		s.logger.Debug("Network idle not reached", "error", err)
	}
}

func (s *Session) pause(r [2]int) {
	ms := r[0] + rand.Intn(r[1]-r[0]+1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// bodyText extracts and normalizes the visible body text. innerText
// evaluation is the primary path; when it fails (detached execution context
// after a gate redirect) the page HTML is parsed instead.
func (s *Session) bodyText(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => (document.body && document.body.innerText) || ""`)
	if err == nil {
		return classify.Normalize(res.Value.Str()), nil
	}
	s.logger.Debug("innerText evaluation failed, parsing HTML instead", "error", err)

	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", err
	}
	return classify.TextFromHTML(html)
}

// ScreenshotFull captures a full-page screenshot.
func (s *Session) ScreenshotFull() ([]byte, error) {
	return s.page.Screenshot(true, nil)
}

// HTML returns the current page source.
func (s *Session) HTML() (string, error) {
	return s.page.HTML()
}

// ScreenshotTo writes a full-page screenshot to path.
func (s *Session) ScreenshotTo(path string) error {
	png, err := s.page.Screenshot(true, nil)
	if err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}

// Close tears the session down: page, browser, then the browser process.
// Close is idempotent and safe on an already-dead session; teardown
// failures are logged, never returned, so cleanup can run on every exit
// path including cancellation.
func (s *Session) Close() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.logger.Debug("Page close", "error", err)
		}
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Debug("Browser close", "error", err)
		}
		s.browser = nil
	}
	if s.launch != nil {
		s.launch.Kill()
		s.launch = nil
	}
}
