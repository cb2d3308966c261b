package browse

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"citawatch/pkg/slots"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSnapshot struct{}

func (fakeSnapshot) ScreenshotFull() ([]byte, error) { return []byte("png bytes"), nil }
func (fakeSnapshot) HTML() (string, error) {
	return "<html><body>Acceso denegado</body></html>", nil
}

// newGateSession builds a Session whose steps are fakes, so Gate's flow can
// run without a browser. texts feeds the pre/post-click extractions in order.
func newGateSession(t *testing.T, texts []string) (*Session, *gateCalls) {
	t.Helper()
	calls := &gateCalls{}
	s := &Session{
		targetURL: "https://example.org/booking",
		dataDir:   t.TempDir(),
		logger:    testLogger(),
		snapshot:  fakeSnapshot{},
	}
	s.pauseFn = func([2]int) {}
	s.idleFn = func() {}
	s.navigateFn = func(context.Context) error {
		calls.navigated++
		return nil
	}
	s.textFn = func(context.Context) (string, error) {
		i := calls.extracted
		calls.extracted++
		if i >= len(texts) {
			i = len(texts) - 1
		}
		return texts[i], nil
	}
	s.findFn = func(context.Context) *match {
		calls.searched++
		return &match{strategy: "stable id"}
	}
	s.clickFn = func(*match) error {
		calls.clicked++
		return nil
	}
	return s, calls
}

type gateCalls struct {
	navigated int
	extracted int
	searched  int
	clicked   int
}

func captureFiles(t *testing.T, dataDir, prefix string) []string {
	t.Helper()
	pngs, err := filepath.Glob(filepath.Join(dataDir, "screenshots", prefix+"_*.png"))
	if err != nil {
		t.Fatalf("glob error: %v", err)
	}
	htmls, err := filepath.Glob(filepath.Join(dataDir, "screenshots", prefix+"_*.html"))
	if err != nil {
		t.Fatalf("glob error: %v", err)
	}
	return append(pngs, htmls...)
}

func TestGateSuccessReturnsPostClickText(t *testing.T) {
	post := strings.Repeat("Seleccione un servicio disponible. ", 3)
	s, calls := newGateSession(t, []string{"Bienvenido, pulse continuar", post})

	text, err := s.Gate(context.Background())
	if err != nil {
		t.Fatalf("Gate() error: %v", err)
	}
	if text != post {
		t.Errorf("Gate() = %q, want post-click text", text)
	}
	if calls.navigated != 1 || calls.searched != 1 || calls.clicked != 1 || calls.extracted != 2 {
		t.Errorf("calls = %+v, want one navigate/search/click and two extractions", calls)
	}
	if entries, _ := os.ReadDir(filepath.Join(s.dataDir, "screenshots")); len(entries) != 0 {
		t.Errorf("no capture expected on success, found %d files", len(entries))
	}
}

func TestGateEmptyPreClickCapturesAndSkipsClick(t *testing.T) {
	s, calls := newGateSession(t, []string{"hi"})

	_, err := s.Gate(context.Background())
	if !slots.IsEmptyPage(err) {
		t.Fatalf("Gate() error = %v, want EmptyPageError", err)
	}
	var empty *slots.EmptyPageError
	if !errors.As(err, &empty) || empty.Checkpoint != slots.CheckpointPreClick {
		t.Errorf("checkpoint = %v, want pre_click", empty)
	}
	if calls.searched != 0 || calls.clicked != 0 {
		t.Errorf("gate search/click ran after an empty pre-click body: %+v", calls)
	}
	if files := captureFiles(t, s.dataDir, "fail_empty_page"); len(files) != 2 {
		t.Errorf("capture files = %v, want png and html", files)
	}
}

func TestGateContinueNotFoundCaptures(t *testing.T) {
	s, calls := newGateSession(t, []string{"Bienvenido al sistema de citas"})
	s.findFn = func(context.Context) *match { return nil }

	_, err := s.Gate(context.Background())
	if !slots.IsContinueNotFound(err) {
		t.Fatalf("Gate() error = %v, want ContinueNotFoundError", err)
	}
	if calls.clicked != 0 {
		t.Error("click attempted without a located control")
	}
	if files := captureFiles(t, s.dataDir, "fail_no_continue"); len(files) != 2 {
		t.Errorf("capture files = %v, want png and html", files)
	}
}

func TestGateEmptyAfterClickCaptures(t *testing.T) {
	s, calls := newGateSession(t, []string{"Bienvenido, pulse continuar", "..."})

	_, err := s.Gate(context.Background())
	var empty *slots.EmptyPageError
	if !errors.As(err, &empty) || empty.Checkpoint != slots.CheckpointPostClick {
		t.Fatalf("Gate() error = %v, want post_click EmptyPageError", err)
	}
	if calls.clicked != 1 {
		t.Errorf("clicked = %d, want 1", calls.clicked)
	}
	if files := captureFiles(t, s.dataDir, "fail_empty_after_continue"); len(files) != 2 {
		t.Errorf("capture files = %v, want png and html", files)
	}
}

// The gate search order is a documented tie-break policy: the stable id
// must win over role/text matches, and generic fallbacks come last.
func TestGateStrategyOrder(t *testing.T) {
	want := []string{"stable id", "button text (en)", "button text (es)", "plain text", "submit input"}

	if len(gateStrategies) != len(want) {
		t.Fatalf("got %d strategies, want %d", len(gateStrategies), len(want))
	}
	for i, st := range gateStrategies {
		if st.name != want[i] {
			t.Errorf("strategy[%d] = %q, want %q", i, st.name, want[i])
		}
	}
}

func TestJitterRangesAreSane(t *testing.T) {
	for _, r := range [][2]int{preNavigateJitter, settleJitter, postClickJitter} {
		if r[0] <= 0 || r[1] <= r[0] {
			t.Errorf("jitter range %v is not a positive, increasing range", r)
		}
		if time.Duration(r[1])*time.Millisecond > 2*time.Second {
			t.Errorf("jitter range %v upper bound is too long for a single step", r)
		}
	}
}

func TestEmptyPageThresholds(t *testing.T) {
	if minPreClickChars >= minPostClickChars {
		t.Errorf("post-click floor (%d) must exceed pre-click floor (%d)",
			minPostClickChars, minPreClickChars)
	}
}
