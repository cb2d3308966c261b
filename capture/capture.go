// Package capture persists screenshot and HTML snapshots of a failing page
// for post-mortem diagnosis.
package capture

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"citawatch/classify"
)

const stampFormat = "20060102_150405"

// Page is the slice of a browser session the capturer needs.
type Page interface {
	ScreenshotFull() ([]byte, error)
	HTML() (string, error)
}

// Dump writes a full-page screenshot and an HTML snapshot under
// dataDir/screenshots, named {prefix}_{UTC timestamp}.png and .html.
//
// Dump runs on failure paths and must never mask the failure it is
// diagnosing: when the session is already torn down or a write fails, each
// step degrades to an empty placeholder and the error is only logged.
func Dump(page Page, dataDir, prefix string, logger *slog.Logger) (pngPath, htmlPath string) {
	ts := time.Now().UTC().Format(stampFormat)
	dir := filepath.Join(dataDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Failed to create screenshots directory", "dir", dir, "error", err)
	}

	pngPath = filepath.Join(dir, prefix+"_"+ts+".png")
	htmlPath = filepath.Join(dir, prefix+"_"+ts+".html")

	png, err := page.ScreenshotFull()
	if err != nil {
		logger.Warn("Screenshot failed, writing placeholder", "error", err)
		png = nil
	}
	if err := os.WriteFile(pngPath, png, 0o644); err != nil {
		logger.Warn("Failed to write screenshot", "path", pngPath, "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		logger.Warn("HTML dump failed, writing placeholder", "error", err)
		html = ""
	}
	if err := os.WriteFile(htmlPath, []byte(html), 0o644); err != nil {
		logger.Warn("Failed to write HTML dump", "path", htmlPath, "error", err)
	}

	if html != "" {
		if excerpt, exErr := classify.TextFromHTML(html); exErr == nil && excerpt != "" {
			if len(excerpt) > 120 {
				excerpt = excerpt[:120]
			}
			logger.Info("Captured failing page state",
				"screenshot", pngPath,
				"html", htmlPath,
				"excerpt", excerpt)
		}
	}

	return pngPath, htmlPath
}
