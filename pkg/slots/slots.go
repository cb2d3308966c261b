// Package slots contains the core domain types for the appointment slot monitor.
package slots

import (
	"errors"
	"fmt"
)

// TimeFormat is the textual format used for CheckedAt timestamps. Values are
// always rendered from UTC wall-clock time.
const TimeFormat = "2006-01-02 15:04:05 UTC"

// CheckResult is the outcome of one completed page check.
// It is never mutated after construction.
type CheckResult struct {
	CheckedAt      string // formatted with TimeFormat
	HasSlots       bool
	Summary        string // first 350 chars of normalized page text
	Digest         string // 16 hex chars, truncated SHA-256 of normalized text
	ScreenshotPath string // set only when slots were found and screenshots are enabled
}

// Checkpoint names the stage at which the page body was inspected.
type Checkpoint string

// Checkpoints of the gate flow.
const (
	CheckpointPreClick  Checkpoint = "pre_click"
	CheckpointPostClick Checkpoint = "post_click"
)

// Failure kinds as reported by Kind.
const (
	KindEmptyPage        = "empty_page"
	KindContinueNotFound = "continue_not_found"
	KindTransient        = "transient"
)

// EmptyPageError indicates the page body was below the minimum length at a
// checkpoint. An emptied body is consistent with automated-traffic
// mitigation rather than an explicit error, so callers treat it as a likely
// soft-block and escalate backoff.
type EmptyPageError struct {
	Checkpoint Checkpoint
	Length     int
}

func (e *EmptyPageError) Error() string {
	return fmt.Sprintf("empty page body at %s checkpoint (%d chars)", e.Checkpoint, e.Length)
}

// IsEmptyPage checks if an error is an EmptyPageError.
func IsEmptyPage(err error) bool {
	var empty *EmptyPageError
	return errors.As(err, &empty)
}

// ContinueNotFoundError indicates no gate control was located in the main
// document or any embedded frame.
type ContinueNotFoundError struct {
	URL string
}

func (e *ContinueNotFoundError) Error() string {
	return fmt.Sprintf("continue control not found on %s", e.URL)
}

// IsContinueNotFound checks if an error is a ContinueNotFoundError.
func IsContinueNotFound(err error) bool {
	var notFound *ContinueNotFoundError
	return errors.As(err, &notFound)
}

// Kind classifies an error into one of the failure kinds. Anything that is
// neither an empty page nor a missing gate control counts as transient
// (timeouts, browser crashes, navigation errors).
func Kind(err error) string {
	switch {
	case IsEmptyPage(err):
		return KindEmptyPage
	case IsContinueNotFound(err):
		return KindContinueNotFound
	default:
		return KindTransient
	}
}
