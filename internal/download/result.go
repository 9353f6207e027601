package download

import (
	"fmt"
	"strings"

	"github.com/tidaldl/tidaldl-go/internal/api"
	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
)

// Result is the outcome of one item. It is either Ok (Err == nil) or
// Err(kind, message); warnings may accompany either.
type Result struct {
	Kind      api.Kind
	ItemID    string
	Title     string
	Path      string
	Skipped   bool
	Bytes     int64
	Warnings  []string
	Err       error
	ErrorKind apperrors.ErrorType
}

// OK reports whether the item succeeded.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Message is the human-readable outcome shown to callers.
func (r *Result) Message() string {
	if r.Err != nil {
		return fmt.Sprintf("%s failed: %v", r.Title, r.Err)
	}
	var msg string
	switch {
	case r.Skipped:
		msg = fmt.Sprintf("%s already exists", r.Title)
	default:
		msg = fmt.Sprintf("%s downloaded", r.Title)
	}
	if len(r.Warnings) > 0 {
		msg += " (" + strings.Join(r.Warnings, "; ") + ")"
	}
	return msg
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) fail(err error) *Result {
	r.Err = err
	r.ErrorKind = apperrors.GetErrorType(err)
	return r
}

func failedResult(kind api.Kind, itemID, title string, err error) *Result {
	return (&Result{Kind: kind, ItemID: itemID, Title: title}).fail(err)
}

// BatchReport aggregates the results of one run.
type BatchReport struct {
	RunID     string
	Kind      api.Kind
	Title     string
	Results   []*Result
	Succeeded int
	Failed    int
}

func (b *BatchReport) add(results ...*Result) {
	for _, r := range results {
		b.Results = append(b.Results, r)
		if r.OK() {
			b.Succeeded++
		} else {
			b.Failed++
		}
	}
}

// OK reports whether every item succeeded.
func (b *BatchReport) OK() bool {
	return b.Failed == 0
}

// Summary renders the success and failure counts.
func (b *BatchReport) Summary() string {
	return fmt.Sprintf("%s: %d succeeded, %d failed", b.Title, b.Succeeded, b.Failed)
}
