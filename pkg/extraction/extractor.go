package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	pdf "github.com/ledongthuc/pdf"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
	"golang.org/x/sync/errgroup"
)

const UnsupportedFormat = "(unsupported format)"

var (
	errMissingDocumentPart = errors.New("word/document.xml not found")
	errPhaseTimeout        = errors.New("timed out")
)

// Timeouts bound each phase of a single extraction.
type Timeouts struct {
	Download time.Duration
	Parse    time.Duration
	Page     time.Duration
}

type Result struct {
	Ref      string
	Filename string
	Text     string
	Err      error
}

func (r Result) Failed() bool { return r.Err != nil }

// Label renders the entry for prompt inclusion with its 1-based position.
func (r Result) Label(position int) string {
	return fmt.Sprintf("Document %d (%s):\n%s", position, r.Filename, r.Text)
}

type Extractor struct {
	fetcher  Fetcher
	timeouts Timeouts
}

func NewExtractor(fetcher Fetcher, timeouts Timeouts) *Extractor {
	return &Extractor{fetcher: fetcher, timeouts: timeouts}
}

// Extract never returns an error: failures are carried in Result.Err and
// rendered as a placeholder in Result.Text.
func (e *Extractor) Extract(ctx context.Context, ref string) Result {
	result := Result{Ref: ref, Filename: filenameOf(ref)}
	text, err := e.extract(ctx, ref, result.Filename)
	if err != nil {
		metrics.IncExtractionFailures()
		logger.Log.WithError(err).WithField("ref", ref).Warn("document extraction failed")
		result.Err = err
		result.Text = fmt.Sprintf("(extraction failed: %v)", err)
		return result
	}
	result.Text = text
	return result
}

// ExtractAll runs extractions concurrently and keeps input order.
func (e *Extractor) ExtractAll(ctx context.Context, refs []string) []Result {
	results := make([]Result, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			results[i] = e.Extract(gctx, ref)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Labeled returns each result labeled with its position.
func Labeled(results []Result) []string {
	out := make([]string, 0, len(results))
	for i, r := range results {
		out = append(out, r.Label(i+1))
	}
	return out
}

func FailureCount(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}

func (e *Extractor) extract(ctx context.Context, ref, name string) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, orDefault(e.timeouts.Download, 30*time.Second))
	defer cancel()
	blob, err := e.fetcher.Download(dctx, ref)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("download %w", errPhaseTimeout)
		}
		return "", err
	}
	if len(blob.Data) == 0 {
		return "", errors.New("empty document")
	}

	switch detectFormat(name, blob.ContentType, blob.Data) {
	case formatPDF:
		return e.pdfText(ctx, blob.Data)
	case formatDOCX:
		return withTimeout(ctx, orDefault(e.timeouts.Parse, 20*time.Second), func() (string, error) {
			return docxText(blob.Data)
		})
	case formatText:
		return strings.TrimSpace(string(blob.Data)), nil
	default:
		return UnsupportedFormat, nil
	}
}

func (e *Extractor) pdfText(ctx context.Context, data []byte) (string, error) {
	reader, err := withTimeout(ctx, orDefault(e.timeouts.Parse, 20*time.Second), func() (*pdf.Reader, error) {
		return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	})
	if err != nil {
		return "", fmt.Errorf("pdf parse: %w", err)
	}

	var out strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := withTimeout(ctx, orDefault(e.timeouts.Page, 5*time.Second), func() (string, error) {
			return page.GetPlainText(nil)
		})
		if err != nil {
			text = fmt.Sprintf("(page extraction failed: %v)", err)
		}
		fmt.Fprintf(&out, "--- Page %d ---\n%s\n", i, strings.TrimSpace(text))
	}
	return strings.TrimSpace(out.String()), nil
}

// withTimeout runs fn in its own goroutine so a parser that never returns
// cannot hold the caller past d. Panics inside fn become errors.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome{value: zero, err: fmt.Errorf("parser panic: %v", r)}
			}
		}()
		v, err := fn()
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	var zero T
	select {
	case o := <-done:
		return o.value, o.err
	case <-timer.C:
		return zero, errPhaseTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func filenameOf(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		if base := path.Base(u.Path); base != "." && base != "/" {
			if unescaped, err := url.PathUnescape(base); err == nil {
				return unescaped
			}
			return base
		}
	}
	return ref
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
