// Package harvest fetches source documents page by page and runs them
// through an extractor, then drives whole-source runs on top of that.
package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/extract"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
	"github.com/MrSnakeDoc/urnharvest/internal/utils"
)

var (
	// ErrNoResumeURL is returned when a document carries a resumption token
	// but the source has nowhere to send it.
	ErrNoResumeURL = errors.New("resumption token found but source has no resume url")
	// ErrTooManyRequests stops a run whose server keeps handing out tokens.
	ErrTooManyRequests = errors.New("request limit reached while paginating")
)

// Fetcher returns the body of a url. The caller closes it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Extractor is the part of *extract.Extractor the driver needs.
type Extractor interface {
	Parse(ctx context.Context, r io.Reader) error
	Token() string
	ClearToken()
	Checkpoint() extract.Checkpoint
	Rewind(cp extract.Checkpoint)
}

// Result describes one completed pagination.
type Result struct {
	Pages   int
	Repairs int
}

// Driver follows resumption tokens until a source is exhausted.
type Driver struct {
	fetcher     Fetcher
	log         logger.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	maxRequests int
	onPage      func(src *domain.Source)
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithMaxRequests caps the number of documents fetched per run. 0 disables the cap.
func WithMaxRequests(n int) DriverOption {
	return func(d *Driver) { d.maxRequests = n }
}

// WithSleep replaces the delay between pages.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) DriverOption {
	return func(d *Driver) { d.sleep = fn }
}

// WithPageHook is called after every successfully parsed document.
func WithPageHook(fn func(src *domain.Source)) DriverOption {
	return func(d *Driver) { d.onPage = fn }
}

// NewDriver creates a Driver.
func NewDriver(fetcher Fetcher, log logger.Logger, opts ...DriverOption) *Driver {
	d := &Driver{
		fetcher: fetcher,
		log:     log,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run parses startURL and every page its resumption tokens lead to.
func (d *Driver) Run(ctx context.Context, src *domain.Source, startURL string, ext Extractor) (Result, error) {
	var res Result

	if err := d.page(ctx, src, startURL, ext, &res); err != nil {
		return res, err
	}

	for token := ext.Token(); token != ""; token = ext.Token() {
		if src.ResumeURL == "" {
			return res, fmt.Errorf("%w (source %s)", ErrNoResumeURL, src.Title)
		}
		if d.maxRequests > 0 && res.Pages >= d.maxRequests {
			return res, fmt.Errorf("%w (%d)", ErrTooManyRequests, d.maxRequests)
		}

		d.log.Debug("found resumption token",
			logger.String("source", src.Title),
			logger.String("token", token))

		if err := d.sleep(ctx, src.Delay); err != nil {
			return res, err
		}

		next := src.ResumeURL + token
		ext.ClearToken()
		if err := d.page(ctx, src, next, ext, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// page fetches and parses one document. A parse failure caused by stray
// 0xA0 bytes is repaired by fetching the document again, dropping those
// bytes and reparsing from the checkpoint taken before the first attempt.
func (d *Driver) page(ctx context.Context, src *domain.Source, u string, ext Extractor, res *Result) error {
	cp := ext.Checkpoint()

	body, err := d.fetcher.Fetch(ctx, u)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u, err)
	}
	err = ext.Parse(ctx, body)
	utils.MustClose(body, d.log)

	if err != nil {
		if !extract.IsParseError(err) {
			return err
		}
		if rerr := d.repair(ctx, src, u, ext, cp, err); rerr != nil {
			return rerr
		}
		res.Repairs++
	}

	res.Pages++
	if d.onPage != nil {
		d.onPage(src)
	}
	return nil
}

func (d *Driver) repair(ctx context.Context, src *domain.Source, u string, ext Extractor, cp extract.Checkpoint, parseErr error) error {
	body, err := d.fetcher.Fetch(ctx, u)
	if err != nil {
		return errors.Join(parseErr, fmt.Errorf("refetch %s: %w", u, err))
	}
	data, err := io.ReadAll(body)
	utils.MustClose(body, d.log)
	if err != nil {
		return errors.Join(parseErr, fmt.Errorf("read %s: %w", u, err))
	}

	cleaned, stripped := StripStrayNBSP(data)
	if stripped == 0 {
		return fmt.Errorf("parse %s: %w", u, parseErr)
	}

	d.log.Warn("stripped stray 0xA0 bytes, parsing again",
		logger.String("source", src.Title),
		logger.String("url", u),
		logger.Int("bytes", stripped))

	ext.Rewind(cp)
	if err := ext.Parse(ctx, bytes.NewReader(cleaned)); err != nil {
		return fmt.Errorf("parse %s after repair: %w", u, err)
	}
	return nil
}

// StripStrayNBSP removes 0xA0 bytes that are not part of a valid UTF-8
// sequence and reports how many were dropped. Encoded U+00A0 is kept.
func StripStrayNBSP(data []byte) ([]byte, int) {
	if bytes.IndexByte(data, 0xA0) < 0 {
		return data, 0
	}
	out := make([]byte, 0, len(data))
	n := 0
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 && data[i] == 0xA0 {
			n++
			i++
			continue
		}
		out = append(out, data[i:i+size]...)
		i += size
	}
	return out, n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
