package sources

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
)

var (
	ErrInvalidTitle  = errors.New("invalid source title")
	ErrUnknownSource = errors.New("unknown source")
	ErrNoSources     = errors.New("no sources configured")
)

var titlePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidTitle reports whether title only uses letters, digits, '-' and '_'.
func ValidTitle(title string) bool {
	return titlePattern.MatchString(title)
}

// Mapper converts the file entries to domain.Source values
type Mapper struct{}

// NewMapper creates a new mapper instance
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapSources validates every entry and resolves exclude_from titles.
// All problems are reported together.
func (m *Mapper) MapSources(file File) (*Registry, error) {
	var (
		errs    []error
		sources []*domain.Source
		byTitle = make(map[string]*domain.Source)
		byID    = make(map[int64]bool)
	)

	for i, props := range file.Sources {
		if props.Disabled {
			continue
		}
		src, err := mapSource(props)
		if err != nil {
			errs = append(errs, fmt.Errorf("source #%d (%s): %w", i+1, props.Title, err))
			continue
		}
		if _, dup := byTitle[src.Title]; dup {
			errs = append(errs, fmt.Errorf("source #%d: duplicate title %q", i+1, src.Title))
			continue
		}
		if byID[src.ID] {
			errs = append(errs, fmt.Errorf("source #%d (%s): duplicate id %d", i+1, src.Title, src.ID))
			continue
		}
		byTitle[src.Title] = src
		byID[src.ID] = true
		sources = append(sources, src)
	}

	for _, src := range sources {
		for _, title := range src.ExcludeFrom {
			other, ok := byTitle[title]
			if !ok {
				errs = append(errs, fmt.Errorf("source %s: exclude_from %q: %w", src.Title, title, ErrUnknownSource))
				continue
			}
			src.ExcludeIDs = append(src.ExcludeIDs, other.ID)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	return &Registry{sources: sources, byTitle: byTitle}, nil
}

func mapSource(p SourceProps) (*domain.Source, error) {
	if !ValidTitle(p.Title) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTitle, p.Title)
	}
	if p.ID <= 0 {
		return nil, fmt.Errorf("id must be > 0, got %d", p.ID)
	}

	format := domain.Format(p.Format)
	if !format.Known() {
		return nil, fmt.Errorf("unknown format %q", p.Format)
	}
	if err := checkURL("start_url", p.StartURL); err != nil {
		return nil, err
	}
	if p.ResumeURL != "" {
		if err := checkURL("resume_url", p.ResumeURL); err != nil {
			return nil, err
		}
	} else if format.Paginates() {
		return nil, fmt.Errorf("format %s paginates and needs a resume_url", format)
	}

	if p.URLPattern == "" {
		return nil, errors.New("url_pattern is required")
	}
	// Candidate urls must match from their first byte.
	pattern, err := regexp.Compile(`^(?:` + p.URLPattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("url_pattern: %w", err)
	}

	delay, err := parseDelay(p.Delay)
	if err != nil {
		return nil, err
	}

	src := &domain.Source{
		ID:              p.ID,
		Title:           p.Title,
		Format:          format,
		StartURL:        p.StartURL,
		ResumeURL:       p.ResumeURL,
		URLPattern:      pattern,
		IdentifierType:  p.IdentifierType,
		Delay:           delay,
		LegacyPrefix:    p.LegacyPrefix,
		CanonicalPrefix: p.CanonicalPrefix,
		ExcludeFrom:     p.ExcludeFrom,
	}
	if src.IdentifierType == "" {
		src.IdentifierType = "normal"
	}
	if format == domain.FormatSuccessor {
		if src.LegacyPrefix == "" {
			src.LegacyPrefix = domain.DefaultLegacyPrefix
		}
		if src.CanonicalPrefix == "" {
			src.CanonicalPrefix = domain.DefaultCanonicalPrefix
		}
	}
	if len(src.ExcludeFrom) > 0 && format != domain.FormatLegacyMirror {
		return nil, fmt.Errorf("exclude_from is only supported for format %s", domain.FormatLegacyMirror)
	}
	return src, nil
}

func checkURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", field, u.Scheme)
	}
	return nil
}

func parseDelay(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.DefaultDelay, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("delay must be >= 0, got %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("delay: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("delay must be >= 0, got %v", d)
	}
	return d, nil
}
