package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/extract"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

// fakeFetcher serves canned documents and tracks every body it hands out.
type fakeFetcher struct {
	mu        sync.Mutex
	docs      map[string]string
	fail      map[string]error
	requested []string
	open      int
	closed    int
}

func newFakeFetcher(docs map[string]string) *fakeFetcher {
	return &fakeFetcher{docs: docs, fail: map[string]error{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, url)
	if err, ok := f.fail[url]; ok {
		return nil, err
	}
	doc, ok := f.docs[url]
	if !ok {
		return nil, fmt.Errorf("no document for %s", url)
	}
	f.open++
	return &trackedBody{Reader: bytes.NewReader([]byte(doc)), f: f}, nil
}

func (f *fakeFetcher) stillOpen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open - f.closed
}

type trackedBody struct {
	io.Reader
	f    *fakeFetcher
	done bool
}

func (b *trackedBody) Close() error {
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	if !b.done {
		b.done = true
		b.f.closed++
	}
	return nil
}

type recordSink struct {
	records []domain.Record
}

func (s *recordSink) Accept(rec domain.Record) error {
	s.records = append(s.records, rec)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func oaiSource() *domain.Source {
	return &domain.Source{
		ID:             1,
		Title:          "repo",
		Format:         domain.FormatOAIPMH,
		StartURL:       "http://repo.test/oai?verb=ListRecords&metadataPrefix=oai_dc",
		ResumeURL:      "http://repo.test/oai?verb=ListRecords&resumptionToken=",
		URLPattern:     regexp.MustCompile(`^https?://repo\.test/`),
		IdentifierType: "normal",
		Delay:          time.Second,
	}
}

func oaiDoc(token string, pairs ...string) string {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><OAI-PMH><ListRecords>`)
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b, `<record><metadata><dc:identifier>%s</dc:identifier><dc:identifier>%s</dc:identifier></metadata></record>`,
			pairs[i], pairs[i+1])
	}
	if token != "" {
		fmt.Fprintf(&b, `<resumptionToken>%s</resumptionToken>`, token)
	}
	b.WriteString(`</ListRecords></OAI-PMH>`)
	return b.String()
}

func newTestExtractor(t *testing.T, src *domain.Source) (*extract.Extractor, *recordSink) {
	t.Helper()
	sink := &recordSink{}
	ext, err := extract.New(src, sink, logger.NewNop())
	if err != nil {
		t.Fatalf("extract.New() error = %v", err)
	}
	return ext, sink
}

func TestDriverFollowsResumptionTokens(t *testing.T) {
	src := oaiSource()
	f := newFakeFetcher(map[string]string{
		src.StartURL:             oaiDoc("tok123", "urn:nbn:fi:1", "http://repo.test/1"),
		src.ResumeURL + "tok123": oaiDoc("tok456", "urn:nbn:fi:2", "http://repo.test/2"),
		src.ResumeURL + "tok456": oaiDoc("", "urn:nbn:fi:3", "http://repo.test/3"),
	})

	var slept []time.Duration
	var pages int
	d := NewDriver(f, logger.NewNop(),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
		WithPageHook(func(*domain.Source) { pages++ }))

	ext, sink := newTestExtractor(t, src)
	res, err := d.Run(context.Background(), src, src.StartURL, ext)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantURLs := []string{src.StartURL, src.ResumeURL + "tok123", src.ResumeURL + "tok456"}
	if fmt.Sprint(f.requested) != fmt.Sprint(wantURLs) {
		t.Errorf("requested = %v, want %v", f.requested, wantURLs)
	}
	if len(sink.records) != 3 {
		t.Errorf("records = %d, want 3", len(sink.records))
	}
	if res.Pages != 3 || pages != 3 {
		t.Errorf("pages = %d (hook %d), want 3", res.Pages, pages)
	}
	if len(slept) != 2 || slept[0] != time.Second {
		t.Errorf("slept = %v, want two 1s delays", slept)
	}
	if ext.Token() != "" {
		t.Errorf("token left after run: %q", ext.Token())
	}
	if n := f.stillOpen(); n != 0 {
		t.Errorf("%d bodies left open", n)
	}
}

func TestDriverAppendsTokenVerbatim(t *testing.T) {
	src := oaiSource()
	tokens := []string{"oai_dc/2020-01-01///100", "cursor:200|set=a%2Fb"}
	f := newFakeFetcher(map[string]string{
		src.StartURL:              oaiDoc(tokens[0], "urn:nbn:fi:1", "http://repo.test/1"),
		src.ResumeURL + tokens[0]: oaiDoc(tokens[1], "urn:nbn:fi:2", "http://repo.test/2"),
		src.ResumeURL + tokens[1]: oaiDoc("", "urn:nbn:fi:3", "http://repo.test/3"),
	})
	d := NewDriver(f, logger.NewNop(), WithSleep(noSleep))

	ext, sink := newTestExtractor(t, src)
	if _, err := d.Run(context.Background(), src, src.StartURL, ext); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{src.StartURL, src.ResumeURL + tokens[0], src.ResumeURL + tokens[1]}
	if fmt.Sprint(f.requested) != fmt.Sprint(want) {
		t.Errorf("requested = %v, want %v", f.requested, want)
	}
	if len(sink.records) != 3 {
		t.Errorf("records = %d, want 3", len(sink.records))
	}
}

func TestDriverDuplicateAcrossPagesAppliedOnce(t *testing.T) {
	src := oaiSource()
	f := newFakeFetcher(map[string]string{
		src.StartURL:        oaiDoc("t", "urn:nbn:fi:1", "http://repo.test/1"),
		src.ResumeURL + "t": oaiDoc("", "urn:nbn:fi:1", "http://repo.test/other"),
	})

	ext, sink := newTestExtractor(t, src)
	if _, err := NewDriver(f, logger.NewNop(), WithSleep(noSleep)).Run(context.Background(), src, src.StartURL, ext); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].URL != "http://repo.test/1" {
		t.Errorf("records = %+v, want only the first mapping", sink.records)
	}
}

func TestDriverRepairsStrayNBSP(t *testing.T) {
	src := oaiSource()
	doc := `<?xml version="1.0" encoding="UTF-8"?><OAI-PMH><ListRecords>` +
		"<record><metadata><dc:title>Broken\xa0title</dc:title>" +
		`<dc:identifier>urn:nbn:fi:1</dc:identifier><dc:identifier>http://repo.test/1</dc:identifier></metadata></record>` +
		`<record><metadata><dc:identifier>urn:nbn:fi:2</dc:identifier><dc:identifier>http://repo.test/2</dc:identifier></metadata></record>` +
		`</ListRecords></OAI-PMH>`
	f := newFakeFetcher(map[string]string{src.StartURL: doc})

	ext, sink := newTestExtractor(t, src)
	res, err := NewDriver(f, logger.NewNop(), WithSleep(noSleep)).Run(context.Background(), src, src.StartURL, ext)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Repairs != 1 || res.Pages != 1 {
		t.Errorf("result = %+v, want 1 page, 1 repair", res)
	}
	if len(f.requested) != 2 {
		t.Errorf("requested %d times, want 2 (fetch + refetch)", len(f.requested))
	}
	if len(sink.records) != 2 {
		t.Errorf("records = %+v, want 2", sink.records)
	}
	if n := f.stillOpen(); n != 0 {
		t.Errorf("%d bodies left open", n)
	}
}

func TestDriverReportsUnrepairableDocument(t *testing.T) {
	src := oaiSource()
	f := newFakeFetcher(map[string]string{src.StartURL: `<OAI-PMH><ListRecords><record>`})

	ext, _ := newTestExtractor(t, src)
	_, err := NewDriver(f, logger.NewNop(), WithSleep(noSleep)).Run(context.Background(), src, src.StartURL, ext)
	if !extract.IsParseError(err) {
		t.Fatalf("Run() error = %v, want parse error", err)
	}
	if len(f.requested) != 2 {
		t.Errorf("requested %d times, want 2", len(f.requested))
	}
	if n := f.stillOpen(); n != 0 {
		t.Errorf("%d bodies left open", n)
	}
}

func TestDriverTokenWithoutResumeURL(t *testing.T) {
	src := oaiSource()
	src.ResumeURL = ""
	f := newFakeFetcher(map[string]string{src.StartURL: oaiDoc("tok", "urn:nbn:fi:1", "http://repo.test/1")})

	ext, sink := newTestExtractor(t, src)
	_, err := NewDriver(f, logger.NewNop(), WithSleep(noSleep)).Run(context.Background(), src, src.StartURL, ext)
	if !errors.Is(err, ErrNoResumeURL) {
		t.Fatalf("Run() error = %v, want ErrNoResumeURL", err)
	}
	if len(sink.records) != 1 {
		t.Errorf("records from the first page = %d, want 1", len(sink.records))
	}
	if len(f.requested) != 1 {
		t.Errorf("requested = %v, want only the start url", f.requested)
	}
}

func TestDriverMaxRequests(t *testing.T) {
	src := oaiSource()
	f := newFakeFetcher(map[string]string{
		src.StartURL:           oaiDoc("loop"),
		src.ResumeURL + "loop": oaiDoc("loop"),
	})

	ext, _ := newTestExtractor(t, src)
	res, err := NewDriver(f, logger.NewNop(), WithSleep(noSleep), WithMaxRequests(3)).
		Run(context.Background(), src, src.StartURL, ext)
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("Run() error = %v, want ErrTooManyRequests", err)
	}
	if res.Pages != 3 {
		t.Errorf("pages = %d, want 3", res.Pages)
	}
}

func TestDriverFetchErrorMidRun(t *testing.T) {
	src := oaiSource()
	f := newFakeFetcher(map[string]string{src.StartURL: oaiDoc("t", "urn:nbn:fi:1", "http://repo.test/1")})
	f.fail[src.ResumeURL+"t"] = errors.New("connection reset")

	ext, sink := newTestExtractor(t, src)
	_, err := NewDriver(f, logger.NewNop(), WithSleep(noSleep)).Run(context.Background(), src, src.StartURL, ext)
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if len(sink.records) != 1 {
		t.Errorf("records = %d, want the first page kept", len(sink.records))
	}
	if n := f.stillOpen(); n != 0 {
		t.Errorf("%d bodies left open", n)
	}
}

func TestDriverStopsWhenContextCanceled(t *testing.T) {
	src := oaiSource()
	f := newFakeFetcher(map[string]string{src.StartURL: oaiDoc("t", "urn:nbn:fi:1", "http://repo.test/1")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ext, _ := newTestExtractor(t, src)
	_, err := NewDriver(f, logger.NewNop()).Run(ctx, src, src.StartURL, ext)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestStripStrayNBSP(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		count int
	}{
		{"clean", "abc", "abc", 0},
		{"stray", "a\xa0b\xa0", "ab", 2},
		{"encoded nbsp kept", "a\xc2\xa0b", "a\xc2\xa0b", 0},
		{"mixed", "\xc2\xa0x\xa0", "\xc2\xa0x", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := StripStrayNBSP([]byte(tt.in))
			if string(got) != tt.want || n != tt.count {
				t.Errorf("StripStrayNBSP(%q) = %q, %d; want %q, %d", tt.in, got, n, tt.want, tt.count)
			}
		})
	}
}
