// Package probe loads a rendered page in headless Chrome and checks what a
// browser actually sees.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"edgessr/internal/render"
)

// Options controls a single probe run.
type Options struct {
	URL        string
	Name       string // sent as NameHeader when non-empty
	NameHeader string
	ChromePath string
	NoSandbox  bool
	Timeout    time.Duration
}

// Snapshot is what the browser saw after the page finished loading.
type Snapshot struct {
	Title   string
	Heading string
	Clock   string
	HTML    string
}

var (
	// ErrNoURL is returned by Probe when Options.URL is empty.
	ErrNoURL = errors.New("probe: url is required")
	// ErrTitleMismatch signals a document title other than the greeting page's.
	ErrTitleMismatch = errors.New("probe: unexpected title")
	// ErrGreeting signals an h1 heading that does not greet the expected name.
	ErrGreeting = errors.New("probe: unexpected greeting")
	// ErrTimestamp signals an h3 line without a parseable instant.
	ErrTimestamp = errors.New("probe: timestamp line is not a valid instant")
)

// Probe starts a throwaway headless Chrome, requests opts.URL and captures
// the page.
func Probe(ctx context.Context, opts Options) (Snapshot, error) {
	var snap Snapshot
	if opts.URL == "" {
		return snap, ErrNoURL
	}
	if opts.NameHeader == "" {
		opts.NameHeader = "X-Name"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	tmpDir, err := os.MkdirTemp("", "ssrprobe-*")
	if err != nil {
		return snap, fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(opts, tmpDir)...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancel := context.WithTimeout(browserCtx, opts.Timeout)
	defer cancel()

	if err := chromedp.Run(runCtx, actions(opts, &snap)...); err != nil {
		return snap, err
	}
	return snap, nil
}

func allocatorOptions(opts Options, profileDir string) []chromedp.ExecAllocatorOption {
	o := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.ChromePath != "" {
		o = append(o, chromedp.ExecPath(opts.ChromePath))
	}
	if opts.NoSandbox {
		o = append(o, chromedp.Flag("no-sandbox", true))
	}
	return o
}

func actions(opts Options, snap *Snapshot) []chromedp.Action {
	var acts []chromedp.Action
	if opts.Name != "" {
		acts = append(acts,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{opts.NameHeader: opts.Name}),
		)
	}
	return append(acts,
		chromedp.Navigate(opts.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&snap.Title),
		chromedp.Text("h1", &snap.Heading, chromedp.ByQuery),
		chromedp.Text("h3", &snap.Clock, chromedp.ByQuery),
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
	)
}

// Verify checks the snapshot against the greeting page for name.
func (s Snapshot) Verify(name string) error {
	if s.Title != render.PageTitle {
		return fmt.Errorf("%w: %q", ErrTitleMismatch, s.Title)
	}
	want := render.GreetingText + name + "?"
	if strings.TrimSpace(s.Heading) != want {
		return fmt.Errorf("%w: got %q, want %q", ErrGreeting, s.Heading, want)
	}
	ts, ok := strings.CutPrefix(strings.TrimSpace(s.Clock), render.TimestampText)
	if !ok {
		return fmt.Errorf("%w: %q", ErrTimestamp, s.Clock)
	}
	if _, err := render.ParseTimestamp(ts); err != nil {
		return fmt.Errorf("%w: %v", ErrTimestamp, err)
	}
	return nil
}
