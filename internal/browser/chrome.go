// Package browser drives a Chrome instance over the DevTools protocol and
// exposes it through the capability interfaces of the amazon scraper.
package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"amazon-invoices/internal/scrapers/amazon"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

var ErrDownloadTimeout = errors.New("download did not complete in time")

type Options struct {
	Headless bool
	// ProfileDir keeps cookies between runs so the sign-in can be reused.
	ProfileDir string
}

// Chrome is the primary tab of a launched browser.
type Chrome struct {
	*surface
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	downloadDir   string
}

var _ amazon.Session = (*Chrome)(nil)

// Launch starts a browser and opens its first tab. ctx bounds the lifetime of
// the whole browser.
func Launch(ctx context.Context, opts Options) (*Chrome, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.WindowSize(1280, 900),
	)
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}

	downloadDir, err := os.MkdirTemp("", "amazon-invoices-downloads-*")
	if err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		downloadDir:   downloadDir,
	}
	c.surface, err = newSurface(browserCtx, downloadDir)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return c, nil
}

// Close shuts the browser down and removes captured downloads.
func (c *Chrome) Close() error {
	c.browserCancel()
	c.allocCancel()
	return os.RemoveAll(c.downloadDir)
}

func (c *Chrome) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return c.run(ctx, timeout, chromedp.Navigate(url))
}

func (c *Chrome) Fill(ctx context.Context, selector, value string) error {
	return c.run(ctx, 0,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (c *Chrome) Click(ctx context.Context, selector string) error {
	return c.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

var keyNames = map[string]string{
	"Escape": kb.Escape,
	"Enter":  kb.Enter,
	"Tab":    kb.Tab,
}

func (c *Chrome) PressKey(ctx context.Context, key string) error {
	if mapped, ok := keyNames[key]; ok {
		key = mapped
	}
	return c.run(ctx, 0, chromedp.KeyEvent(key))
}

// OpenTab opens url in a new tab of the same browser. A navigation aborted
// because the response turned into a download still yields the tab.
func (c *Chrome) OpenTab(ctx context.Context, url string, timeout time.Duration) (amazon.Tab, error) {
	tabCtx, cancel := chromedp.NewContext(c.ctx)
	s, err := newSurface(tabCtx, c.downloadDir)
	if err != nil {
		cancel()
		return nil, err
	}
	t := &tab{surface: s, cancel: cancel}

	err = s.run(ctx, timeout, chromedp.Navigate(url))
	if err != nil && !strings.Contains(err.Error(), "net::ERR_ABORTED") {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (c *Chrome) Cookies(ctx context.Context, url string) ([]*http.Cookie, error) {
	var cookies []*network.Cookie
	err := c.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{url}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	out := make([]*http.Cookie, 0, len(cookies))
	for _, cookie := range cookies {
		out = append(out, &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HTTPOnly,
		})
	}
	return out, nil
}

type tab struct {
	*surface
	cancel context.CancelFunc
}

func (t *tab) Close() error {
	defer t.cancel()
	return chromedp.Cancel(t.ctx)
}

// surface implements amazon.Surface on top of one chromedp target.
type surface struct {
	ctx         context.Context
	downloadDir string
	downloads   chan string
}

func newSurface(ctx context.Context, downloadDir string) (*surface, error) {
	s := &surface{
		ctx:         ctx,
		downloadDir: downloadDir,
		downloads:   make(chan string, 8),
	}
	chromedp.ListenTarget(ctx, func(ev any) {
		progress, ok := ev.(*cdpbrowser.EventDownloadProgress)
		if !ok || progress.State != cdpbrowser.DownloadProgressStateCompleted {
			return
		}
		select {
		case s.downloads <- progress.GUID:
		default:
		}
	})

	err := chromedp.Run(ctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// run executes actions on the surface's target. The caller's ctx only
// contributes cancellation, chromedp needs its own context to find the target.
func (s *surface) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *surface) Location(ctx context.Context) (string, error) {
	var location string
	err := s.run(ctx, 0, chromedp.Location(&location))
	return location, err
}

func (s *surface) Document(ctx context.Context) (string, error) {
	var markup string
	err := s.run(ctx, 0, chromedp.OuterHTML("html", &markup, chromedp.ByQuery))
	return markup, err
}

func (s *surface) query(ctx context.Context, selector string, opts ...chromedp.QueryOption) ([]amazon.Element, error) {
	var nodes []*cdp.Node
	opts = append([]chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}, opts...)
	err := s.run(ctx, 0, chromedp.Nodes(selector, &nodes, opts...))
	if err != nil {
		return nil, err
	}
	out := make([]amazon.Element, len(nodes))
	for i, n := range nodes {
		out[i] = element{surface: s, node: n}
	}
	return out, nil
}

func (s *surface) Query(ctx context.Context, selector string) ([]amazon.Element, error) {
	return s.query(ctx, selector)
}

const visibleElementsJs = `Array.from(document.querySelectorAll(%s)).filter((e) => e.getClientRects().length > 0 && getComputedStyle(e).visibility !== "hidden")`

func (s *surface) VisibleHTML(ctx context.Context, selector string) (string, bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", false, err
	}
	expr := fmt.Sprintf(`(() => { const els = %s; return els.length > 0 ? els[els.length - 1].outerHTML : ""; })()`,
		fmt.Sprintf(visibleElementsJs, quoted))

	var markup string
	err = s.run(ctx, 0, chromedp.Evaluate(expr, &markup))
	if err != nil {
		return "", false, err
	}
	return markup, markup != "", nil
}

// WaitVisible waits for any match of selector to be visible, hidden matches
// left behind by earlier interactions are ignored.
func (s *surface) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(visibleElementsJs, quoted) + ".length > 0"

	var visible bool
	return s.run(ctx, timeout, chromedp.Poll(expr, &visible,
		chromedp.WithPollingInterval(100*time.Millisecond),
		chromedp.WithPollingTimeout(timeout),
	))
}

func (s *surface) WaitIdle(ctx context.Context, timeout time.Duration) error {
	var ready bool
	return s.run(ctx, timeout, chromedp.Poll(`document.readyState === "complete"`, &ready,
		chromedp.WithPollingInterval(100*time.Millisecond),
		chromedp.WithPollingTimeout(timeout),
	))
}

const fetchJs = `(async () => {
	const res = await fetch(%s, { credentials: "include" });
	const bytes = new Uint8Array(await res.arrayBuffer());
	let binary = "";
	for (let i = 0; i < bytes.length; i += 0x8000) {
		binary += String.fromCharCode.apply(null, bytes.subarray(i, i + 0x8000));
	}
	return { status: res.status, type: res.headers.get("content-type") || "", body: btoa(binary) };
})()`

func (s *surface) Fetch(ctx context.Context, url string) (amazon.FetchResult, error) {
	quoted, err := json.Marshal(url)
	if err != nil {
		return amazon.FetchResult{}, err
	}

	var res struct {
		Status int    `json:"status"`
		Type   string `json:"type"`
		Body   string `json:"body"`
	}
	err = s.run(ctx, 0, chromedp.Evaluate(fmt.Sprintf(fetchJs, quoted), &res,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		},
	))
	if err != nil {
		return amazon.FetchResult{}, fmt.Errorf("in-page fetch: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(res.Body)
	if err != nil {
		return amazon.FetchResult{}, fmt.Errorf("decode fetched body: %w", err)
	}
	return amazon.FetchResult{Status: res.Status, ContentType: res.Type, Data: data}, nil
}

func (s *surface) CaptureDownload(ctx context.Context, trigger amazon.Element, timeout time.Duration) ([]byte, error) {
	// drop completions left over from earlier captures
	for len(s.downloads) > 0 {
		<-s.downloads
	}

	err := trigger.Click(ctx)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrDownloadTimeout
	case guid := <-s.downloads:
		path := filepath.Join(s.downloadDir, guid)
		defer os.Remove(path)
		return os.ReadFile(path)
	}
}

type element struct {
	surface *surface
	node    *cdp.Node
}

func (e element) OuterHTML(ctx context.Context) (string, error) {
	var markup string
	err := e.surface.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		markup, err = dom.GetOuterHTML().WithNodeID(e.node.NodeID).Do(ctx)
		return err
	}))
	return markup, err
}

func (e element) Click(ctx context.Context) error {
	return e.surface.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		err := dom.ScrollIntoViewIfNeeded().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		return chromedp.MouseClickNode(e.node).Do(ctx)
	}))
}

func (e element) Query(ctx context.Context, selector string) ([]amazon.Element, error) {
	return e.surface.query(ctx, selector, chromedp.FromNode(e.node))
}
