package amazon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var errFakeTimeout = fmt.Errorf("fake wait: %w", context.DeadlineExceeded)

func parseFake(markup string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		panic(err)
	}
	return doc
}

type fakeElement struct {
	session *fakeSession
	sel     *goquery.Selection
}

func (e fakeElement) OuterHTML(context.Context) (string, error) {
	return goquery.OuterHtml(e.sel)
}

func (e fakeElement) Click(context.Context) error {
	if key, ok := e.sel.Attr("data-popover"); ok && e.session != nil {
		e.session.popover = e.session.popovers[key]
		e.session.clicks = append(e.session.clicks, key)
	}
	return nil
}

func (e fakeElement) Query(_ context.Context, selector string) ([]Element, error) {
	return wrapSelection(e.session, e.sel.Find(selector)), nil
}

func wrapSelection(session *fakeSession, sel *goquery.Selection) []Element {
	var out []Element
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, fakeElement{session: session, sel: s})
	})
	return out
}

// fakeSurface serves a fixed document and file bodies keyed by url.
type fakeSurface struct {
	session *fakeSession
	url     string
	markup  string
	files   map[string][]byte
	// downloads are returned by CaptureDownload keyed by the surface url
	downloads map[string][]byte

	doc *goquery.Document
}

func (s *fakeSurface) document() *goquery.Document {
	if s.doc == nil {
		s.doc = parseFake(s.markup)
	}
	return s.doc
}

func (s *fakeSurface) Location(context.Context) (string, error) { return s.url, nil }
func (s *fakeSurface) Document(context.Context) (string, error) { return s.markup, nil }

func (s *fakeSurface) Query(_ context.Context, selector string) ([]Element, error) {
	return wrapSelection(s.session, s.document().Find(selector)), nil
}

func (s *fakeSurface) VisibleHTML(_ context.Context, selector string) (string, bool, error) {
	sel := s.document().Find(selector).Last()
	if sel.Length() == 0 {
		return "", false, nil
	}
	markup, err := goquery.OuterHtml(sel)
	return markup, err == nil, err
}

func (s *fakeSurface) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	if s.document().Find(selector).Length() == 0 {
		return errFakeTimeout
	}
	return nil
}

func (s *fakeSurface) WaitIdle(context.Context, time.Duration) error { return nil }

func (s *fakeSurface) Fetch(_ context.Context, url string) (FetchResult, error) {
	data, ok := s.files[url]
	if !ok {
		return FetchResult{Status: http.StatusNotFound, ContentType: "text/html"}, nil
	}
	return FetchResult{Status: http.StatusOK, ContentType: "application/pdf", Data: data}, nil
}

func (s *fakeSurface) CaptureDownload(context.Context, Element, time.Duration) ([]byte, error) {
	data, ok := s.downloads[s.url]
	if !ok {
		return nil, errFakeTimeout
	}
	return data, nil
}

type fakeTab struct {
	*fakeSurface
	closed *int
}

func (t fakeTab) Close() error {
	*t.closed++
	return nil
}

// fakeSession is an in-memory browser: listing pages and tab pages keyed by
// url, popovers keyed by the data-popover attribute of their control.
type fakeSession struct {
	pages     map[string]string
	redirects map[string]string
	tabPages  map[string]string
	popovers  map[string]string
	files     map[string][]byte
	downloads map[string][]byte

	current fakeSurface
	popover string

	// signedInAfter is the number of Location calls after which the
	// session lands on signedInURL.
	signedInAfter int
	signedInURL   string
	locations     int

	navigations []string
	opened      []string
	closed      int
	clicks      []string
	filled      map[string]string
}

func newFakeSession(start string) *fakeSession {
	s := &fakeSession{
		pages:     map[string]string{},
		redirects: map[string]string{},
		tabPages:  map[string]string{},
		popovers:  map[string]string{},
		files:     map[string][]byte{},
		downloads: map[string][]byte{},
		filled:    map[string]string{},
	}
	s.current = fakeSurface{session: s, url: start}
	return s
}

func (s *fakeSession) load(url string) {
	s.current = fakeSurface{session: s, url: url, markup: s.pages[url], files: s.files, downloads: s.downloads}
	s.popover = ""
}

func (s *fakeSession) Location(ctx context.Context) (string, error) {
	s.locations++
	if s.signedInURL != "" && s.locations > s.signedInAfter && s.current.url != s.signedInURL {
		s.load(s.signedInURL)
	}
	return s.current.Location(ctx)
}

func (s *fakeSession) Document(ctx context.Context) (string, error) {
	return s.current.Document(ctx)
}

func (s *fakeSession) Query(ctx context.Context, selector string) ([]Element, error) {
	return s.current.Query(ctx, selector)
}

func (s *fakeSession) popoverSurface() *fakeSurface {
	return &fakeSurface{session: s, markup: `<div class="a-popover-content">` + s.popover + `</div>`}
}

func (s *fakeSession) VisibleHTML(ctx context.Context, selector string) (string, bool, error) {
	if selector == selectorPopover {
		if s.popover == "" {
			return "", false, nil
		}
		return s.popoverSurface().VisibleHTML(ctx, selector)
	}
	return s.current.VisibleHTML(ctx, selector)
}

func (s *fakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if selector == selectorPopover {
		if s.popover == "" {
			return errFakeTimeout
		}
		return nil
	}
	return s.current.WaitVisible(ctx, selector, timeout)
}

func (s *fakeSession) WaitIdle(context.Context, time.Duration) error { return nil }

func (s *fakeSession) Fetch(ctx context.Context, url string) (FetchResult, error) {
	return s.current.Fetch(ctx, url)
}

func (s *fakeSession) CaptureDownload(ctx context.Context, trigger Element, timeout time.Duration) ([]byte, error) {
	return s.current.CaptureDownload(ctx, trigger, timeout)
}

func (s *fakeSession) Navigate(_ context.Context, url string, _ time.Duration) error {
	s.navigations = append(s.navigations, url)
	if target, ok := s.redirects[url]; ok {
		url = target
	}
	if _, ok := s.pages[url]; !ok {
		return fmt.Errorf("navigate %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	s.load(url)
	return nil
}

func (s *fakeSession) Fill(_ context.Context, selector, value string) error {
	s.filled[selector] = value
	return nil
}

func (s *fakeSession) Click(_ context.Context, selector string) error {
	s.clicks = append(s.clicks, selector)
	return nil
}

func (s *fakeSession) PressKey(_ context.Context, key string) error {
	if key == "Escape" {
		s.popover = ""
	}
	return nil
}

func (s *fakeSession) OpenTab(_ context.Context, url string, _ time.Duration) (Tab, error) {
	s.opened = append(s.opened, url)
	surface := &fakeSurface{
		session:   s,
		url:       url,
		markup:    s.tabPages[url],
		files:     s.files,
		downloads: s.downloads,
	}
	return fakeTab{fakeSurface: surface, closed: &s.closed}, nil
}

func (s *fakeSession) Cookies(context.Context, string) ([]*http.Cookie, error) {
	return []*http.Cookie{{Name: "session-id", Value: "262-0000000-0000000"}}, nil
}
