package amazon

import (
	"context"
	"net/http"
	"time"
)

// Element is a handle to a node inside a rendered surface.
type Element interface {
	OuterHTML(ctx context.Context) (string, error)
	Click(ctx context.Context) error
	// Query finds descendants of this element matching a CSS selector.
	Query(ctx context.Context, selector string) ([]Element, error)
}

// FetchResult is the outcome of a credentialed fetch issued from inside a page,
// so the request carries the page's cookies and origin.
type FetchResult struct {
	Status      int
	ContentType string
	Data        []byte
}

// Surface is one browsing unit: the listing tab or a transient tab opened for
// a single candidate.
type Surface interface {
	Location(ctx context.Context) (string, error)
	// Document returns the serialized DOM of the whole page.
	Document(ctx context.Context) (string, error)
	Query(ctx context.Context, selector string) ([]Element, error)
	// VisibleHTML returns the outer HTML of the last visible element matching
	// selector, ok is false when none is visible.
	VisibleHTML(ctx context.Context, selector string) (html string, ok bool, err error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitIdle(ctx context.Context, timeout time.Duration) error
	Fetch(ctx context.Context, url string) (FetchResult, error)
	// CaptureDownload clicks trigger and returns the bytes of the download it
	// starts, giving up after timeout.
	CaptureDownload(ctx context.Context, trigger Element, timeout time.Duration) ([]byte, error)
}

// Tab is a secondary surface, it must be closed by whoever opened it.
type Tab interface {
	Surface
	Close() error
}

// Session is the primary surface plus the capabilities needed to drive login
// and open secondary tabs.
type Session interface {
	Surface
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	PressKey(ctx context.Context, key string) error
	OpenTab(ctx context.Context, url string, timeout time.Duration) (Tab, error)
	Cookies(ctx context.Context, url string) ([]*http.Cookie, error)
}
