package amazon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"amazon-invoices/internal/components/telemetry"
	"amazon-invoices/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// replayClient re-issues requests outside the browser with cookies copied
// from it.
type replayClient struct {
	http *resty.Client
	jar  http.CookieJar
}

func newReplayClient(tel telemetry.API, captures restyutil.InstrumentOutput) (replayClient, error) {
	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return replayClient{}, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", userAgent)
	// invoice documents are served from a storage host after a redirect
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	httpClient.SetTimeout(time.Second * 30)

	// 2 requests max per second
	rateLimiter := rate.NewLimiter(2, 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)
	restyutil.InstrumentClient(httpClient, telemetry.Tracer("amazon-replay"), "replay", captures)

	return replayClient{http: httpClient, jar: jar}, nil
}

// Get downloads target after seeding the jar with cookies.
func (c replayClient) Get(ctx context.Context, target string, cookies []*http.Cookie) ([]byte, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	c.jar.SetCookies(u, cookies)

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("accept", "application/pdf,*/*").
		Get(target)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("unexpected status %s", res.Status())
	}
	return res.Body(), nil
}
