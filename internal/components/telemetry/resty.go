package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
	report_resty_error    = "resty.error"
	report_resty_status   = "resty.status"
)

type instrumentResty struct {
	tel     API
	counter *atomic.Uint64
}

// InstrumentResty reports every request, response and transport error of the
// client, and counts responses per status class ("resty.status.2xx", ...).
func InstrumentResty(client *resty.Client, tel API) {
	i := instrumentResty{tel: tel, counter: &atomic.Uint64{}}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type exchangeKeyType int

var exchangeKey exchangeKeyType

type exchange struct {
	id      uint64
	started time.Time
}

func exchangeOf(req *resty.Request) (exchange, bool) {
	if req == nil {
		return exchange{}, false
	}
	ex, ok := req.Context().Value(exchangeKey).(exchange)
	return ex, ok
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ex := exchange{
		id:      i.counter.Add(1),
		started: time.Now(),
	}
	req.SetContext(context.WithValue(req.Context(), exchangeKey, ex))
	i.tel.ReportDebug(report_resty_request, ex.id, req.Method, req.URL)
	return nil
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	i.tel.ReportCount(fmt.Sprintf("%s.%dxx", report_resty_status, res.StatusCode()/100), 1)

	ex, ok := exchangeOf(res.Request)
	if !ok {
		i.tel.ReportDebug(report_resty_response, res.Status(), len(res.Body()))
		return nil
	}
	i.tel.ReportDebug(
		report_resty_response,
		ex.id,
		time.Since(ex.started).String(),
		res.Status(),
		len(res.Body()),
	)
	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	var elapsed time.Duration
	if ex, ok := exchangeOf(req); ok {
		elapsed = time.Since(ex.started)
	}
	var method, target string
	if req != nil {
		method, target = req.Method, req.URL
	}
	i.tel.ReportWarning(report_resty_error, err, method, target, elapsed)
}
