package amazon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"amazon-invoices/internal/components/telemetry"
)

const (
	report_login_navigate = "login.navigate"
	report_login_email    = "login.email"
)

var (
	ErrMissingEmail = errors.New("no account email configured")
	ErrLoginTimeout = errors.New("timed out waiting for login to complete")
)

type LoginOptions struct {
	OrdersURL         string
	Email             string
	NavigationTimeout time.Duration
	EmailTimeout      time.Duration
	PollInterval      time.Duration
	PollAttempts      int
}

// Login opens the order listing, prefills the account email and waits for
// the user to finish signing in by hand. The session ends up on the listing.
func Login(ctx context.Context, session Session, tel telemetry.API, opts LoginOptions) error {
	if opts.Email == "" {
		return ErrMissingEmail
	}

	err := session.Navigate(ctx, opts.OrdersURL, opts.NavigationTimeout)
	if err != nil {
		tel.ReportWarning(report_login_navigate, err)
	}

	location, err := session.Location(ctx)
	if err == nil && IsOrdersLocation(location) {
		tel.ReportInfo("already signed in")
		return nil
	}

	err = session.WaitVisible(ctx, selectorEmail, opts.EmailTimeout)
	if err == nil {
		err = session.Fill(ctx, selectorEmail, opts.Email)
	}
	if err == nil {
		err = session.Click(ctx, selectorContinue)
	}
	if err != nil {
		tel.ReportWarning(report_login_email, err)
		tel.ReportInfo("could not prefill the sign-in form, complete the login in the browser window")
	} else {
		tel.ReportInfo("enter your password in the browser window to continue")
	}

	for attempt := 1; attempt <= opts.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.PollInterval):
		}

		location, err := session.Location(ctx)
		if err != nil {
			tel.ReportDebug("read location while waiting for login", err)
			continue
		}
		if IsOrdersLocation(location) {
			tel.ReportInfo("signed in", "attempt", attempt)
			return nil
		}
		tel.ReportDebug("waiting for login", attempt, opts.PollAttempts)
	}

	return fmt.Errorf("%w after %d checks", ErrLoginTimeout, opts.PollAttempts)
}
