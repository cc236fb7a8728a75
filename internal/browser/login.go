package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// Login page landmarks.
const (
	cookieButtonText  = "Accept All Cookies"
	emailInput        = `input[type="email"]`
	continueEmailText = "Continue with email"
	codeInput         = `input[placeholder="Enter Code"]`
	askInput          = "#ask-input"
)

// LoginOptions configures the interactive email login.
type LoginOptions struct {
	BaseURL       string
	Email         string
	CookieTimeout time.Duration
	StepTimeout   time.Duration
	LoginTimeout  time.Duration

	// Notify receives the instructions the user must act on.
	Notify func(msg string)
}

func (o LoginOptions) withDefaults() LoginOptions {
	if o.BaseURL == "" {
		o.BaseURL = "https://www.perplexity.ai/"
	}
	if o.CookieTimeout <= 0 {
		o.CookieTimeout = 5 * time.Second
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 45 * time.Second
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = 120 * time.Second
	}
	if o.Notify == nil {
		o.Notify = func(string) {}
	}
	return o
}

// Login signs in with an emailed one-time code. The user types the code
// into the headful window; Login returns once the main input is ready.
func (s *Session) Login(ctx context.Context, opts LoginOptions) error {
	opts = opts.withDefaults()
	if opts.Email == "" {
		return errors.New("login requires an email address")
	}
	page, err := s.currentPage()
	if err != nil {
		return err
	}

	s.log.Info("navigating to %s", opts.BaseURL)
	if err := s.Navigate(ctx, opts.BaseURL, opts.StepTimeout); err != nil {
		s.log.Warn("home page did not settle: %v", err)
	}

	cookieCtx, cancel := context.WithTimeout(ctx, opts.CookieTimeout)
	btn, err := page.Context(cookieCtx).ElementR("button", cookieButtonText)
	if err == nil {
		err = btn.Click(proto.InputMouseButtonLeft, 1)
	}
	cancel()
	if err != nil {
		s.log.Info("cookie button not found or already accepted, continuing")
	} else {
		s.log.Info("cookie consent accepted")
	}

	stepCtx, cancel := context.WithTimeout(ctx, opts.StepTimeout)
	defer cancel()
	p := page.Context(stepCtx)

	field, err := p.Element(emailInput)
	if err != nil {
		return fmt.Errorf("find email input: %w", err)
	}
	if err := field.Input(opts.Email); err != nil {
		return fmt.Errorf("type email: %w", err)
	}
	submit, err := p.ElementR("button", continueEmailText)
	if err != nil {
		return fmt.Errorf("find %q button: %w", continueEmailText, err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("submit email: %w", err)
	}
	if _, err := p.Element(codeInput); err != nil {
		return fmt.Errorf("wait for code prompt: %w", err)
	}

	opts.Notify("Check your email and enter the code in the browser window.\nWaiting for the login to succeed...")

	if err := s.WaitForSelector(ctx, askInput, opts.LoginTimeout); err != nil {
		return fmt.Errorf("login did not complete within %v: %w", opts.LoginTimeout, err)
	}
	s.log.Info("successfully logged in")
	return nil
}
