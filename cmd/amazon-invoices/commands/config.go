package commands

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"amazon-invoices/internal/components/telemetry"
	"amazon-invoices/lib/configutil"
)

const emailEnv = "AMAZON_EMAIL"

// Timeouts are in milliseconds.
type Timeouts struct {
	NavigationMs int `json:"navigation_ms"`
	IdleMs       int `json:"idle_ms"`
	ListingMs    int `json:"listing_ms"`
	PopoverMs    int `json:"popover_ms"`
	DownloadMs   int `json:"download_ms"`
	EmailMs      int `json:"email_ms"`
	SettleMs     int `json:"settle_ms"`
	LoginPollMs  int `json:"login_poll_ms"`
}

type Config struct {
	Email      string `json:"email"`
	BaseUrl    string `json:"base_url"`
	OrdersPath string `json:"orders_path"`
	OutputDir  string `json:"output_dir"`
	// Ledger is a JSON file, a .db/.sqlite file or a libsql:// url. It
	// defaults to downloaded_invoices.json inside OutputDir.
	Ledger        string  `json:"ledger"`
	FilePrefix    string  `json:"file_prefix"`
	Headless      bool    `json:"headless"`
	ProfileDir    string  `json:"profile_dir"`
	LoginAttempts int     `json:"login_attempts"`
	RateLimit     float64 `json:"rate_limit"`
	RateBurst     int     `json:"rate_burst"`
	MaxPages      int     `json:"max_pages"`
	DebugDir      string  `json:"debug_dir"`

	Timeouts Timeouts                `json:"timeouts"`
	Tracing  telemetry.TracingConfig `json:"tracing"`
}

func defaultConfig() Config {
	return Config{
		BaseUrl:       "https://www.amazon.nl",
		OrdersPath:    "/your-orders/orders?ref_=nav_orders_first&language=en_GB",
		OutputDir:     "Amazon",
		FilePrefix:    "amazon_invoice",
		LoginAttempts: 24,
		RateLimit:     1,
		RateBurst:     2,
		Timeouts: Timeouts{
			NavigationMs: 30_000,
			IdleMs:       10_000,
			ListingMs:    20_000,
			PopoverMs:    5_000,
			DownloadMs:   30_000,
			EmailMs:      20_000,
			SettleMs:     2_000,
			LoginPollMs:  5_000,
		},
	}
}

func loadConfig(path string) (Config, error) {
	cfg, _, err := configutil.ReadConfig(path, defaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if email := os.Getenv(emailEnv); email != "" {
		cfg.Email = email
	}
	return cfg, nil
}

func (c Config) OrdersURL() (string, error) {
	base, err := url.Parse(c.BaseUrl)
	if err != nil {
		return "", fmt.Errorf("parse base_url: %w", err)
	}
	path, err := url.Parse(c.OrdersPath)
	if err != nil {
		return "", fmt.Errorf("parse orders_path: %w", err)
	}
	return base.ResolveReference(path).String(), nil
}

func (c Config) LedgerLocation() string {
	if c.Ledger != "" {
		return c.Ledger
	}
	return filepath.Join(c.OutputDir, "downloaded_invoices.json")
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
