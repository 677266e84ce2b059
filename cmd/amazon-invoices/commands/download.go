package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"amazon-invoices/internal/archive"
	"amazon-invoices/internal/browser"
	"amazon-invoices/internal/components/chrono"
	"amazon-invoices/internal/components/telemetry"
	"amazon-invoices/internal/ledger"
	"amazon-invoices/internal/scrapers/amazon"
	"amazon-invoices/lib/restyutil"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var downloadFlags struct {
	headless   bool
	maxPages   int
	outputDir  string
	ledger     string
	debugDir   string
	profileDir string
}

func init() {
	flags := downloadCmd.Flags()
	flags.BoolVar(&downloadFlags.headless, "headless", false, "Run the browser without a window (sign-in must already be stored in the profile).")
	flags.IntVar(&downloadFlags.maxPages, "max-pages", 0, "Stop after this many listing pages, 0 walks every page.")
	flags.StringVarP(&downloadFlags.outputDir, "output", "o", "", "The directory invoices are filed under.")
	flags.StringVar(&downloadFlags.ledger, "ledger", "", "The ledger recording downloaded invoices (.json, .db or libsql:// url).")
	flags.StringVar(&downloadFlags.debugDir, "debug-dir", "", "Write listing pages, popovers and replayed requests here.")
	flags.StringVar(&downloadFlags.profileDir, "profile", "", "A browser profile directory to keep the sign-in between runs.")
	rootCmd.AddCommand(downloadCmd)
}

func applyDownloadFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("headless") {
		cfg.Headless = downloadFlags.headless
	}
	if flags.Changed("max-pages") {
		cfg.MaxPages = downloadFlags.maxPages
	}
	if flags.Changed("output") {
		cfg.OutputDir = downloadFlags.outputDir
	}
	if flags.Changed("ledger") {
		cfg.Ledger = downloadFlags.ledger
	}
	if flags.Changed("debug-dir") {
		cfg.DebugDir = downloadFlags.debugDir
	}
	if flags.Changed("profile") {
		cfg.ProfileDir = downloadFlags.profileDir
	}
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Signs in, walks the order history and downloads every invoice not downloaded before.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		applyDownloadFlags(cmd, &cfg)
		return download(cmd.Context(), cfg)
	},
}

func download(ctx context.Context, cfg Config) error {
	if cfg.Email == "" {
		return fmt.Errorf("%w: set \"email\" in %s or %s", amazon.ErrMissingEmail, configPath, emailEnv)
	}
	ordersURL, err := cfg.OrdersURL()
	if err != nil {
		return err
	}

	var tel telemetry.API = telemetry.SlogAPI{}

	shutdownTracing, err := telemetry.SetupTracing(ctx, "amazon-invoices", cfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	if verbose {
		telemetry.WatchProcess(ctx, tel, 30*time.Second)
	}

	var captures restyutil.InstrumentOutput
	if cfg.DebugDir != "" {
		captures, err = restyutil.NewFilesystemOutput(cfg.DebugDir)
		if err != nil {
			return err
		}
	}

	store, err := ledger.OpenPath(ctx, cfg.LedgerLocation(), chrono.NewStandardTime())
	if err != nil {
		return err
	}
	defer store.Close()
	tel.ReportInfo("loaded ledger", "location", cfg.LedgerLocation(), "records", store.Len())

	chrome, err := browser.Launch(ctx, browser.Options{
		Headless:   cfg.Headless,
		ProfileDir: cfg.ProfileDir,
	})
	if err != nil {
		return err
	}
	defer chrome.Close()

	err = amazon.Login(ctx, chrome, telemetry.NewScopedAPI("login", tel), amazon.LoginOptions{
		OrdersURL:         ordersURL,
		Email:             cfg.Email,
		NavigationTimeout: ms(cfg.Timeouts.NavigationMs),
		EmailTimeout:      ms(cfg.Timeouts.EmailMs),
		PollInterval:      ms(cfg.Timeouts.LoginPollMs),
		PollAttempts:      cfg.LoginAttempts,
	})
	if err != nil {
		return err
	}
	err = chrome.Navigate(ctx, ordersURL, ms(cfg.Timeouts.NavigationMs))
	if err != nil {
		tel.ReportWarning("download.navigate", err)
	}

	scraperTel := telemetry.NewScopedAPI("amazon_scraper", tel)
	fetcher, err := amazon.NewFetcher(chrome, scraperTel, amazon.FetcherOptions{
		NavigationTimeout: ms(cfg.Timeouts.NavigationMs),
		IdleTimeout:       ms(cfg.Timeouts.IdleMs),
		DownloadTimeout:   ms(cfg.Timeouts.DownloadMs),
	}, captures)
	if err != nil {
		return err
	}

	pipeline := amazon.NewPipeline(amazon.PipelineDeps{
		Session:   chrome,
		Extractor: amazon.NewExtractor(scraperTel),
		Resolver:  amazon.NewResolver(chrome, scraperTel, ms(cfg.Timeouts.PopoverMs), captures),
		Fetcher:   fetcher,
		Walker: amazon.NewWalker(chrome, scraperTel, amazon.WalkerOptions{
			NavigationTimeout: ms(cfg.Timeouts.NavigationMs),
			IdleTimeout:       ms(cfg.Timeouts.IdleMs),
			SettleDelay:       ms(cfg.Timeouts.SettleMs),
		}),
		Ledger:   store,
		Archive:  archive.New(cfg.OutputDir, cfg.FilePrefix),
		Limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		Captures: captures,
		Tel:      scraperTel,
	}, amazon.PipelineOptions{
		ListingTimeout: ms(cfg.Timeouts.ListingMs),
		MaxPages:       cfg.MaxPages,
	})

	t1 := time.Now()
	summary := pipeline.Run(ctx)
	tel.ReportInfo("run finished", "seconds", time.Since(t1).Seconds())

	renderSummary(os.Stdout, summary)
	if summary.Downloaded == 0 {
		renderGuidance(os.Stdout, ordersURL, cfg.OutputDir, cfg.FilePrefix)
	}
	return ctx.Err()
}
