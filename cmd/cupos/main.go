package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/v0xg/cupos/internal/browser"
	"github.com/v0xg/cupos/internal/config"
	"github.com/v0xg/cupos/internal/notify"
	"github.com/v0xg/cupos/internal/orchestrator"
	"github.com/v0xg/cupos/internal/prompt"
	"github.com/v0xg/cupos/internal/snapshot"
	"github.com/v0xg/cupos/internal/tracker"
)

var (
	configPath string
	platform   string
	interval   int
	headless   bool
	bin        string
	profile    string
	debugDir   string
	verbose    bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "cupos",
		Short: "Watch seat availability of course groups in the SIA catalog",
		Long: `cupos walks the SIA course catalog form, lets you pick one or more
course groups and notifies you every time their available seats change.

Example:
  cupos --platform desktop --interval 60`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.Flags().StringVar(&platform, "platform", "", "Platform: desktop, termux (default: ask)")
	rootCmd.Flags().IntVar(&interval, "interval", 0, "Seconds between seat checks (default: ask)")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser without a window")
	rootCmd.Flags().StringVar(&bin, "bin", "", "Chrome/Chromium binary (default: auto-detect)")
	rootCmd.Flags().StringVar(&profile, "profile", "", "Chrome/Chromium profile directory")
	rootCmd.Flags().StringVar(&debugDir, "debug-dir", "", "Save a screenshot of every failed setup attempt here")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed progress")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := prompt.NewConsole(os.Stdin, os.Stdout)

	// Step 1: Pick the platform
	p, err := choosePlatform(ctx, cfg.Platform, console)
	if err != nil {
		return quiet(ctx, err)
	}
	notifier, err := notify.For(p)
	if err != nil {
		return err
	}

	// Step 2: Launch the browser
	fmt.Print("→ Launching browser... ")
	engine, err := browser.Launch(browser.Options{
		Headless:    cfg.Browser.Headless,
		NoSandbox:   p == notify.Termux,
		Bin:         cfg.Browser.Bin,
		ProfileDir:  cfg.Browser.ProfileDir,
		IdleTimeout: cfg.Browser.IdleTimeout,
	}, log)
	if err != nil {
		fmt.Println("failed")
		return fmt.Errorf("browser launch failed: %w", err)
	}
	fmt.Println("done")
	defer engine.Close()

	var snapshots *snapshot.Writer
	if cfg.DebugDir != "" {
		snapshots = &snapshot.Writer{Dir: cfg.DebugDir}
	}
	deps := tracker.Deps{
		Engine:    engine,
		Prompter:  console,
		Notifier:  notifier,
		Out:       os.Stdout,
		Log:       log,
		Snapshots: snapshots,
	}
	opts := tracker.Options{
		SearchURL:   cfg.SearchURL,
		RetryDelay:  cfg.RetryDelay,
		KeepAlive:   cfg.KeepAlive,
		MinInterval: cfg.MinInterval,
	}
	orch := orchestrator.New(func() orchestrator.Tracker {
		return tracker.New(deps, opts)
	}, console, os.Stdout, log, orchestrator.Options{
		Interval:    cfg.Interval,
		MinInterval: cfg.MinInterval,
		MaxInterval: cfg.MaxInterval,
		StatusEvery: cfg.StatusEvery,
	})
	defer orch.Close()

	// Step 3: Set up trackers
	if err := orch.Setup(ctx); err != nil {
		return quiet(ctx, err)
	}
	every, err := orch.AskInterval(ctx)
	if err != nil {
		return quiet(ctx, err)
	}

	// Step 4: Track until interrupted
	fmt.Printf("→ Checking seats every %s (Ctrl+C to stop)\n", every)
	if err := orch.Run(ctx, every); err != nil {
		return err
	}
	fmt.Println("✓ Stopped")
	return nil
}

// loadConfig layers defaults, the config file, the environment and the flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("platform") {
		cfg.Platform = platform
	}
	if flags.Changed("interval") {
		cfg.Interval = time.Duration(interval) * time.Second
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if flags.Changed("bin") {
		cfg.Browser.Bin = bin
	}
	if flags.Changed("profile") {
		cfg.Browser.ProfileDir = profile
	}
	if flags.Changed("debug-dir") {
		cfg.DebugDir = debugDir
	}
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(verbose bool) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.WarnLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return logrus.NewEntry(l).WithField("app", "cupos")
}

// choosePlatform parses the configured platform or shows the platform menu
func choosePlatform(ctx context.Context, configured string, p prompt.Prompter) (notify.Platform, error) {
	if configured != "" {
		return notify.ParsePlatform(configured)
	}
	for i, opt := range notify.Platforms {
		fmt.Printf("\t[%d] - %s\n", i, opt.Label)
	}
	n, err := prompt.Int(ctx, p, "Which platform are you using?: ", 0, len(notify.Platforms)-1)
	if err != nil {
		return "", err
	}
	return notify.Platforms[n].Platform, nil
}

// quiet turns errors caused by an interrupt into a clean exit
func quiet(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		fmt.Println()
		return nil
	}
	return err
}
