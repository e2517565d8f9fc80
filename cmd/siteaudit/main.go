package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/SiteAudit/internal/logger"
	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	logLevel   string
	logJSON    bool

	// Scan flags
	maxPages       int
	scanTimeout    int
	navTimeout     int
	rateLimit      float64
	engine         string
	backend        string
	noBlock        bool
	excludeExts    []string
	excludePattern []string

	// Output flags
	outputFile   string
	outputFormat string
	stream       bool
	noProgress   bool

	// Server flags
	addr      string
	storePath string
	origins   []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "siteaudit",
		Short: "SiteAudit - Multi-page website auditor",
		Long: `SiteAudit - discovers the pages of a website with a headless browser and
audits each one for performance, accessibility, best practices and SEO.

Run a one-off scan from the terminal or serve the streaming HTTP API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	scanCmd := &cobra.Command{
		Use:   "scan [url]",
		Short: "Discover and audit a site",
		Long:  "Discover the same-origin pages reachable from url and audit each one.",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}

	discoverCmd := &cobra.Command{
		Use:   "discover [url]",
		Short: "List the pages a scan would audit",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiscover,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scan API",
		Long:  "Serve POST /analyze (server-sent events), GET /ws/analyze, stored reports and /minify.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	reportCmd := &cobra.Command{
		Use:   "report [id]",
		Short: "Show stored reports",
		Long:  "Print a stored report as JSON, or list stored reports when no id is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReport,
	}

	configCmd := &cobra.Command{
		Use:   "config [path]",
		Short: "Write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfig,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON instead of console output")

	// Scan flags, shared by scan, discover and serve
	for _, cmd := range []*cobra.Command{scanCmd, discoverCmd, serveCmd} {
		cmd.Flags().IntVarP(&maxPages, "max-pages", "m", 0, "Maximum pages to discover (1-100)")
		cmd.Flags().IntVar(&navTimeout, "nav-timeout", 0, "Discovery navigation timeout in seconds")
		cmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 0, "Navigations per second per origin (0 = unlimited)")
		cmd.Flags().StringVar(&backend, "browser", "", "Browser backend (rod, chromedp)")
		cmd.Flags().BoolVar(&noBlock, "no-block", false, "Load images, fonts and media while discovering")
		cmd.Flags().StringArrayVar(&excludeExts, "exclude-ext", nil, "Extra path extensions to skip (e.g. .zip)")
		cmd.Flags().StringArrayVar(&excludePattern, "exclude", nil, "URL patterns to skip (regex)")
	}
	for _, cmd := range []*cobra.Command{scanCmd, serveCmd} {
		cmd.Flags().IntVarP(&scanTimeout, "timeout", "t", 0, "Overall scan timeout in seconds (0 = none)")
		cmd.Flags().StringVar(&engine, "engine", "", "Audit engine (heuristic, lighthouse)")
	}

	// Output flags
	scanCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	scanCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text, json)")
	scanCmd.Flags().BoolVar(&stream, "stream", false, "Stream progress events as JSON lines (json format)")
	scanCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	// Server flags
	serveCmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default :5000)")
	serveCmd.Flags().StringArrayVar(&origins, "allow-origin", nil, "Allowed CORS origin (repeatable, * for any)")
	for _, cmd := range []*cobra.Command{serveCmd, reportCmd} {
		cmd.Flags().StringVar(&storePath, "store", "", "Report database file (default: in memory)")
	}

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies the flags that
// were set on cmd.
func loadConfig(cmd *cobra.Command) (*crawler.Config, error) {
	config := crawler.DefaultConfig()
	if configFile != "" {
		fileConfig, err := crawler.LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	flags := cmd.Flags()
	if flags.Changed("max-pages") {
		config.Discovery.MaxPages = maxPages
	}
	if flags.Changed("nav-timeout") {
		config.Discovery.NavigationTimeout = seconds(navTimeout)
	}
	if flags.Changed("rate-limit") {
		config.Discovery.RequestsPerSecond = rateLimit
	}
	if flags.Changed("browser") {
		config.Browser.Backend = backend
	}
	if flags.Changed("no-block") {
		config.Discovery.BlockResources = !noBlock
	}
	if flags.Changed("exclude-ext") {
		config.Discovery.ExcludeExtensions = append(config.Discovery.ExcludeExtensions, excludeExts...)
	}
	if flags.Changed("exclude") {
		config.Discovery.ExcludePatterns = append(config.Discovery.ExcludePatterns, excludePattern...)
	}
	if flags.Changed("timeout") {
		config.ScanTimeout = seconds(scanTimeout)
	}
	if flags.Changed("engine") {
		config.Audit.Engine = engine
	}
	if flags.Changed("addr") {
		config.Server.Addr = addr
	}
	if flags.Changed("allow-origin") {
		config.Server.AllowedOrigins = origins
	}
	if flags.Changed("store") {
		config.Server.StorePath = storePath
	}
	if logLevel != "" {
		config.Log.Level = logLevel
	}
	if logJSON {
		config.Log.Pretty = false
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setupLogger installs the global logger described by config.
func setupLogger(config *crawler.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(config.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Log.Level, err)
	}
	log := logger.New(logger.Config{
		Level:  level,
		Pretty: config.Log.Pretty,
		Output: os.Stderr,
	})
	logger.SetGlobal(log)
	return log, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func runConfig(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := config.Save(args[0]); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Printf("Configuration written to %s\n", args[0])
	return nil
}
