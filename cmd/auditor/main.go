// Package main provides the entry point for the site auditor CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/auditengine/siteauditor/internal/config"
	"github.com/auditengine/siteauditor/internal/httpapi"
	"github.com/auditengine/siteauditor/internal/metrics"
	"github.com/auditengine/siteauditor/internal/pipeline"
	"github.com/auditengine/siteauditor/internal/types"
	"github.com/auditengine/siteauditor/pkg/version"
)

const (
	exitSuccess          = 0
	exitConfigError      = 1
	exitCoreFailure      = 2
	exitInvariantFailure = 3
)

var (
	showVersion bool

	maxPages        int
	concurrency     int
	timeoutMs       int
	standard        string
	outputDir       string
	formats         []string
	skipRedirects   bool
	comprehensive   bool
	noPerformance   bool
	noSEO           bool
	noContentWeight bool
	noMobile        bool
	budgetTemplate  string
	budgetPath      string
	budgetLCP       float64
	budgetCLS       float64
	budgetFCP       float64
	budgetTTFB      float64
	statusAPI       bool
	logLevel        string
)

var rootCmd = &cobra.Command{
	Use:   "auditor [sitemap-url]",
	Short: "Audits every page discovered from a sitemap for accessibility, performance, SEO, mobile, and content-weight issues.",
	Long: `auditor crawls the URLs listed in a sitemap through a headless
Chrome instance and scores each page against WCAG accessibility rules,
Core Web Vitals budgets, SEO fundamentals, mobile usability, and
content weight, producing a schema-stable report in one or more
formats.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runAudit,
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	rootCmd.Flags().IntVar(&maxPages, "maxPages", 0, "maximum number of sitemap URLs to audit (0 for unbounded)")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum concurrent page audits")
	rootCmd.Flags().IntVar(&timeoutMs, "timeout_ms", 0, "per-page navigation/analysis timeout in milliseconds")
	rootCmd.Flags().StringVar(&standard, "standard", "", "accessibility standard: WCAG2A, WCAG2AA, WCAG2AAA, Section508")
	rootCmd.Flags().StringVar(&outputDir, "output_dir", "", "directory to write report files into")
	rootCmd.Flags().StringSliceVar(&formats, "formats", nil, "report formats to write: subset of html,markdown,json,csv")
	rootCmd.Flags().BoolVar(&skipRedirects, "skipRedirects", true, "skip analyzers for non-trivial redirects")
	rootCmd.Flags().BoolVar(&comprehensive, "comprehensive", false, "enable the optional analyzers and raise the per-page timeout")
	rootCmd.Flags().BoolVar(&noPerformance, "noPerformance", false, "disable the performance analyzer")
	rootCmd.Flags().BoolVar(&noSEO, "noSeo", false, "disable the SEO analyzer")
	rootCmd.Flags().BoolVar(&noContentWeight, "noContentWeight", false, "disable the content weight analyzer")
	rootCmd.Flags().BoolVar(&noMobile, "noMobile", false, "disable the mobile analyzer")
	rootCmd.Flags().StringVar(&budgetTemplate, "budget-template", "", "performance budget template: default, ecommerce, corporate, blog")
	rootCmd.Flags().StringVar(&budgetPath, "budget-path", "", "path to an external budget override file (YAML)")
	rootCmd.Flags().Float64Var(&budgetLCP, "lcp", 0, "override the budget's LCP threshold in milliseconds")
	rootCmd.Flags().Float64Var(&budgetCLS, "cls", 0, "override the budget's CLS threshold")
	rootCmd.Flags().Float64Var(&budgetFCP, "fcp", 0, "override the budget's FCP threshold in milliseconds")
	rootCmd.Flags().Float64Var(&budgetTTFB, "ttfb", 0, "override the budget's TTFB threshold in milliseconds")
	rootCmd.Flags().BoolVar(&statusAPI, "status-api", false, "serve a read-only liveness/metrics/progress HTTP surface while auditing")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL: trace, debug, info, warn, error, fatal")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitConfigError)
	}
}

func runAudit(cmd *cobra.Command, args []string) {
	if showVersion {
		fmt.Printf("auditor %s\n", version.Full())
		return
	}

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Error: a sitemap URL is required.")
		cmd.Usage()
		os.Exit(exitConfigError)
	}
	sitemapURL := args[0]

	cfg := config.Load()
	applyFlagOverrides(cfg, cmd)

	setupLogging(cfg.LogLevel)
	cfg.Validate()
	printBanner()

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audit pipeline")
	}
	defer p.Close()

	var statusServer *httpapi.Server
	var stopMetrics chan struct{}
	if cfg.StatusAPIEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		stopMetrics = make(chan struct{})
		go metrics.StartMemoryCollector(15*time.Second, stopMetrics)

		statusServer = httpapi.NewServer(cfg, nil)
		statusServer.Handler().SetQueueStatus(p)
		statusServer.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutdown signal received, cancelling in-flight run")
		cancel()
	}()

	result, err := p.Run(ctx, sitemapURL)

	signal.Stop(quit)
	close(quit)

	if statusServer != nil {
		close(stopMetrics)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if shutErr := statusServer.Shutdown(shutdownCtx); shutErr != nil {
			log.Error().Err(shutErr).Msg("status API shutdown error")
		}
		shutdownCancel()
	}

	if err != nil {
		log.Error().Err(err).Msg("audit run failed")
		os.Exit(exitCoreFailure)
	}

	logSummary(result.Report.Summary, result.WrittenPaths)

	if result.Report.Summary.Tested == 0 {
		log.Error().Msg("no pages could be tested")
		os.Exit(exitCoreFailure)
	}

	if cfg.StrictInvariants {
		if violations := checkInvariants(result.Report.Summary, len(result.Report.Pages)); len(violations) > 0 {
			for _, v := range violations {
				log.Error().Str("invariant", v).Msg("strict invariant violated")
			}
			os.Exit(exitInvariantFailure)
		}
	}

	log.Info().Msg("audit complete")
}

// applyFlagOverrides layers CLI flag values on top of the environment-loaded
// config, only overriding a field when its flag was actually set, so
// defaults baked into config.Load() (including CI-aware ones) survive an
// invocation that doesn't mention a given flag.
func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command) {
	flags := cmd.Flags()

	if flags.Changed("maxPages") {
		cfg.MaxPages = maxPages
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = concurrency
	}
	if flags.Changed("timeout_ms") {
		cfg.DefaultTimeout = time.Duration(timeoutMs) * time.Millisecond
	}
	if flags.Changed("standard") {
		cfg.Standard = config.Standard(standard)
	}
	if flags.Changed("output_dir") {
		cfg.OutputDir = outputDir
	}
	if flags.Changed("formats") {
		cfg.Formats = formats
	}
	if flags.Changed("skipRedirects") {
		cfg.SkipRedirects = skipRedirects
	}
	if flags.Changed("comprehensive") {
		cfg.Comprehensive = comprehensive
	}
	if flags.Changed("noPerformance") {
		cfg.NoPerformance = noPerformance
	}
	if flags.Changed("noSeo") {
		cfg.NoSEO = noSEO
	}
	if flags.Changed("noContentWeight") {
		cfg.NoContentWeight = noContentWeight
	}
	if flags.Changed("noMobile") {
		cfg.NoMobile = noMobile
	}
	if flags.Changed("budget-template") {
		cfg.BudgetTemplate = budgetTemplate
	}
	if flags.Changed("budget-path") {
		cfg.BudgetPath = budgetPath
	}
	if flags.Changed("lcp") {
		cfg.BudgetOverrideLCPMs = budgetLCP
	}
	if flags.Changed("cls") {
		cfg.BudgetOverrideCLS = budgetCLS
	}
	if flags.Changed("fcp") {
		cfg.BudgetOverrideFCPMs = budgetFCP
	}
	if flags.Changed("ttfb") {
		cfg.BudgetOverrideTTFBMs = budgetTTFB
	}
	if flags.Changed("status-api") {
		cfg.StatusAPIEnabled = statusAPI
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
}

// checkInvariants re-verifies the universal invariants that are cheap to
// check post-hoc (summary totals, score bounds). Per-lease-count and
// per-item-retry invariants are enforced at the point of origin (the
// browser pool, the queue) and are not re-derivable from the final report.
func checkInvariants(s types.Summary, pageCount int) []string {
	var violations []string

	sum := s.Passed + s.Failed + s.Crashed + s.Skipped
	if sum != s.Tested {
		violations = append(violations, fmt.Sprintf("summary counts (%d) do not sum to tested (%d)", sum, s.Tested))
	}
	if pageCount != s.Tested {
		violations = append(violations, fmt.Sprintf("page result count (%d) does not match tested (%d)", pageCount, s.Tested))
	}
	if s.AverageScore < 0 || s.AverageScore > 100 {
		violations = append(violations, fmt.Sprintf("average score %f out of [0,100] bounds", s.AverageScore))
	}

	return violations
}

func logSummary(s types.Summary, writtenPaths []string) {
	log.Info().
		Int("tested", s.Tested).
		Int("passed", s.Passed).
		Int("failed", s.Failed).
		Int("crashed", s.Crashed).
		Int("skipped", s.Skipped).
		Float64("average_score", s.AverageScore).
		Str("overall_grade", s.OverallGrade).
		Int64("duration_ms", s.System.DurationMs).
		Strs("reports", writtenPaths).
		Msg("run summary")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
  ___            _ _ _
 / _ \ _   _  __| (_) |_ ___  _ __
/ /_\/| | | |/ _' | | __/ _ \| '__|
/ /_\\| |_| | (_| | | || (_) | |
\____/ \__,_|\__,_|_|\__\___/|_|
                        Site Auditor
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("starting audit")
}
