package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"image-recompressor/internal/config"
	"image-recompressor/internal/logger"
	"image-recompressor/internal/metadata"
	"image-recompressor/internal/reencoder"
	"image-recompressor/internal/statistics"
	"image-recompressor/internal/sweep"
	"image-recompressor/internal/walker"
	"image-recompressor/internal/web"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	exitOK             = 0
	exitFailure        = 1
	exitRootUnreadable = 2
)

var (
	cfgFile           string
	rootDir           string
	quality           int
	pngLevel          int
	mode              string
	onError           string
	extensions        []string
	dryRun            bool
	silentUnsupported bool
	noColor           bool
	verbose           bool
	quiet             bool
	useExiftool       bool
	port              int
)

// rootCmd is the base command for the CLI. Without arguments it sweeps the directory
// containing the executable.
var rootCmd = &cobra.Command{
	Use:   "recompress [root]",
	Short: "Re-encode every PNG and JPEG under a directory in place",
	Long: `recompress walks a directory tree and re-encodes every image whose extension
is .png, .jpg or .jpeg, overwriting each file with the re-encoded version.

JPEG files are re-saved at the configured quality, PNG files at the configured
compression level. Files whose content is neither JPEG nor PNG are left untouched.

With no arguments the directory containing the executable is swept at quality 90,
continuing past per-file errors.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep(cmd, args)
	},
}

// scanCmd reports what a sweep would do without writing anything.
var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "List candidate files and their detected format without re-encoding",
	Long: `Scan the specified directory (or the configured root) and list every candidate
file with its detected format and size. Files are decoded but never written.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, args)
	},
}

// inspectCmd shows what a single file contains.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show detected format, dimensions and metadata of a file",
	Long: `Shows the sniffed content format, dimensions and EXIF tags of a file.
Re-encoding drops EXIF metadata, so this is useful before and after a sweep.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server that can start and stop sweeps, report statistics and
stream per-file results over a WebSocket.

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().IntVar(&quality, "quality", 90, "JPEG quality (0-100)")
	rootCmd.PersistentFlags().IntVar(&pngLevel, "png-level", 9, "PNG compression level (0-9)")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", config.ModeFormatAware, "re-encode mode: format_aware or uniform")
	rootCmd.PersistentFlags().StringSliceVar(&extensions, "extensions", nil, "file extensions to visit (default .png,.jpg,.jpeg)")
	rootCmd.PersistentFlags().BoolVar(&silentUnsupported, "silent-unsupported", false, "do not report files whose content is not JPEG or PNG")

	rootCmd.Flags().StringVar(&rootDir, "root", "", "directory to sweep (default: executable directory)")
	rootCmd.Flags().StringVar(&onError, "on-error", config.OnErrorFailSoft, "error policy: fail_soft or fail_fast")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "decode files without writing them")

	inspectCmd.Flags().BoolVar(&useExiftool, "exiftool", false, "also query the exiftool binary for all tags")
	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config, 8080)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// runSweep executes the re-encode sweep.
func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()

	re, err := sweep.NewReencoder(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	releaseOnDone(ctx, stop)

	observer := sweep.NewConsoleObserver(os.Stdout, colorEnabled(cfg))
	err = sweep.NewSweeper(cfg, log, stats, re, observer).Run(ctx)

	if errors.Is(err, walker.ErrRootUnreadable) {
		return err
	}
	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		fmt.Println(stats.GetFileTypeBreakdown())
		if len(stats.GetErrors()) > 0 {
			fmt.Println(stats.GetErrorSummary())
		}
	}
	fmt.Println(stats.GetResultLine())

	return err
}

// runScan lists candidate files and their detected format without writing.
func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.DryRun = true
	cfg.OnError = config.OnErrorFailSoft

	fmt.Fprintf(os.Stderr, "Scanning directory: %s\n", cfg.Root)

	candidates, err := walker.Collect(walker.Walk(cfg.Root, cfg.Extensions))
	if errors.Is(err, walker.ErrRootUnreadable) {
		return err
	}
	fmt.Fprintf(os.Stderr, "Found %d candidate files\n\n", len(candidates))

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()

	re, err := sweep.NewReencoder(cfg)
	if err != nil {
		return err
	}

	observer := newScanObserver(os.Stdout, colorEnabled(cfg))
	if err := sweep.NewSweeper(cfg, log, stats, re, observer).Run(cmd.Context()); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n==================================================")
		fmt.Println("SCAN RESULTS")
		fmt.Println("==================================================")
		fmt.Println("\n" + stats.GetSummary())
		fmt.Println(stats.GetFileTypeBreakdown())
	}

	return nil
}

// newScanObserver prints one row per candidate: status, detected format, size and path.
func newScanObserver(out io.Writer, colorize bool) sweep.Observer {
	bad := color.New(color.FgRed)
	if colorize {
		bad.EnableColor()
	} else {
		bad.DisableColor()
	}

	return sweep.ObserverFuncs{
		Result: func(res reencoder.Result) {
			row := fmt.Sprintf("%-8s %-12s %10s  %s",
				scanStatus(res), res.Format, humanize.IBytes(uint64(res.OriginalSize)), res.Path)
			if res.Status == reencoder.StatusFailed {
				_, _ = bad.Fprintf(out, "%s (%v)\n", row, res.Err)
				return
			}
			fmt.Fprintln(out, row)
		},
		WalkError: func(path string, err error) {
			_, _ = bad.Fprintln(out, sweep.FormatWalkError(path, err))
		},
	}
}

func scanStatus(res reencoder.Result) string {
	switch {
	case res.Status == reencoder.StatusFailed:
		return "error"
	case res.Reason == reencoder.ReasonDryRun:
		return "ok"
	default:
		return "skip"
	}
}

// runInspect prints metadata for a given file.
func runInspect(filePath string) error {
	logCfg := logger.DefaultConfig()
	logCfg.Level = "warn"
	if verbose {
		logCfg.Level = "debug"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return err
	}

	info, err := metadata.NewInspector(log, useExiftool).Inspect(filePath)
	if err != nil {
		return err
	}

	fmt.Printf("File:     %s\n", info.Path)
	fmt.Printf("Size:     %s\n", humanize.IBytes(uint64(info.Size)))
	fmt.Printf("Modified: %s\n", info.ModTime.Format("2006-01-02 15:04:05"))
	fmt.Printf("Content:  %s (%s)\n", info.MIME, info.Format)
	if info.DecodeErr != nil {
		fmt.Printf("Decode:   failed: %v\n", info.DecodeErr)
	} else {
		fmt.Printf("Decode:   %s %dx%d\n", info.Codec, info.Width, info.Height)
	}

	if !info.HasEXIF {
		fmt.Println("EXIF:     none")
	} else {
		fmt.Println("EXIF:     present (dropped on re-encode)")
		if info.Software != "" {
			fmt.Printf("Software: %s\n", info.Software)
		}
		if info.DateTime != nil {
			fmt.Printf("Date:     %s\n", info.DateTime.Format("2006-01-02 15:04:05"))
		}
	}

	if len(info.Exiftool) > 0 {
		fmt.Println("\nexiftool:")
		keys := make([]string, 0, len(info.Exiftool))
		for k := range info.Exiftool {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-28s %v\n", k, info.Exiftool[k])
		}
	}

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	server := web.NewServer(cfg, log)
	if !quiet {
		server.SetConsole(sweep.NewConsoleObserver(os.Stdout, colorEnabled(cfg)))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	fmt.Printf("Web interface started: http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed to start: %w", err)
	case <-sigChan:
	}
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// loadConfig loads configuration and applies CLI overrides. Only flags that were set
// explicitly override the file and environment.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = rootDir
	}
	if len(args) > 0 {
		cfg.Root = args[0]
	}
	if flags.Changed("quality") {
		cfg.Quality = quality
	}
	if flags.Changed("png-level") {
		cfg.PNGCompressLevel = pngLevel
	}
	if flags.Changed("mode") {
		cfg.Mode = mode
	}
	if flags.Changed("on-error") {
		cfg.OnError = onError
	}
	if flags.Changed("extensions") {
		cfg.Extensions = extensions
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = dryRun
	}
	if flags.Changed("silent-unsupported") {
		cfg.ReportUnsupported = !silentUnsupported
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Falling back to default logger: %v", err)
	}

	return log
}

// releaseOnDone restores default signal handling once ctx is done, so a second
// interrupt terminates the process instead of waiting for the current file.
func releaseOnDone(ctx context.Context, stop context.CancelFunc) {
	go func() {
		<-ctx.Done()
		stop()
	}()
}

func colorEnabled(cfg *config.Config) bool {
	return cfg.Logging.Color && !noColor && !color.NoColor
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, walker.ErrRootUnreadable):
		return exitRootUnreadable
	default:
		return exitFailure
	}
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
