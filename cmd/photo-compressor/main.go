package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"photo-compressor-go/internal/compressor"
	"photo-compressor-go/internal/config"
	"photo-compressor-go/internal/export"
	"photo-compressor-go/internal/extractor"
	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/metrics"
	"photo-compressor-go/internal/pipeline"
	"photo-compressor-go/internal/statistics"
	"photo-compressor-go/internal/store"
	"photo-compressor-go/internal/web"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	quality int
	outDir  string
	port    int
)

// rootCmd compresses the given files and writes the results to a directory.
var rootCmd = &cobra.Command{
	Use:   "photo-compressor [files or directories...]",
	Short: "Compress photos to JPEG at a chosen quality",
	Long: `PhotoCompressor re-encodes photos as JPEG at a chosen quality,
downscaling anything larger than 1920 pixels on its long edge.

Features:
- Accepts JPEG, PNG, GIF, BMP, TIFF and WebP input
- Quality from 10 to 95, applied uniformly to every image
- Shows size savings per image and in total
- Saves results as compressed_<name>
- Web interface with live updates (serve)`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// inspectCmd prints the metadata read from one file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show image metadata for a specific file",
	Long: `Reads dimensions, format, capture date and camera model from a file.
This is useful for checking what the compressor sees before re-encoding.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server exposing the compression session over HTTP.
The API allows you to:
- Upload images and see their compressed sizes
- Change the quality and recompress everything
- Download single images or export all of them
- Follow state changes over a websocket (/ws)

The server listens on http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().IntVarP(&quality, "quality", "q", store.DefaultQuality, "JPEG quality (10-95)")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default from config)")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// runCompress compresses files and exports them.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("quality") {
		cfg.Compression.DefaultQuality = quality
	}
	if outDir != "" {
		cfg.Export.Target = config.ExportTargetDir
		cfg.Export.Directory = outDir
	}

	log := setupLogger(cfg)

	inputs, err := collectInputs(args)
	if err != nil {
		return err
	}

	session, err := newSession(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	records, err := session.Ingest(inputs)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no images could be compressed")
	}

	summary, exportErr := session.ExportAll(cmd.Context())

	if !quiet {
		for _, rec := range records {
			fmt.Printf("%-40s %10s -> %10s  (%.1f%% saved)\n",
				rec.Name,
				statistics.FormatSize(rec.OriginalSize),
				statistics.FormatSize(rec.CompressedSize),
				rec.Savings)
		}
		fmt.Printf("\n%d file(s) written to %s\n", summary.Saved, exportLocation(cfg))
		fmt.Println("\n" + session.Statistics().GetSummary())
		if session.Statistics().GetErrorCount() > 0 {
			fmt.Println(session.Statistics().GetErrorSummary())
		}
	}

	if exportErr != nil {
		return fmt.Errorf("export failed: %w", exportErr)
	}
	return nil
}

// runInspect prints the metadata of a single file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	fmt.Printf("Inspecting: %s\n", filePath)

	meta := extractor.NewEXIFInspector(logger.Discard()).Inspect(data)
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	fmt.Printf("Date source: %s\n", meta.DateSource)
	if meta.Width > 0 {
		w, h := compressor.ScaledSize(meta.Width, meta.Height)
		fmt.Printf("Output size: %dx%d\n", w, h)
	}

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	session, err := newSession(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	server := web.NewServer(cfg, session, log)

	if cfg.Server.Metrics {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(registry)
		session.SetMetrics(m)
		server.UseMetrics(m, registry)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("PhotoCompressor web interface started on http://localhost%s\n", cfg.Address())
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// newSession wires the compression pipeline from configuration.
func newSession(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*pipeline.Session, error) {
	s, err := store.NewWithQuality(cfg.Compression.DefaultQuality)
	if err != nil {
		return nil, err
	}

	saver, err := newSaver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine := compressor.NewDefaultCompressor()
	stats := statistics.NewStatistics()
	orchestrator := export.NewOrchestrator(
		saver,
		export.Config{Stride: cfg.Export.Stride, Prefix: cfg.Export.Prefix},
		log,
	)

	return pipeline.NewSession(
		s,
		pipeline.NewBatchProcessor(engine, extractor.NewEXIFInspector(log), log, cfg.Compression.Workers),
		pipeline.NewCoordinator(engine, s, stats, log, cfg.Compression.Workers),
		orchestrator,
		stats,
		log,
	), nil
}

// newSaver returns the export destination selected by export.target.
func newSaver(ctx context.Context, cfg *config.Config) (export.Saver, error) {
	if cfg.Export.Target != config.ExportTargetS3 {
		return export.NewDirSaver(cfg.Export.Directory), nil
	}
	s3cfg := cfg.Export.S3
	saver, err := export.NewS3SaverFromConfig(ctx, export.S3Config{
		Bucket:          s3cfg.Bucket,
		Region:          s3cfg.Region,
		Endpoint:        s3cfg.Endpoint,
		KeyPrefix:       s3cfg.KeyPrefix,
		AccessKeyID:     s3cfg.AccessKeyID,
		SecretAccessKey: s3cfg.SecretAccessKey,
		UsePathStyle:    s3cfg.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up s3 export: %w", err)
	}
	return saver, nil
}

func exportLocation(cfg *config.Config) string {
	if cfg.Export.Target == config.ExportTargetS3 {
		return "s3://" + strings.Trim(cfg.Export.S3.Bucket+"/"+cfg.Export.S3.KeyPrefix, "/")
	}
	return cfg.Export.Directory
}

// collectInputs reads every file named in args; directories contribute their
// top-level files.
func collectInputs(args []string) ([]pipeline.Input, error) {
	var paths []string
	for _, arg := range args {
		if dirExists(arg) {
			entries, err := os.ReadDir(arg)
			if err != nil {
				return nil, fmt.Errorf("failed to read directory %s: %w", arg, err)
			}
			for _, entry := range entries {
				if !entry.IsDir() {
					paths = append(paths, filepath.Join(arg, entry.Name()))
				}
			}
			continue
		}
		if !fileExists(arg) {
			return nil, fmt.Errorf("file does not exist: %s", arg)
		}
		paths = append(paths, arg)
	}

	inputs := make([]pipeline.Input, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		inputs = append(inputs, pipeline.Input{
			Name: filepath.Base(path),
			Type: detectType(path, data),
			Data: data,
		})
	}
	return inputs, nil
}

// detectType uses the file extension and falls back to content sniffing.
func detectType(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
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
		// console-only defaults when the configured file or level is unusable
		fallback := logger.DefaultConfig()
		fallback.FilePath = ""
		var fallbackErr error
		if log, fallbackErr = logger.NewLogger(fallback); fallbackErr != nil {
			log = logrus.New()
		}
		log.WithError(err).Warn("Logger configuration rejected, using defaults")
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
