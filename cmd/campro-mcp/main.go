package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/campro/campro-mcp/internal/client"
	"github.com/campro/campro-mcp/internal/config"
	"github.com/campro/campro-mcp/internal/imaging"
	"github.com/campro/campro-mcp/internal/logging"
	"github.com/campro/campro-mcp/internal/server"
	"github.com/campro/campro-mcp/internal/transport"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	stdio   bool
	port    int
	version bool
}

func parseArgs(args []string, output io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("campro-mcp", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.BoolVar(&opts.stdio, "stdio", false, "Serve MCP over stdin/stdout instead of HTTP")
	fs.IntVar(&opts.port, "port", 0, "HTTP port (overrides PORT)")
	fs.BoolVar(&opts.version, "version", false, "Print version information")
	fs.Usage = func() { printUsage(output, fs) }

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if opts.port < 0 || opts.port > 65535 {
		return opts, fmt.Errorf("invalid port %d", opts.port)
	}
	return opts, nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "campro-mcp - MCP server for CamPro photo analysis")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: campro-mcp [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.PrintDefaults()
	fmt.Fprintln(w, "  -help")
	fmt.Fprintln(w, "    	Print this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintln(w, "  CAMPRO_API_KEY                 Analysis service credential (required)")
	fmt.Fprintln(w, "  PORT                           HTTP port (default 8080)")
	fmt.Fprintln(w, "  CAMPRO_ENV=production          Bind 0.0.0.0 and log JSON at info")
	fmt.Fprintln(w, "  CAMPRO_ANALYSIS_URL            Analysis service base URL")
	fmt.Fprintln(w, "  CAMPRO_LOG_LEVEL=debug         Override the log level")
	fmt.Fprintln(w, "  CAMPRO_REQUEST_TIMEOUT=30s     Outbound request timeout")
	fmt.Fprintln(w, "  CAMPRO_SESSION_IDLE_TIMEOUT=1h Close idle HTTP sessions")
	fmt.Fprintln(w, "  CAMPRO_MAX_IMAGE_EDGE=2048     Downscale larger images before upload")
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.version {
		fmt.Printf("campro-mcp %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if opts.port != 0 {
		cfg.Port = opts.port
	}

	logging.Setup(logging.Options{
		Production: cfg.IsProduction(),
		Level:      cfg.LogLevel,
	})
	log.WithFields(log.Fields{
		"version": Version,
		"commit":  GitCommit,
		"built":   BuildTime,
	}).Debug("starting campro-mcp")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, opts.stdio); err != nil {
		log.WithError(err).Error("server error")
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, stdio bool) error {
	inspector, err := imaging.NewInspector(imaging.Options{MaxEdge: cfg.MaxImageEdge})
	if err != nil {
		return fmt.Errorf("creating image inspector: %w", err)
	}
	defer inspector.Close()

	analysis := client.New(client.Config{
		BaseURL:   cfg.AnalysisURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		Inspector: inspector,
	})

	if stdio {
		return runStdio(ctx, analysis)
	}
	return runHTTP(ctx, cfg, analysis)
}

func runStdio(ctx context.Context, analysis *client.Client) error {
	log.Info("serving MCP over stdio")

	srv := server.New(analysis)
	err := srv.Serve(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runHTTP(ctx context.Context, cfg *config.Config, analysis *client.Client) error {
	sessions := transport.NewSessionManager()
	router := transport.NewRouter(transport.RouterConfig{
		Sessions:   sessions,
		NewServer:  func() *server.Server { return server.New(analysis) },
		Uploader:   analysis,
		Production: cfg.IsProduction(),
		Version:    server.ServerVersion,
	})

	if cfg.SessionIdleTimeout > 0 {
		go sessions.Run(ctx, sweepInterval(cfg.SessionIdleTimeout), cfg.SessionIdleTimeout)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- router.Start(cfg.Addr()) }()
	logServerStart(cfg)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return router.Shutdown(shutdownCtx)
}

// sweepInterval checks for idle sessions often enough to evict them within a
// quarter of maxIdle, but no more than once a second.
func sweepInterval(maxIdle time.Duration) time.Duration {
	return max(maxIdle/4, time.Second)
}

func logServerStart(cfg *config.Config) {
	if cfg.IsProduction() {
		log.WithField("port", cfg.Port).Info("CamPro MCP server listening")
		return
	}

	log.Infof("CamPro MCP server listening on http://localhost:%d", cfg.Port)
	log.Infof("Put this in your client config:\n%s", clientConfigSnippet(cfg.Port))
	log.Info("For backward compatibility, you can also use the /sse endpoint.")
}

func clientConfigSnippet(port int) string {
	snippet := map[string]any{
		"mcpServers": map[string]any{
			"campro": map[string]string{
				"url": fmt.Sprintf("http://localhost:%d/mcp", port),
			},
		},
	}
	b, _ := json.MarshalIndent(snippet, "", "  ")
	return string(b)
}
