// cmd/captchafill/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/valpere/captchafill/internal/api"
	"github.com/valpere/captchafill/internal/autofill"
	"github.com/valpere/captchafill/internal/browser"
	"github.com/valpere/captchafill/internal/config"
	"github.com/valpere/captchafill/internal/detector"
	"github.com/valpere/captchafill/internal/monitoring"
	"github.com/valpere/captchafill/internal/page"
	"github.com/valpere/captchafill/internal/solver"
	"github.com/valpere/captchafill/internal/storage"
	"github.com/valpere/captchafill/internal/utils"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runSolve(os.Args[2:])
	case "detect":
		err = runDetect(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "template":
		err = runTemplate()
	case "validate":
		err = runValidate(os.Args[2:])
	case "version":
		fmt.Printf("captchafill %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`captchafill - detect captchas on web pages and fill them via an external OCR service

Usage:
  captchafill run <url> [--config file]      solve the captcha on a page once
  captchafill detect <url>                   report detected captcha elements (no browser)
  captchafill serve [--config file]          start the HTTP adapter
  captchafill template                       print a default configuration
  captchafill validate <file>                validate a configuration file
  captchafill version                        print version information
`)
}

// loadAppConfig loads the configuration file, or the defaults when no file
// is given.
func loadAppConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

// runSolve performs one detect-extract-solve-fill cycle against a page.
func runSolve(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	url := fs.Arg(0)
	if url == "" {
		return fmt.Errorf("usage: captchafill run <url> [--config file]")
	}

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	provider, err := config.NewFileProvider(cfg.SettingsFile)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()

	session, err := browser.NewChrome(cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	engine := autofill.NewEngine(session, solver.NewClient(provider, logger),
		store, monitoring.NewMetrics(""), logger)

	result, err := engine.Run(context.Background(), url)
	if utils.IsCode(err, utils.ErrCodeDetectionFailed) {
		// Accepted outcome on pages without a captcha, not a failure.
		fmt.Println("no captcha detected")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("solved: %s\n", result.Solution)
	return nil
}

// runDetect fetches a page over plain HTTP and reports what the detection
// heuristic finds, without starting a browser. Static documents have no
// layout, so proximity ties resolve to document order.
func runDetect(args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	url := fs.Arg(0)
	if url == "" {
		return fmt.Errorf("usage: captchafill detect <url>")
	}

	resp, err := resty.New().R().Get(url)
	if err != nil {
		return fmt.Errorf("failed to fetch page: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("page fetch returned HTTP %d", resp.StatusCode())
	}

	doc, err := page.NewStaticPage(string(resp.Body()), url)
	if err != nil {
		return err
	}

	candidate, found := detector.New(zap.NewNop()).Detect(context.Background(), doc)
	if !found {
		fmt.Println("no captcha detected")
		return nil
	}

	fmt.Printf("image: %s (src=%s)\n", candidate.Image.Selector, candidate.Image.Attr("src"))
	fmt.Printf("input: %s [match %d]\n", candidate.Input.Selector, candidate.Input.Index)
	return nil
}

// runServe starts the HTTP adapter.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	provider, err := config.NewFileProvider(cfg.SettingsFile)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := monitoring.NewMetrics("")
	solverClient := solver.NewClient(provider, logger)

	// Each page solve gets its own browser session so attempts stay
	// isolated from each other.
	pages := api.PageSolverFunc(func(ctx context.Context, url string) (string, error) {
		session, err := browser.NewChrome(cfg.Browser, logger)
		if err != nil {
			return "", err
		}
		defer session.Close()

		engine := autofill.NewEngine(session, solverClient, store, metrics, logger)
		result, err := engine.Run(ctx, url)
		if err != nil {
			return "", err
		}
		return result.Solution, nil
	})

	server := api.NewServer(cfg.Server, solverClient, pages, provider, store, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// runTemplate prints a default configuration file.
func runTemplate() error {
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// runValidate checks a configuration file.
func runValidate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: captchafill validate <file>")
	}
	if _, err := config.LoadFromFile(args[0]); err != nil {
		return err
	}
	fmt.Printf("configuration file %q is valid\n", args[0])
	return nil
}
