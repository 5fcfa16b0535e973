package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/hparams/internal/application"
	"github.com/eugenenazirov/hparams/internal/config"
	"github.com/eugenenazirov/hparams/internal/hparams"
	"github.com/eugenenazirov/hparams/internal/logging"
	"github.com/eugenenazirov/hparams/internal/recipe"
)

var signalNotify = signal.Notify

const (
	exitOK      = 0
	exitInvalid = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type cli struct {
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger
}

func run(args []string, stdout, stderr io.Writer) int {
	app := kingpin.New("hparams", "Training recipe loader, validator and inspector.")
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	app.Terminate(nil)
	var logLevelSet bool
	logLevel := app.Flag("log-level", "Log level (CLI commands default to warn, serve to its configured level).").Default("warn").IsSetByUser(&logLevelSet).String()

	checkCmd := app.Command("check", "Validate a recipe and report every violation.")
	checkFile := checkCmd.Arg("file", "Recipe YAML file.").Required().String()
	checkStrict := checkCmd.Flag("strict", "Report keys the recipe schema does not know.").Bool()

	getCmd := app.Command("get", "Print a single typed value.")
	getFile := getCmd.Arg("file", "Recipe YAML file.").Required().String()
	getKey := getCmd.Arg("key", "Key to read.").Required().String()
	getType := getCmd.Flag("type", "Expected value type.").Enum("bool", "int", "float", "string")

	fmtCmd := app.Command("fmt", "Print the canonical form of a recipe.")
	fmtFile := fmtCmd.Arg("file", "Recipe YAML file.").Required().String()
	fmtWrite := fmtCmd.Flag("write", "Rewrite the file in place instead of printing.").Short('w').Bool()
	fmtDefaults := fmtCmd.Flag("defaults", "Fill absent optional keys with their defaults.").Bool()

	planCmd := app.Command("plan", "Print the per-epoch validation and checkpoint schedule.")
	planFile := planCmd.Arg("file", "Recipe YAML file.").Required().String()
	planBatches := planCmd.Flag("batches", "Steps per epoch, used for checkpoint names.").Default("1").Int()

	serveCmd := app.Command("serve", "Serve the recipe over a read-only HTTP inspector.")
	var strictSet, watchSet bool
	configFile := serveCmd.Flag("config", "Path to YAML configuration file").String()
	port := serveCmd.Flag("port", "HTTP port exposed by the service").String()
	recipePath := serveCmd.Flag("recipe", "Recipe YAML file to serve").String()
	serveStrict := serveCmd.Flag("strict", "Report keys the recipe schema does not know.").IsSetByUser(&strictSet).Bool()
	serveWatch := serveCmd.Flag("watch", "Reload the recipe when the file changes.").IsSetByUser(&watchSet).Bool()
	rateLimitRPSFlag := serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	command, err := app.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "hparams: %v\n", err)
		return exitUsage
	}

	if command == serveCmd.FullCommand() {
		overrides := &config.CLIOverrides{ConfigFile: *configFile}
		if *port != "" {
			overrides.Port = port
		}
		if *recipePath != "" {
			overrides.RecipePath = recipePath
		}
		if logLevelSet {
			overrides.LogLevel = logLevel
		}
		if strictSet {
			overrides.Strict = serveStrict
		}
		if watchSet {
			overrides.Watch = serveWatch
		}
		if *rateLimitRPSFlag >= 0 {
			overrides.RateLimitRPS = rateLimitRPSFlag
		}
		if *rateLimitBurstFlag >= 0 {
			overrides.RateLimitBurst = rateLimitBurstFlag
		}
		return serve(overrides, stderr)
	}

	logger, err := logging.New(*logLevel, logging.FormatConsole)
	if err != nil {
		fmt.Fprintf(stderr, "hparams: %v\n", err)
		return exitUsage
	}
	defer func() {
		_ = logger.Sync()
	}()
	c := &cli{stdout: stdout, stderr: stderr, logger: logger}

	switch command {
	case checkCmd.FullCommand():
		return c.check(*checkFile, *checkStrict)
	case getCmd.FullCommand():
		return c.get(*getFile, *getKey, *getType)
	case fmtCmd.FullCommand():
		return c.format(*fmtFile, *fmtWrite, *fmtDefaults)
	case planCmd.FullCommand():
		return c.plan(*planFile, *planBatches)
	}
	fmt.Fprintf(stderr, "hparams: unknown command %q\n", command)
	return exitUsage
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "hparams: %v\n", err)
	return exitInvalid
}

func (c *cli) check(path string, strict bool) int {
	doc, err := hparams.Load(path)
	if err != nil {
		return c.fail(err)
	}
	c.logger.Debug("recipe loaded", zap.String("path", path), zap.Int("entries", doc.Len()))

	violations := doc.Validate(recipe.Schema(strict))
	if len(violations) == 0 {
		fmt.Fprintf(c.stdout, "%s: ok (%d keys)\n", path, doc.Len())
		return exitOK
	}
	for _, v := range violations {
		fmt.Fprintf(c.stdout, "%s: %v\n", path, v)
	}
	fmt.Fprintf(c.stdout, "%s: %d violation(s)\n", path, len(violations))
	return exitInvalid
}

func (c *cli) get(path, key, typeName string) int {
	doc, err := hparams.Load(path)
	if err != nil {
		return c.fail(err)
	}

	entry, ok := doc.Lookup(key)
	if !ok {
		return c.fail(&hparams.MissingKeyError{Key: key})
	}
	kind := entry.Value.Kind()
	if typeName != "" {
		if kind, err = hparams.ParseKind(typeName); err != nil {
			return c.fail(err)
		}
	}

	value, err := doc.Get(key, kind)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, value.String())
	return exitOK
}

func (c *cli) format(path string, write, defaults bool) int {
	doc, err := hparams.Load(path)
	if err != nil {
		return c.fail(err)
	}
	if defaults {
		doc = doc.WithDefaults(recipe.Schema(false))
	}

	data, err := doc.Marshal()
	if err != nil {
		return c.fail(err)
	}
	if !write {
		_, _ = c.stdout.Write(data)
		return exitOK
	}

	original, err := os.ReadFile(path)
	if err == nil && bytes.Equal(original, data) {
		c.logger.Debug("recipe already canonical", zap.String("path", path))
		return exitOK
	}
	perm := os.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		perm = info.Mode().Perm()
	}
	if err := renameio.WriteFile(path, data, perm); err != nil {
		return c.fail(fmt.Errorf("write %s: %w", path, err))
	}
	c.logger.Info("recipe rewritten", zap.String("path", path))
	return exitOK
}

func (c *cli) plan(path string, batches int) int {
	r, err := recipe.Load(path, false)
	if err != nil {
		return c.fail(err)
	}
	if batches < 1 {
		return c.fail(fmt.Errorf("batches must be >= 1, got %d", batches))
	}

	for epoch := 1; epoch <= r.EpochSize; epoch++ {
		validate := r.ShouldValidate(epoch)
		save := r.ShouldSaveCheckpoint(epoch)
		if !validate && !save {
			continue
		}
		line := fmt.Sprintf("epoch %d:", epoch)
		if validate {
			line += " validate"
		}
		if save {
			line += " save " + r.CheckpointName(epoch, batches)
		}
		fmt.Fprintln(c.stdout, line)
	}
	return exitOK
}

func serve(overrides *config.CLIOverrides, stderr io.Writer) int {
	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(stderr, "hparams: failed to load configuration: %v\n", err)
		return exitUsage
	}

	logger, err := logging.New(cfg.LogLevel, logging.FormatJSON)
	if err != nil {
		fmt.Fprintf(stderr, "hparams: failed to initialize logger: %v\n", err)
		return exitUsage
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		return exitInvalid
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return exitInvalid
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
	return exitOK
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
