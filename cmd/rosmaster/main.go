package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rmacdonaldsmith/rosnode-go/internal/registrar"
	grpcrpc "github.com/rmacdonaldsmith/rosnode-go/internal/rpc"
)

const (
	// Application info
	appName    = "rosmaster"
	appVersion = "0.1.0"
)

type options struct {
	host string
	port int
}

func main() {
	var (
		host        = flag.String("host", "localhost", "Hostname advertised in the registrar URI")
		port        = flag.Int("port", 11311, "Registrar port")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		dev         = flag.Bool("dev", false, "Use human-readable development logging")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	logger, err := newLogger(*logLevel, *dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	err = run(ctx, options{host: *host, port: *port}, logger, func(uri string) {
		logger.Info("registrar started", zap.String("uri", uri), zap.String("version", appVersion))
	})
	if err != nil {
		logger.Fatal("registrar failed", zap.Error(err))
	}
	logger.Info("registrar stopped")
}

// run serves the registrar until ctx is cancelled. ready receives the bound
// URI once the endpoint is listening.
func run(ctx context.Context, opts options, logger *zap.Logger, ready func(uri string)) error {
	endpoint := grpcrpc.NewServer(logger.Named("rpc"))
	srv := registrar.NewServer(grpcrpc.Dialer(), logger.Named("registrar"))

	uri, err := srv.Start(endpoint, opts.host, opts.port)
	if err != nil {
		return fmt.Errorf("failed to start registrar on port %d: %w", opts.port, err)
	}
	if ready != nil {
		ready(uri)
	}

	<-ctx.Done()
	logger.Info("shutting down registrar", zap.NamedError("cause", context.Cause(ctx)))

	err = endpoint.Close()
	srv.Wait()
	return err
}

// newLogger builds a production JSON logger, or a console logger when dev is set.
func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
