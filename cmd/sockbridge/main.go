// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sockbridge/bridge"
	"github.com/bureau-foundation/sockbridge/hostlink"
	"github.com/bureau-foundation/sockbridge/lib/config"
	"github.com/bureau-foundation/sockbridge/lib/hexcodec"
	"github.com/bureau-foundation/sockbridge/lib/version"
	"github.com/bureau-foundation/sockbridge/sockets"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds the parsed command line.
type flags struct {
	configPath string
	socketPath string
	stdio      bool
	verbose    bool
	version    bool
	help       bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	var parsed flags
	flagSet := pflag.NewFlagSet("sockbridge", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&parsed.configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&parsed.socketPath, "socket", "", "Unix socket for the host link (overrides host.socket_path)")
	flagSet.BoolVar(&parsed.stdio, "stdio", false, "speak the host link over stdin/stdout instead of a socket")
	flagSet.BoolVarP(&parsed.verbose, "verbose", "v", false, "enable per-command and per-event debug logging")
	flagSet.BoolVar(&parsed.version, "version", false, "print version information and exit")
	flagSet.BoolVarP(&parsed.help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			parsed.help = true
			return &parsed, flagSet, nil
		}
		return nil, nil, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return nil, nil, fmt.Errorf("unexpected argument: %s", extra[0])
	}
	if parsed.stdio && parsed.socketPath != "" {
		return nil, nil, fmt.Errorf("--stdio and --socket are mutually exclusive")
	}
	return &parsed, flagSet, nil
}

func run(args []string) error {
	parsed, flagSet, err := parseFlags(args)
	if err != nil {
		return err
	}
	if parsed.help {
		printHelp(os.Stderr, flagSet)
		return nil
	}
	if parsed.version {
		version.Print(os.Stdout, "sockbridge")
		return nil
	}

	cfg, err := loadConfig(parsed.configPath)
	if err != nil {
		return err
	}
	if parsed.socketPath != "" {
		cfg.Host.SocketPath = parsed.socketPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(os.Stderr, cfg.Logging, parsed.verbose)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	encoding, err := hexcodec.ParseEventEncoding(cfg.Events.DataEncoding)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionOptions := hostlink.SessionOptions{
		HandshakeTimeout:     cfg.Host.HandshakeDuration(),
		WriteTimeout:         cfg.Host.WriteDuration(),
		Compression:          cfg.Host.Compression,
		CompressionThreshold: cfg.Host.CompressionThreshold,
		Logger:               logger,
	}
	newCommander := commanderFactory(cfg, encoding, logger)

	logger.Info("sockbridge starting",
		"version", version.Info(),
		"environment", string(cfg.Environment),
		"stdio", parsed.stdio,
		"data_encoding", string(encoding),
	)

	if parsed.stdio {
		return hostlink.RunSession(ctx, newStdioStream(os.Stdin, os.Stdout, cfg.Host.WriteDuration()), sessionOptions, newCommander)
	}
	server := hostlink.NewServer(cfg.Host.SocketPath, sessionOptions, logger)
	return server.Serve(ctx, newCommander)
}

// loadConfig reads the file named by --config, else the file named by
// SOCKBRIDGE_CONFIG, else uses defaults.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

// commanderFactory returns the function that builds one bridge per
// host session, wired to the session as its event sink.
func commanderFactory(cfg *config.Config, encoding hexcodec.EventEncoding, logger *slog.Logger) hostlink.NewCommanderFunc {
	managerOptions := sockets.Options{
		ConnectTimeout:   cfg.Sockets.ConnectDuration(),
		KeepAlive:        cfg.Sockets.KeepAliveDuration(),
		ReadBufferSize:   cfg.Sockets.ReadBufferSize,
		ClientHandleBase: cfg.Sockets.ClientHandleBase,
		ReusePort:        cfg.Sockets.ReusePort,
	}
	return func(sink bridge.Sink) hostlink.Commander {
		return bridge.New(bridge.Options{
			Sink:           sink,
			Encoding:       encoding,
			Logger:         logger,
			ManagerOptions: managerOptions,
		})
	}
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `sockbridge - TCP sockets for a host application over a local link

USAGE
    sockbridge [flags]

The host connects to the Unix socket (host.socket_path, or --socket),
or speaks over stdin/stdout with --stdio. One host session is served;
the daemon exits when it ends.

Configuration is read from --config, else from $%s, else defaults
are used.

FLAGS
`, config.EnvironmentVariable)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
