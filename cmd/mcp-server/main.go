package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/client"
)

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	baseURL := os.Getenv("CIVICREPORT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8787"
	}
	// list and stats tools need an admin token when the API enforces auth
	opts := []client.Option{client.WithLogger(logger)}
	if tok := os.Getenv("CIVICREPORT_TOKEN"); tok != "" {
		opts = append(opts, client.WithToken(tok))
	}
	api := client.New(baseURL, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := api.Health(ctx); err != nil {
		logger.Warn("report API not reachable yet", zap.String("url", baseURL), zap.Error(err))
	}

	server := newServer(&reportTools{api: api, logger: logger})

	// MCP traffic is captured for debugging and dumped if the session fails
	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("civic report MCP server running via stdio", zap.String("api", baseURL))
	if err := server.Run(ctx, transport); err != nil && ctx.Err() == nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}

// newLogger writes JSON logs to stderr; stdout carries the MCP stream.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("civicreport-mcp").With(zap.String("service", "civicreport-mcp")), nil
}
