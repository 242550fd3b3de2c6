// Package formdesk parses formdesk flags and launches the service.
package formdesk

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	entrypoint "github.com/louisbranch/formdesk/internal/platform/cmd"
	"github.com/louisbranch/formdesk/internal/platform/logging"
	server "github.com/louisbranch/formdesk/internal/services/formdesk/app"
)

// Config holds formdesk command configuration.
type Config struct {
	HTTPAddr       string `env:"FORMDESK_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr       string `env:"FORMDESK_GRPC_ADDR" envDefault:":8081"`
	DBPath         string `env:"FORMDESK_DB_PATH" envDefault:"data/formdesk.db"`
	SchemaPath     string `env:"FORMDESK_SCHEMA_PATH" envDefault:"schema.yaml"`
	JWTSecret      string `env:"FORMDESK_JWT_SECRET"`
	JWTIssuer      string `env:"FORMDESK_JWT_ISSUER"`
	AllowAnonymous bool   `env:"FORMDESK_ALLOW_ANONYMOUS" envDefault:"false"`
	LogLevel       string `env:"FORMDESK_LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"FORMDESK_LOG_DEVELOPMENT" envDefault:"false"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The gRPC listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The SQLite database path")
	fs.StringVar(&cfg.SchemaPath, "schema", cfg.SchemaPath, "The collection schema YAML path")
	fs.BoolVar(&cfg.AllowAnonymous, "allow-anonymous", cfg.AllowAnonymous, "Allow every operation for every caller")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "The log level")
	fs.BoolVar(&cfg.LogDevelopment, "log-dev", cfg.LogDevelopment, "Human-readable console logs")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the formdesk HTTP and gRPC service.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", entrypoint.ServiceFormdesk))

	options := entrypoint.RunOptions{Logf: logging.Printf(logger)}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceFormdesk, options, func(ctx context.Context) error {
		return server.Run(ctx, cfg.serverConfig(logger))
	})
}

func (c Config) serverConfig(logger *zap.Logger) server.Config {
	return server.Config{
		HTTPAddr:       c.HTTPAddr,
		GRPCAddr:       c.GRPCAddr,
		DBPath:         c.DBPath,
		SchemaPath:     c.SchemaPath,
		JWTSecret:      c.JWTSecret,
		JWTIssuer:      c.JWTIssuer,
		AllowAnonymous: c.AllowAnonymous,
		Logger:         logger,
	}
}
