package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/nlsql/internal/audit"
	"github.com/malbeclabs/nlsql/internal/executor"
	"github.com/malbeclabs/nlsql/internal/pipeline"
	"github.com/malbeclabs/nlsql/internal/sqldb"
	"github.com/malbeclabs/nlsql/internal/validator"
)

const (
	flagDatabaseURL     = "database-url"
	flagLogDir          = "log-dir"
	flagAnthropicAPIKey = "anthropic-api-key"
	flagModel           = "model"
	flagMaxTokens       = "max-tokens"
)

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func addPipelineFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, getenv("NLSQL_DATABASE_URL", ""), "database url: postgres://, clickhouse:// or duckdb:// (env: NLSQL_DATABASE_URL)")
	flags.String(flagLogDir, getenv("NLSQL_LOG_DIR", audit.DefaultDir), "directory for query audit logs (env: NLSQL_LOG_DIR)")
	flags.String(flagAnthropicAPIKey, getenv("ANTHROPIC_API_KEY", ""), "anthropic api key (env: ANTHROPIC_API_KEY)")
	flags.String(flagModel, getenv("NLSQL_MODEL", string(pipeline.DefaultModel)), "anthropic model (env: NLSQL_MODEL)")
	flags.Int(flagMaxTokens, getenvInt("NLSQL_MAX_TOKENS", pipeline.DefaultMaxTokens), "max tokens per model response (env: NLSQL_MAX_TOKENS)")
}

type pipelineConfig struct {
	DatabaseURL     string
	LogDir          string
	AnthropicAPIKey string
	Model           string
	MaxTokens       int
}

func loadPipelineConfig(cmd *cobra.Command) (pipelineConfig, error) {
	flags := cmd.Root().PersistentFlags()

	var cfg pipelineConfig
	var err error
	if cfg.DatabaseURL, err = flags.GetString(flagDatabaseURL); err != nil {
		return cfg, fmt.Errorf("failed to get %s flag: %w", flagDatabaseURL, err)
	}
	if cfg.LogDir, err = flags.GetString(flagLogDir); err != nil {
		return cfg, fmt.Errorf("failed to get %s flag: %w", flagLogDir, err)
	}
	if cfg.AnthropicAPIKey, err = flags.GetString(flagAnthropicAPIKey); err != nil {
		return cfg, fmt.Errorf("failed to get %s flag: %w", flagAnthropicAPIKey, err)
	}
	if cfg.Model, err = flags.GetString(flagModel); err != nil {
		return cfg, fmt.Errorf("failed to get %s flag: %w", flagModel, err)
	}
	if cfg.MaxTokens, err = flags.GetInt(flagMaxTokens); err != nil {
		return cfg, fmt.Errorf("failed to get %s flag: %w", flagMaxTokens, err)
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("database url is empty (set NLSQL_DATABASE_URL or --database-url)")
	}
	if cfg.AnthropicAPIKey == "" {
		return cfg, errors.New("anthropic api key is empty (set ANTHROPIC_API_KEY or --anthropic-api-key)")
	}
	if cfg.MaxTokens <= 0 {
		return cfg, fmt.Errorf("max tokens must be positive, got %d", cfg.MaxTokens)
	}
	return cfg, nil
}

// app holds the wired pipeline and the resources it owns.
type app struct {
	Pipeline *pipeline.Pipeline

	db   sqldb.DB
	sink *audit.Sink
}

func newApp(ctx context.Context, log *slog.Logger, cfg pipelineConfig) (*app, error) {
	db, err := sqldb.Open(ctx, log, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sink, err := audit.Open(&audit.Config{Dir: cfg.LogDir})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open audit sink: %w", err)
	}

	a := &app{db: db, sink: sink}
	p, err := a.newPipeline(log, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Pipeline = p

	log.Info("pipeline ready", "driver", db.Driver(), "database", sqldb.RedactURL(cfg.DatabaseURL), "logDir", cfg.LogDir, "model", cfg.Model)
	return a, nil
}

func (a *app) newPipeline(log *slog.Logger, cfg pipelineConfig) (*pipeline.Pipeline, error) {
	v, err := validator.New(&validator.Config{Logger: log, Connector: a.db})
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}
	e, err := executor.New(&executor.Config{Logger: log, Connector: a.db})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	llm, err := pipeline.NewAnthropicLLMClient(log, anthropic.Model(cfg.Model), int64(cfg.MaxTokens), option.WithAPIKey(cfg.AnthropicAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	p, err := pipeline.New(&pipeline.Config{
		Logger:    log,
		LLM:       llm,
		Validator: v,
		Executor:  e,
		Sink:      a.sink,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, nil
}

func (a *app) Close() error {
	return errors.Join(a.sink.Close(), a.db.Close())
}
