package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/nlsql/internal/pipeline"
)

const (
	defaultListenAddr        = ":8000"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
)

// Runner runs the query pipeline for one question.
type Runner interface {
	Run(ctx context.Context, query string) (pipeline.State, error)
}

type Config struct {
	Logger *slog.Logger
	Runner Runner

	Version           string
	ListenAddr        string
	AllowedOrigins    []string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Runner == nil {
		return errors.New("runner is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
