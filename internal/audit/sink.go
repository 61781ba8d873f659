// Package audit persists one record per completed pipeline run: a
// human-readable line in queries.log and a JSON line in json/<slug>.jsonl.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"

	"github.com/malbeclabs/nlsql/internal/metrics"
	"github.com/malbeclabs/nlsql/internal/pipeline"
)

const (
	DefaultDir             = "logs"
	DefaultPreviewLen      = 200
	DefaultErrorPreviewLen = 500

	textLogName = "queries.log"
	jsonDirName = "json"
	lockStripes = 64
)

type Config struct {
	Dir             string
	Clock           clockwork.Clock
	PreviewLen      int
	ErrorPreviewLen int
}

func (c *Config) Validate() error {
	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.PreviewLen <= 0 {
		c.PreviewLen = DefaultPreviewLen
	}
	if c.ErrorPreviewLen <= 0 {
		c.ErrorPreviewLen = DefaultErrorPreviewLen
	}
	return nil
}

// Sink writes audit records. It is safe for concurrent use.
type Sink struct {
	cfg     *Config
	clock   clockwork.Clock
	textLog *os.File
	text    slog.Handler
	jsonDir string
	locks   [lockStripes]sync.Mutex
}

// Open creates the log directories and opens queries.log for appending.
func Open(cfg *Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	jsonDir := filepath.Join(cfg.Dir, jsonDirName)
	if err := os.MkdirAll(jsonDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Dir, textLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", textLogName, err)
	}

	return &Sink{
		cfg:     cfg,
		clock:   cfg.Clock,
		textLog: f,
		text: tint.NewHandler(f, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: timestampFormat,
			NoColor:    true,
		}),
		jsonDir: jsonDir,
	}, nil
}

// Record appends the text line and the JSON line for a completed run. Both
// are attempted; their errors are joined.
func (s *Sink) Record(ctx context.Context, st pipeline.State, status pipeline.Status) error {
	textErr := s.writeText(ctx, st, status)
	if textErr != nil {
		metrics.AuditWriteErrorsTotal.WithLabelValues("text").Inc()
	}
	jsonErr := s.writeJSON(st, status)
	if jsonErr != nil {
		metrics.AuditWriteErrorsTotal.WithLabelValues("json").Inc()
	}
	return errors.Join(textErr, jsonErr)
}

// Path returns the JSONL file that records for question are appended to.
func (s *Sink) Path(question string) string {
	return filepath.Join(s.jsonDir, Slug(question)+".jsonl")
}

func (s *Sink) Close() error {
	if err := s.textLog.Sync(); err != nil {
		_ = s.textLog.Close()
		return fmt.Errorf("failed to sync %s: %w", textLogName, err)
	}
	return s.textLog.Close()
}

func (s *Sink) writeText(ctx context.Context, st pipeline.State, status pipeline.Status) error {
	level := slog.LevelInfo
	if status == pipeline.StatusError {
		level = slog.LevelWarn
	}

	rec := slog.NewRecord(s.clock.Now().UTC(), level, "query", 0)
	rec.AddAttrs(
		slog.String("status", string(status)),
		slog.String("nlq", st.Query),
		slog.String("intent", Preview(st.Intent, s.cfg.PreviewLen)),
		slog.String("sql", Preview(st.SQL, s.cfg.PreviewLen)),
	)
	if status == pipeline.StatusError {
		rec.AddAttrs(slog.String("error", Preview(st.Error, s.cfg.ErrorPreviewLen)))
	} else {
		rec.AddAttrs(slog.String("result", Preview(st.Result, s.cfg.PreviewLen)))
	}
	rec.AddAttrs(slog.Group("times_ms",
		msAttr("intent", st.Timings.Intent),
		msAttr("sql", st.Timings.SQL),
		msAttr("validate", st.Timings.Validate),
		msAttr("execute", st.Timings.Execute),
		msAttr("total", st.Timings.Total()),
	))

	if err := s.text.Handle(ctx, rec); err != nil {
		return fmt.Errorf("failed to write %s: %w", textLogName, err)
	}
	return nil
}

func (s *Sink) writeJSON(st pipeline.State, status pipeline.Status) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s.newRecord(st, status)); err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	slug := Slug(st.Query)
	mu := s.lock(slug)
	mu.Lock()
	defer mu.Unlock()

	path := filepath.Join(s.jsonDir, slug+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	// Encode terminates the line, so the record goes out in a single write.
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return f.Close()
}

func (s *Sink) lock(slug string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(slug))
	return &s.locks[h.Sum32()%lockStripes]
}

func msAttr(key string, v *int64) slog.Attr {
	if v == nil {
		return slog.String(key, "null")
	}
	return slog.Int64(key, *v)
}
