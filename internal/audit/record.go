package audit

import (
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/malbeclabs/nlsql/internal/pipeline"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Record is one line of a per-question JSONL audit file.
type Record struct {
	ID            string  `json:"id"`
	TS            string  `json:"ts"`
	Status        string  `json:"status"`
	NLQ           string  `json:"nlq"`
	Intent        string  `json:"intent"`
	SQL           string  `json:"sql"`
	ResultPreview string  `json:"result_preview"`
	ResultLen     int     `json:"result_len"`
	Error         string  `json:"error,omitempty"`
	TimesMS       TimesMS `json:"times_ms"`
}

// TimesMS holds stage timings in milliseconds; unset stages encode as null.
type TimesMS struct {
	Intent   *int64 `json:"intent"`
	SQL      *int64 `json:"sql"`
	Validate *int64 `json:"validate"`
	Execute  *int64 `json:"execute"`
	Total    *int64 `json:"total"`
}

func newTimesMS(t pipeline.Timings) TimesMS {
	return TimesMS{
		Intent:   t.Intent,
		SQL:      t.SQL,
		Validate: t.Validate,
		Execute:  t.Execute,
		Total:    t.Total(),
	}
}

func (s *Sink) newRecord(st pipeline.State, status pipeline.Status) Record {
	rec := Record{
		ID:      uuid.NewString(),
		TS:      s.clock.Now().UTC().Format(timestampFormat),
		Status:  string(status),
		NLQ:     st.Query,
		Intent:  st.Intent,
		SQL:     st.SQL,
		TimesMS: newTimesMS(st.Timings),
	}
	if status == pipeline.StatusError {
		rec.Error = st.Error
		return rec
	}
	rec.ResultPreview = Preview(st.Result, s.cfg.PreviewLen)
	rec.ResultLen = utf8.RuneCountInString(st.Result)
	return rec
}
