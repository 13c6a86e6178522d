// internal/logging/redact.go
package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/issueforge/internal/config"
)

// Secret creates a field for config.Secret that only reveals its length.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", len(val.Value())))
}

// RedactingEncoder wraps a zapcore.Encoder and rewrites sensitive fields
// and values before they are encoded.
type RedactingEncoder struct {
	zapcore.Encoder
	fields   map[string]bool
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps an encoder with redaction rules.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	enc := &RedactingEncoder{Encoder: base, fields: map[string]bool{}}
	if !cfg.Enabled {
		return enc, nil
	}
	for _, f := range cfg.Fields {
		enc.fields[strings.ToLower(f)] = true
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		enc.patterns = append(enc.patterns, re)
	}
	return enc, nil
}

func (e *RedactingEncoder) sensitiveKey(key string) bool {
	return e.fields[strings.ToLower(key)]
}

func (e *RedactingEncoder) scrub(val string) string {
	for _, re := range e.patterns {
		val = re.ReplaceAllString(val, "[REDACTED]")
	}
	return val
}

func (e *RedactingEncoder) redact(f zapcore.Field) zapcore.Field {
	if e.sensitiveKey(f.Key) {
		return zap.String(f.Key, "[REDACTED]")
	}
	if f.Type == zapcore.StringType {
		f.String = e.scrub(f.String)
	}
	return f
}

// AddString covers fields attached through With.
func (e *RedactingEncoder) AddString(key, val string) {
	if e.sensitiveKey(key) {
		val = "[REDACTED]"
	}
	e.Encoder.AddString(key, e.scrub(val))
}

// EncodeEntry covers per-call fields and the message itself.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	ent.Message = e.scrub(ent.Message)
	clean := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		clean[i] = e.redact(f)
	}
	return e.Encoder.EncodeEntry(ent, clean)
}

// Clone creates a copy of the encoder.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		fields:   e.fields,
		patterns: e.patterns,
	}
}
