package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/digitaltwin/internal/config"
)

const (
	redactedValue   = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

// secretMarshaler wraps config.Secret for Zap object marshaling.
type secretMarshaler struct {
	key string
	val config.Secret
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, fmt.Sprintf("[REDACTED:%d]", len(s.val.Value())))
	return nil
}

// Secret logs a credential as its length only, e.g. the Groq key or the
// Upstash token.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

// RedactingEncoder masks sensitive fields before they reach the wrapped
// encoder. A field is masked when its key is listed (case-insensitive) or
// when its string or error value matches a pattern.
//
// Per-entry fields arrive through EncodeEntry; fields bound with With arrive
// through the Add methods. Both paths are covered.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base with the configured rules. It fails if a
// pattern does not compile.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	e := &RedactingEncoder{Encoder: base}
	if !cfg.Enabled {
		return e, nil
	}

	e.keys = make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		e.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

func (e *RedactingEncoder) sensitiveKey(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

func (e *RedactingEncoder) matches(val string) bool {
	for _, re := range e.patterns {
		if re.MatchString(val) {
			return true
		}
	}
	return false
}

// redact returns the masked replacement for f, if any.
func (e *RedactingEncoder) redact(f zapcore.Field) (zapcore.Field, bool) {
	if e.sensitiveKey(f.Key) {
		return zap.String(f.Key, redactedValue), true
	}
	switch f.Type {
	case zapcore.StringType:
		if e.matches(f.String) {
			return zap.String(f.Key, redactedPattern), true
		}
	case zapcore.ErrorType:
		// Upstream errors can echo request headers.
		if err, ok := f.Interface.(error); ok && err != nil && e.matches(err.Error()) {
			return zap.String(f.Key, redactedPattern), true
		}
	}
	return f, false
}

// EncodeEntry masks the entry's fields, then delegates. The caller's slice
// is copied before the first change.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if len(e.keys) == 0 && len(e.patterns) == 0 {
		return e.Encoder.EncodeEntry(ent, fields)
	}

	out := fields
	copied := false
	for i, f := range fields {
		masked, ok := e.redact(f)
		if !ok {
			continue
		}
		if !copied {
			out = append([]zapcore.Field(nil), fields...)
			copied = true
		}
		out[i] = masked
	}
	for _, re := range e.patterns {
		ent.Message = re.ReplaceAllString(ent.Message, redactedValue)
	}
	return e.Encoder.EncodeEntry(ent, out)
}

// AddString masks listed keys and values matching a pattern.
func (e *RedactingEncoder) AddString(key, val string) {
	switch {
	case e.sensitiveKey(key):
		e.Encoder.AddString(key, redactedValue)
	case e.matches(val):
		e.Encoder.AddString(key, redactedPattern)
	default:
		e.Encoder.AddString(key, val)
	}
}

// AddByteString masks listed keys and values matching a pattern.
func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	switch {
	case e.sensitiveKey(key):
		e.Encoder.AddString(key, redactedValue)
	case e.matches(string(val)):
		e.Encoder.AddString(key, redactedPattern)
	default:
		e.Encoder.AddByteString(key, val)
	}
}

// AddBinary masks listed keys.
func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected masks listed keys.
func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// AddArray masks listed keys.
func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

// AddObject masks listed keys.
func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone copies the wrapped encoder and shares the rules.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		keys:     e.keys,
		patterns: e.patterns,
	}
}
