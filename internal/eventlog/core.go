package eventlog

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"
)

// core is a zapcore.Core that mirrors events into a Buffer. It is meant
// to be teed alongside the file core so the UI sees exactly what the log
// file receives.
type core struct {
	zapcore.LevelEnabler
	buf    *Buffer
	fields []zapcore.Field
}

// NewCore builds a zap core writing into buf.
func NewCore(buf *Buffer, enab zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: enab, buf: buf}
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := &core{LevelEnabler: c.LevelEnabler, buf: c.buf}
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	msg := ent.Message
	if extra := renderFields(c.fields, fields); extra != "" {
		msg += "  " + extra
	}
	c.buf.Append(Entry{Time: ent.Time, Level: ent.Level, Message: msg})
	return nil
}

func (c *core) Sync() error { return nil }

// renderFields flattens structured fields to a compact display string.
// The file core keeps the full structured form; this is only for the
// in-app view.
func renderFields(base, extra []zapcore.Field) string {
	if len(base)+len(extra) == 0 {
		return ""
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range base {
		f.AddTo(enc)
	}
	for _, f := range extra {
		f.AddTo(enc)
	}
	parts := make([]string, 0, len(enc.Fields))
	for k, v := range enc.Fields {
		parts = append(parts, k+"="+toString(v))
	}
	// Map order is unstable; sort for deterministic display.
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return strings.TrimSpace(strings.ReplaceAll(fmt.Sprint(v), "\n", " "))
}
