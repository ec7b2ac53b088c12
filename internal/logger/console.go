package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// KeyRequestID is hoisted out of the attribute list and printed as a short
// tag right after the level.
const KeyRequestID = "request_id"

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[2m"
	ansiBold  = "\033[1m"
	ansiRed   = "\033[31m"
	ansiAmber = "\033[33m"
	ansiGreen = "\033[32m"
	ansiCyan  = "\033[36m"
)

// ConsoleHandler writes one human-readable line per record:
//
//	15:04:05.000 INFO  [1a2b3c4d] summarized status=ok duration=12ms
//
// Colors are emitted only when the writer is a terminal and NO_COLOR is
// unset. Handlers derived through WithAttrs and WithGroup share one lock, so
// lines from concurrent requests never interleave.
type ConsoleHandler struct {
	level slog.Leveler
	w     io.Writer
	mu    *sync.Mutex
	color bool

	prefix string
	attrs  []slog.Attr
	reqID  string
}

// NewConsoleHandler returns a handler writing to w. A nil level means info.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	_, noColor := os.LookupEnv("NO_COLOR")
	return &ConsoleHandler{
		level: level,
		w:     w,
		mu:    new(sync.Mutex),
		color: !noColor && isTerminal(w),
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = h.paint(buf, ansiDim, r.Time.AppendFormat(nil, "15:04:05.000"))
	buf = append(buf, ' ')
	buf = h.paint(buf, ansiBold+levelColor(r.Level), fmt.Appendf(nil, "%-5s", r.Level.String()))

	reqID := h.reqID
	var attrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == KeyRequestID && h.prefix == "" {
			reqID = a.Value.String()
			return true
		}
		attrs = append(attrs, qualify(h.prefix, a))
		return true
	})
	if reqID != "" {
		buf = append(buf, " ["...)
		buf = append(buf, shortID(reqID)...)
		buf = append(buf, ']')
	}

	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	for _, list := range [][]slog.Attr{h.attrs, attrs} {
		for _, a := range list {
			buf = append(buf, ' ')
			buf = h.appendAttr(buf, a)
		}
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if a.Key == KeyRequestID && h.prefix == "" {
			c.reqID = a.Value.String()
			continue
		}
		c.attrs = append(c.attrs, qualify(h.prefix, a))
	}
	return &c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func (h *ConsoleHandler) paint(buf []byte, color string, text []byte) []byte {
	if !h.color {
		return append(buf, text...)
	}
	buf = append(buf, color...)
	buf = append(buf, text...)
	return append(buf, ansiReset...)
}

func (h *ConsoleHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		for i, g := range a.Value.Group() {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = h.appendAttr(buf, qualify(a.Key+".", g))
		}
		return buf
	}
	color := ansiCyan
	if a.Key == "error" || strings.HasSuffix(a.Key, ".error") {
		color = ansiRed
	}
	buf = h.paint(buf, color, []byte(a.Key))
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	case slog.KindDuration:
		return append(buf, v.Duration().Round(time.Microsecond).String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return strconv.AppendQuote(buf, err.Error())
		}
	}
	return append(buf, v.String()...)
}

func qualify(prefix string, a slog.Attr) slog.Attr {
	if prefix != "" {
		a.Key = prefix + a.Key
	}
	return a
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiAmber
	case level >= slog.LevelInfo:
		return ansiGreen
	default:
		return ansiDim
	}
}
