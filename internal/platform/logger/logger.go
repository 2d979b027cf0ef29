package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{
	Debug: "debug",
	Info:  "info",
	Warn:  "warn",
	Error: "error",
}

// ParseLevel acepta debug|info|warn|warning|error; cualquier otra cosa es info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return Warn
	}
	for lvl, name := range levelNames {
		if name == s {
			return lvl
		}
	}
	return Info
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "info"
}

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// Logger es la interfaz que reciben services, workers y adapters.
// Los campos van como map para que cada capa agregue contexto (member_id, task, etc).
type Logger interface {
	With(fields map[string]any) Logger

	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// StdLogger escribe una línea por evento, en logfmt o JSON.
type StdLogger struct {
	mu     *sync.Mutex
	std    *log.Logger
	level  Level
	format Format
	base   map[string]any
	now    func() time.Time
}

type Options struct {
	Level  Level
	Format Format
	App    string

	// Output por defecto es stdout. Los tests pasan un buffer.
	Output io.Writer
}

func New(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	base := map[string]any{}
	if app := strings.TrimSpace(opts.App); app != "" {
		base["app"] = app
	}

	format := opts.Format
	if format == "" {
		format = FormatText
	}

	return &StdLogger{
		mu:     &sync.Mutex{},
		std:    log.New(out, "", 0),
		level:  opts.Level,
		format: format,
		base:   base,
		now:    time.Now,
	}
}

// Nop descarta todo. Útil en tests que no verifican logs.
func Nop() Logger {
	return New(Options{Level: Error + 1, Output: io.Discard})
}

// Err arma el campo estándar para errores.
func Err(err error) map[string]any {
	if err == nil {
		return nil
	}
	return map[string]any{"err": err.Error()}
}

func (l *StdLogger) With(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	// shallow copy: comparte std, mutex, level y format
	cp := *l
	cp.base = merge(l.base, fields)
	return &cp
}

func (l *StdLogger) Debug(msg string, fields map[string]any) { l.log(Debug, msg, fields) }
func (l *StdLogger) Info(msg string, fields map[string]any)  { l.log(Info, msg, fields) }
func (l *StdLogger) Warn(msg string, fields map[string]any)  { l.log(Warn, msg, fields) }
func (l *StdLogger) Error(msg string, fields map[string]any) { l.log(Error, msg, fields) }

func merge(base, fields map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		if strings.TrimSpace(k) == "" {
			continue
		}
		out[k] = normalize(v)
	}
	return out
}

// normalize deja los valores en una forma que ambos formatos imprimen igual:
// errores como texto, fechas en RFC3339 UTC, punteros nil fuera.
func normalize(v any) any {
	switch x := v.(type) {
	case error:
		return x.Error()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339)
	case time.Duration:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}

func (l *StdLogger) log(lvl Level, msg string, fields map[string]any) {
	if lvl < l.level {
		return
	}

	entry := merge(l.base, fields)
	for k, v := range entry {
		if v == nil {
			delete(entry, k)
		}
	}
	ts := l.now().UTC().Format(time.RFC3339Nano)

	var line string
	switch l.format {
	case FormatJSON:
		entry["ts"], entry["level"], entry["msg"] = ts, lvl.String(), msg
		b, err := json.Marshal(entry)
		if err != nil {
			line = formatText(ts, lvl, msg, map[string]any{"log_error": err.Error()})
			break
		}
		line = string(b)
	default:
		line = formatText(ts, lvl, msg, entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.std.Println(line)
}

// formatText: ts, level y msg primero; el resto ordenado por key.
func formatText(ts string, lvl Level, msg string, fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		switch k {
		case "ts", "level", "msg":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("ts=" + ts + " level=" + lvl.String() + " msg=" + quote(msg))
	for _, k := range keys {
		b.WriteString(" " + k + "=" + quote(fmt.Sprint(fields[k])))
	}
	return b.String()
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
