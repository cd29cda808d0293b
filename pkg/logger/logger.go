package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// Options configures the process logger.
type Options struct {
	Level  string    // debug, info, warn, error
	Format string    // json or console; empty means console at debug level, json otherwise
	Output io.Writer // defaults to stdout
}

// Init replaces the global logger. Unknown levels fall back to info.
func Init(opts Options) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	format := strings.ToLower(opts.Format)
	if format == "" && lvl == zerolog.DebugLevel {
		format = "console"
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: out != os.Stdout}
	}

	log = zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Caller().
		Logger()
}

func init() {
	Init(Options{})
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }

// FromGin returns a child logger tagged with the request id and route of c.
func FromGin(c *gin.Context) *zerolog.Logger {
	l := log.With().
		Str("request_id", c.GetString(RequestIDKey)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Logger()
	return &l
}

// GinLogger logs one line per request. Paths in skip (health checks and the
// like) are served without a log line.
func GinLogger(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		if route := c.FullPath(); route != "" {
			event = event.Str("route", route)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("request_id", c.GetString(RequestIDKey)).
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Str("ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Int("size", c.Writer.Size()).
			Msg("request")
	}
}

// GinRecovery turns a handler panic into the standard JSON error envelope.
func GinRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		l := FromGin(c)
		l.Error().
			Interface("panic", recovered).
			Str("ip", c.ClientIP()).
			Msg("panic recovered")
		c.AbortWithStatusJSON(500, gin.H{"success": false, "error": "internal server error"})
	})
}

// gormWriter adapts the global logger to gorm's printf-style Writer.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	log.Log().Str("component", "gorm").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// GormWriter returns a sink for gorm's logger that writes through zerolog.
// Events carry no level; filtering is left to the gorm logger config.
func GormWriter() interface {
	Printf(string, ...interface{})
} {
	return gormWriter{}
}
