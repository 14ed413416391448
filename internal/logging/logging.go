// Package logging builds the structured loggers used by the sessionwatch
// binaries. Library packages accept a *log.Logger and never reach for L.
package logging

import (
	"io"
	"os"
	"strings"

	clog "github.com/charmbracelet/log"
)

// L is the process-wide logger used by cmd/sessionwatch.
var L = clog.NewWithOptions(os.Stderr, clog.Options{
	ReportTimestamp: true,
	Level:           clog.InfoLevel,
})

// Options selects the output shape of New.
type Options struct {
	Level  string // debug, info, warn, error; empty means info
	Format string // text (default), json, logfmt
	Prefix string
}

// New returns a logger writing to w. An unknown level falls back to info.
func New(w io.Writer, opts Options) *clog.Logger {
	level, err := clog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		level = clog.InfoLevel
	}

	l := clog.NewWithOptions(w, clog.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          opts.Prefix,
	})
	switch strings.ToLower(opts.Format) {
	case "json":
		l.SetFormatter(clog.JSONFormatter)
	case "logfmt":
		l.SetFormatter(clog.LogfmtFormatter)
	}
	return l
}

// Discard returns a logger that drops everything.
func Discard() *clog.Logger {
	return clog.NewWithOptions(io.Discard, clog.Options{Level: clog.FatalLevel})
}

