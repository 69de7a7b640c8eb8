// Package logging builds the structured logger a Provider instance writes
// its open/close/transaction/vacuum/recovery events through: a console
// handler always, plus an optional Seq handler for centralized log
// aggregation when configured.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	slogseq "github.com/sokkalf/slog-seq"
)

// multiHandler forwards log records to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	// Enable if any handler is enabled for this level
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// Config selects the console and Seq handlers SetupLogger builds.
type Config struct {
	// Level is the minimum level logged to the console. Defaults to Info.
	Level slog.Level

	// JSON switches the console handler from text to JSON records.
	JSON bool

	// AddSource annotates each record with its call site.
	AddSource bool

	// SeqURL, when non-empty, also ships every record to a Seq server at
	// this address (e.g. "http://localhost:5341"). If Seq is unreachable
	// at startup, SetupLogger falls back to the console handler alone
	// rather than failing.
	SeqURL string
}

// SetupLogger builds a logger from cfg and returns a cleanup function that
// must be called (e.g. from Provider.Close) to flush and release any
// background handler, such as the Seq client's batching goroutine.
func SetupLogger(cfg Config) (*slog.Logger, func()) {
	level := cfg.Level
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var consoleHandler slog.Handler
	if cfg.JSON {
		consoleHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		consoleHandler = slog.NewTextHandler(os.Stdout, opts)
	}

	if cfg.SeqURL == "" {
		return slog.New(consoleHandler), func() {}
	}

	_, seqHandler := slogseq.NewLogger(
		cfg.SeqURL,
		slogseq.WithBatchSize(1),
		slogseq.WithFlushInterval(500*time.Millisecond),
		slogseq.WithHandlerOptions(opts),
	)
	if seqHandler == nil {
		return slog.New(consoleHandler), func() {}
	}

	multi := &multiHandler{handlers: []slog.Handler{consoleHandler, seqHandler}}
	logger := slog.New(multi)
	return logger, func() { seqHandler.Close() }
}

// Default builds the logger used when a caller supplies no explicit
// *slog.Logger: console-only, at Info level, no Seq shipping.
func Default() (*slog.Logger, func()) {
	return SetupLogger(Config{Level: slog.LevelInfo})
}
