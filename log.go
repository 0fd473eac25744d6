package weave

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures a Rewriter at construction time. The functional
// options shape is this library's "configuration" layer: there is no
// config file to parse, only construction-time choices a caller makes.
type Option func(*Rewriter)

// WithLogger attaches a structured logger. Every Transform call logs
// one event per continuation point discovered and one summary event
// per method transformed, each tagged with that call's correlation ID.
// Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rewriter) { r.logger = l }
}

// WithRegistry supplies the possibly-suspending-method lookup. Defaults
// to an empty Registry (no method is ever treated as suspending until
// Marked).
func WithRegistry(reg *Registry) Option {
	return func(r *Rewriter) { r.registry = reg }
}

// WithLineNumberBase sets the synthetic source-line number the
// rewriter attaches to generated save/restore/dispatch instructions
// (via builder.Line), so a debugger stepping through instrumented code
// can distinguish original lines from generated ones. Defaults to -1.
func WithLineNumberBase(line int) Option {
	return func(r *Rewriter) { r.syntheticLine = line }
}

func newCorrelationID() string {
	return uuid.New().String()
}
