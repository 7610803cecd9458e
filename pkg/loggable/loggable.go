package loggable

import (
	"log"

	"go.uber.org/zap"
)

type LoggableOption func(*Loggable) error

type printf func(msg string, args ...interface{})

// Loggable is embedded by types that want leveled logging.  A level
// without a sink is silently discarded, so the zero value logs nothing.
type Loggable struct {
	debugf printf
	infof  printf
	warnf  printf
	errorf printf
}

// New builds a Loggable from options
func New(opts ...LoggableOption) (l Loggable, err error) {
	for _, o := range opts {
		if err = o(&l); err != nil {
			return
		}
	}

	return
}

func (c *Loggable) Debugf(msg string, args ...interface{}) {
	if c.debugf == nil {
		return
	}

	c.debugf(msg, args...)
}
func (c *Loggable) Infof(msg string, args ...interface{}) {
	if c.infof == nil {
		return
	}

	c.infof(msg, args...)
}
func (c *Loggable) Warnf(msg string, args ...interface{}) {
	if c.warnf == nil {
		return
	}

	c.warnf(msg, args...)
}
func (c *Loggable) Errorf(msg string, args ...interface{}) {
	if c.errorf == nil {
		return
	}

	c.errorf(msg, args...)
}

func stdSink(l *log.Logger) printf {
	if l == nil {
		return nil
	}

	return l.Printf
}

func WithDebugLogger(l *log.Logger) LoggableOption {
	return func(c *Loggable) error {
		c.debugf = stdSink(l)
		return nil
	}
}
func WithInfoLogger(l *log.Logger) LoggableOption {
	return func(c *Loggable) error {
		c.infof = stdSink(l)
		return nil
	}
}
func WithWarnLogger(l *log.Logger) LoggableOption {
	return func(c *Loggable) error {
		c.warnf = stdSink(l)
		return nil
	}
}
func WithErrorLogger(l *log.Logger) LoggableOption {
	return func(c *Loggable) error {
		c.errorf = stdSink(l)
		return nil
	}
}

// WithZapLogger routes all four levels to a zap logger.  The logger's own
// level still decides what gets written.
func WithZapLogger(l *zap.Logger) LoggableOption {
	return func(c *Loggable) error {
		if l == nil {
			return nil
		}

		s := l.WithOptions(zap.AddCallerSkip(1)).Sugar()
		c.debugf = s.Debugf
		c.infof = s.Infof
		c.warnf = s.Warnf
		c.errorf = s.Errorf
		return nil
	}
}
