// Package logger implements the go-logr/logr interfaces on top of zerolog.
package logger

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02 15:04:05.000"

// GlobalConfig holds logging options applied process-wide.
type GlobalConfig struct {
	// V is the maximum verbosity level that will be logged.
	V int `mapstructure:"v"`
}

var globalVerbosity int

// SetGlobalOptions configures the process-wide verbosity threshold.
func SetGlobalOptions(config GlobalConfig) {
	if config.V >= 0 {
		globalVerbosity = config.V
	}
}

// New returns a logr.Logger writing human-readable lines to stdout.
func New() logr.Logger {
	zerolog.TimeFieldFormat = timeFormat
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
	return adapter{
		l: zerolog.New(output).With().Timestamp().Logger(),
	}
}

// adapter satisfies logr.Logger. Verbosity maps onto zerolog's info/debug
// split: V(0) logs at info, higher levels at debug.
type adapter struct {
	l      zerolog.Logger
	level  int
	name   string
	values []interface{}
}

func (a adapter) Enabled() bool {
	return a.level <= globalVerbosity
}

func (a adapter) Info(msg string, keysAndValues ...interface{}) {
	if !a.Enabled() {
		return
	}
	e := a.l.Info()
	if a.level > 0 {
		e = a.l.Debug()
	}
	a.write(e, msg, keysAndValues)
}

func (a adapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.write(a.l.Error().Err(err), msg, keysAndValues)
}

func (a adapter) V(level int) logr.Logger {
	a.level += level
	return a
}

func (a adapter) WithValues(keysAndValues ...interface{}) logr.Logger {
	a.values = append(a.values[:len(a.values):len(a.values)], keysAndValues...)
	return a
}

func (a adapter) WithName(name string) logr.Logger {
	if a.name != "" {
		name = a.name + "." + name
	}
	a.name = name
	return a
}

func (a adapter) write(e *zerolog.Event, msg string, kv []interface{}) {
	if a.name != "" {
		e = e.Str("logger", a.name)
	}
	e = appendFields(e, a.values)
	e = appendFields(e, kv)
	e.Msg(msg)
}

func appendFields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(k, kv[i+1])
	}
	return e
}
