package nsq

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/k0kubun/pp"
	"github.com/mattn/go-colorable"
)

// LogLevel gates which messages reach the configured Logger.
type LogLevel int32

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DBG"
	case LogLevelInfo:
		return "INF"
	case LogLevelWarning:
		return "WRN"
	case LogLevelError:
		return "ERR"
	default:
		return "???"
	}
}

// Logger is satisfied by *log.Logger directly, so callers rarely need
// an adapter of their own.
type Logger interface {
	Output(calldepth int, s string) error
}

var (
	defaultLogger   Logger = log.New(os.Stderr, "", log.LstdFlags)
	defaultLogLevel        = int32(LogLevelInfo)
)

// loggable is embedded in Client, Reader, and Producer to give each a
// SetLogger/SetLoggerLevel pair, matching the teacher's
// consumer.SetLoggerLevel(nsq.LogLevelDebug) convention.
type loggable struct {
	mu    sync.Mutex
	l     Logger
	level int32
}

func newLoggable() loggable {
	return loggable{l: defaultLogger, level: defaultLogLevel}
}

// SetLogger assigns the Logger and LogLevel used for diagnostic output.
func (lg *loggable) SetLogger(l Logger, lvl LogLevel) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.l = l
	atomic.StoreInt32(&lg.level, int32(lvl))
}

// SetLoggerLevel adjusts the verbosity threshold without replacing
// the Logger.
func (lg *loggable) SetLoggerLevel(lvl LogLevel) {
	atomic.StoreInt32(&lg.level, int32(lvl))
}

func (lg *loggable) logf(lvl LogLevel, format string, args ...interface{}) {
	if int32(lvl) < atomic.LoadInt32(&lg.level) {
		return
	}
	lg.mu.Lock()
	l := lg.l
	lg.mu.Unlock()
	if l == nil {
		return
	}
	l.Output(2, lvl.String()+": "+fmt.Sprintf(format, args...))
}

// logWarning is used by Message's ack methods, which have no Client
// or Reader to borrow a logger from (the origin connection may
// already be gone). It always writes through the package default.
func logWarning(format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Output(2, LogLevelWarning.String()+": "+fmt.Sprintf(format, args...))
}

// NewColorLogger wraps stderr with github.com/mattn/go-colorable so
// level-prefixed output survives ANSI stripping on Windows consoles.
func NewColorLogger() Logger {
	return log.New(colorable.NewColorableStderr(), "", log.LstdFlags)
}

// debugDump pretty-prints v (an IdentifyResponse, Config, or similar)
// via github.com/k0kubun/pp when the logger's level permits Debug
// output; a no-op otherwise.
func (lg *loggable) debugDump(label string, v interface{}) {
	if int32(LogLevelDebug) < atomic.LoadInt32(&lg.level) {
		return
	}
	lg.logf(LogLevelDebug, "%s: %s", label, pp.Sprint(v))
}
