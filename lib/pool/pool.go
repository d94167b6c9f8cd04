// Package pool wraps ants into a single process-wide worker pool so every
// background goroutine in the server (connection handling, AOF writer,
// AOF rewriter, replica client, expiration ticker) is submitted through a
// bounded pool instead of a bare `go` statement.
package pool

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/panjf2000/ants"

	"github.com/tinyredis/tinyredis/log"
)

const defaultPoolSize = 5000

var (
	once sync.Once
	p    *ants.Pool
	logr log.Logger = noopLogger{}
)

// Init installs the logger used by the pool's panic handler and builds the
// pool. The pool is built only once; every call with a non-nil logger
// replaces the logger.
func Init(logger log.Logger) {
	if logger != nil {
		logr = logger
	}
	ensure()
}

func ensure() {
	once.Do(func() {
		var err error
		p, err = ants.NewPool(defaultPoolSize, ants.WithPanicHandler(
			func(i interface{}) {
				stackInfo := strings.ReplaceAll(string(debug.Stack()), "\n", "")
				logr.Errorf("recovered panic in pooled task: %v, stack: %s", i, stackInfo)
			}))
		if err != nil {
			logr.Fatalf("failed to build worker pool: %s", err.Error())
		}
	})
}

// Submit schedules task to run on the pool.
func Submit(task func()) {
	ensure()
	if err := p.Submit(task); err != nil {
		logr.Errorf("submit task to pool failed: %s", err.Error())
		go task()
	}
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}
func (noopLogger) Sync() {}
