// Package cflog is the debug-gated logger shared by every cryptofs
// package, in the same shape as jacobsa/fuse's own debug.go: a single
// *log.Logger, built lazily behind a sync.Once, writing to io.Discard
// unless -cryptofs.debug is set on the command line.
package cflog

import (
	"flag"
	"io"
	"log"
	"os"
	"sync"
)

var fEnableDebug = flag.Bool(
	"cryptofs.debug",
	false,
	"Write cryptofs debugging messages to stderr.")

var (
	logger     *log.Logger
	loggerOnce sync.Once
)

func initLogger() {
	if !flag.Parsed() {
		panic("cflog: Logger called before flags are parsed")
	}

	var w io.Writer = io.Discard
	if *fEnableDebug {
		w = os.Stderr
	}

	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	logger = log.New(w, "cryptofs: ", flags)
}

// Logger returns the shared debug logger, initializing it on first use.
// Callers must not hold it across flag.Parse(): it must already have run.
func Logger() *log.Logger {
	loggerOnce.Do(initLogger)
	return logger
}

// Printf logs through the shared logger.
func Printf(format string, args ...interface{}) {
	Logger().Printf(format, args...)
}
