// Package logging sets up per-subsystem structured loggers, in the
// teacher's per-subsystem-tag idiom (daglabs-btcd/logger) but built on
// github.com/rs/zerolog rather than the teacher's bespoke, non-third-party
// logs package -- see DESIGN.md. File rotation still uses the teacher's
// github.com/jrick/logrotate/rotator.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Subsystem tags, mirroring the teacher's SubsystemTags enum, rescoped to
// this indexer's components.
const (
	TagIngest  = "INGT"
	TagGraph   = "GRPH"
	TagRpc     = "RPCS"
	TagHttp    = "HTTP"
	TagUpst    = "UPST"
	TagCache   = "CACH"
	TagOracle  = "ORCL"
	TagUtxoDB  = "UDB "
	TagConfig  = "CNFG"
)

var (
	logRotator    *rotator.Rotator
	subsystemLogs = map[string]zerolog.Logger{}
)

// rotatorWriter adapts a *rotator.Rotator to io.Writer, also echoing every
// write to stdout, matching the teacher's dual stdout+rotator sink.
type rotatorWriter struct {
	r *rotator.Rotator
}

func (w rotatorWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return w.r.Write(p)
}

// Init opens the log file rotator at dir/slpgraphsearch.log and constructs a
// zerolog.Logger per subsystem tag, all sharing that sink and the given
// level. It must be called once during startup before Get is used.
func Init(dir string, level string, maxSizeMB int, maxFiles int) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "creating log directory")
	}

	logFile := filepath.Join(dir, "slpgraphsearch.log")
	r, err := rotator.New(logFile, int64(maxSizeMB)*1024, false, maxFiles)
	if err != nil {
		return errors.Wrap(err, "creating log rotator")
	}
	logRotator = r

	zlevel, err := zerolog.ParseLevel(level)
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zlevel)

	var sink io.Writer = rotatorWriter{r: r}
	for _, tag := range []string{
		TagIngest, TagGraph, TagRpc, TagHttp, TagUpst, TagCache, TagOracle, TagUtxoDB, TagConfig,
	} {
		subsystemLogs[tag] = zerolog.New(sink).With().Timestamp().Str("subsystem", tag).Logger()
	}
	return nil
}

// Get returns the logger for tag, or a stderr-backed fallback logger if Init
// has not been called yet (e.g. during early config-parse failures).
func Get(tag string) zerolog.Logger {
	if l, ok := subsystemLogs[tag]; ok {
		return l
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("subsystem", tag).Logger()
}

// Close flushes and closes the underlying log rotator.
func Close() error {
	if logRotator == nil {
		return nil
	}
	return logRotator.Close()
}

// SetLevel changes the global minimum log level at runtime, matching the
// teacher's SetLogLevels entry point.
func SetLevel(level string) error {
	zlevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(zlevel)
	return nil
}
