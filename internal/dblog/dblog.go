// Package dblog constructs the structured logrus loggers shared by every
// coordination component, routing error-level output to stderr and
// everything else to stdout.
package dblog

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// splitter sends Error level and above to stderr, everything else to
// stdout, so operators can pipe failures separately from routine activity.
type splitter struct {
	stdout io.Writer
	stderr io.Writer
}

func (s *splitter) Write(p []byte) (int, error) {
	if looksLikeError(p) {
		return s.stderr.Write(p)
	}
	return s.stdout.Write(p)
}

func looksLikeError(p []byte) bool {
	for _, marker := range []string{"level=error", "level=fatal", "level=panic"} {
		if contains(p, marker) {
			return true
		}
	}
	return false
}

func contains(p []byte, sub string) bool {
	if len(sub) > len(p) {
		return false
	}
	for i := 0; i+len(sub) <= len(p); i++ {
		if string(p[i:i+len(sub)]) == sub {
			return true
		}
	}
	return false
}

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(&splitter{stdout: os.Stdout, stderr: os.Stderr})
	return l
}

// SetLevel adjusts the shared logger's verbosity. Nothing in this module
// calls it, so the level stays at logrus's default (Info).
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// New returns a component-scoped entry. Every log line emitted through it
// carries a "component" field so multi-worker output can be filtered.
func New(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// instanceID disambiguates this process's log lines from a prior process
// that held the same WORKER_ID (hostname:pid is stable but pids get
// reused across restarts, and two processes can briefly overlap during a
// rolling restart).
var instanceID = fmt.Sprintf("i-%s", uuid.New().String()[:8])

// NewWorker returns a component-scoped entry additionally tagged with this
// process's instance id, for use by components that log on behalf of a
// specific worker process across its lifetime.
func NewWorker(component, workerID string) *logrus.Entry {
	return New(component).WithField("worker_id", workerID).WithField("instance_id", instanceID)
}
