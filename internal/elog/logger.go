// Package elog provides the logging and progress-reporting facade used
// throughout the core. It wraps logrus the way vorteil's pkg/elog does,
// keeping verbosity/debug/json toggles behind a small interface instead of
// calling logrus directly from business logic.
package elog

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Logger is the subset of logging calls the core needs.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	IsVerbose() bool
}

// Progress reports incremental byte-level progress for a long write.
type Progress interface {
	io.WriteSeeker
	Increment(n int64)
	Finish(success bool)
}

// ProgressReporter can create a new Progress tracker.
type ProgressReporter interface {
	NewProgress(label string, total int64) Progress
}

// View combines Logger and ProgressReporter, mirroring vorteil's elog.View.
type View interface {
	Logger
	ProgressReporter
}

// CLI is the default terminal-backed View.
type CLI struct {
	Verbose     bool
	Debug       bool
	DisableTTY  bool
	mu          sync.Mutex
	progressSet *mpb.Progress
}

var _ View = (*CLI)(nil)

// NewCLI returns a View configured for terminal output.
func NewCLI(verbose, debug, jsonOutput bool) *CLI {
	if jsonOutput {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: false})
	}
	logrus.SetLevel(logrus.TraceLevel)
	return &CLI{Verbose: verbose, Debug: debug}
}

func (c *CLI) IsVerbose() bool { return c.Verbose }

func (c *CLI) Debugf(format string, args ...interface{}) {
	if c.Debug {
		logrus.Debugf(format, args...)
	}
}

func (c *CLI) Infof(format string, args ...interface{}) {
	if c.Verbose || c.Debug {
		logrus.Infof(format, args...)
	}
}

func (c *CLI) Warnf(format string, args ...interface{}) {
	logrus.Warnf(format, args...)
}

func (c *CLI) Errorf(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(logrus.StandardLogger().Out, "ERROR: "+format+"\n", args...) //nolint:errcheck
}

type progress struct {
	bar    *mpb.Bar
	total  int64
	offset int64
}

func (p *progress) Write(b []byte) (int, error) {
	p.offset += int64(len(b))
	p.bar.SetCurrent(p.offset)
	return len(b), nil
}

func (p *progress) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		p.offset = offset
	case io.SeekCurrent:
		p.offset += offset
	case io.SeekEnd:
		p.offset = p.total + offset
	default:
		return 0, fmt.Errorf("elog: invalid whence %d", whence)
	}
	p.bar.SetCurrent(p.offset)
	return p.offset, nil
}

func (p *progress) Increment(n int64) {
	p.offset += n
	p.bar.IncrBy(int(n))
}

func (p *progress) Finish(success bool) {
	if success {
		p.bar.SetCurrent(p.total)
	}
}

// NewProgress creates a byte-count progress bar labeled with name.
func (c *CLI) NewProgress(label string, total int64) Progress {
	c.mu.Lock()
	if c.progressSet == nil {
		c.progressSet = mpb.New(mpb.WithOutput(logrus.StandardLogger().Out))
	}
	set := c.progressSet
	c.mu.Unlock()

	if c.DisableTTY || total <= 0 {
		return &noopProgress{total: total}
	}

	bar := set.AddBar(total,
		mpb.PrependDecorators(decor.Name(label)),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &progress{bar: bar, total: total}
}

type noopProgress struct {
	total  int64
	offset int64
}

func (n *noopProgress) Write(b []byte) (int, error) { n.offset += int64(len(b)); return len(b), nil }
func (n *noopProgress) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		n.offset = offset
	case io.SeekCurrent:
		n.offset += offset
	case io.SeekEnd:
		n.offset = n.total + offset
	}
	return n.offset, nil
}
func (n *noopProgress) Increment(k int64)  { n.offset += k }
func (n *noopProgress) Finish(bool)        {}
