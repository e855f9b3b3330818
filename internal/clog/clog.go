// Package clog configures the connector's structured logger: a
// logrus logger whose output is routed through an hourly-rotating,
// timezone-shifted file per reader instance, continuing the on-disk
// log layout the original connector used.
package clog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// hourlyFile is an io.Writer that reopens a new file whenever the
// wall-clock hour (shifted by timezone) advances, naming files the
// way the original connector's per-hour logs were named:
// "<head>-YYYY-MM-DD-HH<tzstr>.log".
type hourlyFile struct {
	dir      string
	head     string
	tzHours  float64
	tzStr    string

	mu       sync.Mutex
	cur      *os.File
	curHour  string
}

func newHourlyFile(dir, head string, tzHours float64, tzStr string) *hourlyFile {
	return &hourlyFile{dir: dir, head: head, tzHours: tzHours, tzStr: tzStr}
}

func (h *hourlyFile) shiftedNow() time.Time {
	return time.Now().UTC().Add(time.Duration(h.tzHours * float64(time.Hour)))
}

func (h *hourlyFile) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	shifted := h.shiftedNow()
	hourKey := shifted.Format("2006-01-02-15")
	if h.cur == nil || hourKey != h.curHour {
		if h.cur != nil {
			h.cur.Close()
		}
		name := fmt.Sprintf("%s-%s%s.log", h.head, shifted.Format("2006-01-02-15"), h.tzStr)
		f, err := os.OpenFile(filepath.Join(h.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, fmt.Errorf("clog: opening log file %q: %w", name, err)
		}
		h.cur = f
		h.curHour = hourKey
	}
	return h.cur.Write(p)
}

func (h *hourlyFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == nil {
		return nil
	}
	err := h.cur.Close()
	h.cur = nil
	return err
}

// New builds a logrus logger that writes structured log lines to an
// hourly-rotating file named "<logfileHead>-<rotated name>.log" under
// logDir, honoring tzStr's "+HHMM"/"-HHMM" shift. If alsoStdout is
// true, log lines are duplicated to the process's standard output,
// mirroring ClouLogging's log_stdout_set flag.
func New(logDir, logfileHead string, tzHours float64, tzStr string, alsoStdout bool) (*logrus.Logger, func() error, error) {
	if logDir == "" {
		return nil, nil, fmt.Errorf("clog: log dir must not be empty")
	}
	if logfileHead == "" {
		return nil, nil, fmt.Errorf("clog: log file head must not be empty")
	}
	if info, err := os.Stat(logDir); err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("clog: log dir %q does not exist", logDir)
	}

	file := newHourlyFile(logDir, logfileHead, tzHours, tzStr)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "02.01.2006 15:04:05.000000"})
	logger.SetLevel(logrus.InfoLevel)

	var out io.Writer = file
	if alsoStdout {
		out = io.MultiWriter(file, os.Stdout)
	}
	logger.SetOutput(out)

	return logger, file.Close, nil
}
