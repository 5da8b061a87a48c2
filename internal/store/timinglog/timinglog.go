// Package timinglog writes the trigger-delay results file: a one-line header
// followed by one comma-separated line per capture attempt.
//
// Every Append opens the file, writes, syncs and closes it again, so records
// already returned from Append survive a crash or a power cut of the Pi.
package timinglog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/magis-lab/spintiming/internal/clock"
)

const (
	headerColumns = "GPIO Output start,GPIO Output end,Trigger Time,Exposure Time"
	tpsKey        = "clock ticks per second="
)

// Record is one capture attempt. When no edge was observed Edge is false
// and ExposureActive is meaningless; the line is written with an empty
// first field.
type Record struct {
	ExposureActive clock.Ticks
	Edge           bool
	Trigger        clock.Ticks
	ExposureUs     int
}

// Delay returns ExposureActive-Trigger, or false when there was no edge.
func (r Record) Delay() (clock.Ticks, bool) {
	if !r.Edge {
		return 0, false
	}
	return r.ExposureActive.Sub(r.Trigger), true
}

func (r Record) fields() []string {
	first := ""
	if r.Edge {
		first = strconv.FormatInt(int64(r.ExposureActive), 10)
	}
	return []string{
		first,
		strconv.FormatInt(int64(r.Trigger), 10),
		strconv.Itoa(r.ExposureUs),
	}
}

// Log is an open results file.
type Log struct {
	mu   sync.Mutex
	path string
	tps  int64
}

// DefaultName returns the file name used when none is configured.
func DefaultName(t time.Time) string {
	return "triggerDelay-" + t.Format("20060102-150405") + ".txt"
}

// Create creates (or truncates) the file at path and writes the header.
// Failing here means the run cannot record anything and must not start.
func Create(path string, ticksPerSecond int64) (*Log, error) {
	if ticksPerSecond <= 0 {
		return nil, fmt.Errorf("invalid clock resolution %d", ticksPerSecond)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	header := fmt.Sprintf("%s,%s%d\n", headerColumns, tpsKey, ticksPerSecond)
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write log header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sync log header: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close log: %w", err)
	}
	return &Log{path: path, tps: ticksPerSecond}, nil
}

// Path returns the file path.
func (l *Log) Path() string { return l.path }

// TicksPerSecond returns the clock resolution written in the header.
func (l *Log) TicksPerSecond() int64 { return l.tps }

// Append writes r and syncs it to disk before returning.
func (l *Log) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(r.fields()); err != nil {
		f.Close()
		return fmt.Errorf("write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	return f.Close()
}

// File is a parsed results file.
type File struct {
	TicksPerSecond int64
	Records        []Record
}

// Read parses a results file written by Log.
func Read(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a results file from r.
func Parse(r io.Reader) (*File, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty log")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(head) != 5 || !strings.HasPrefix(head[4], tpsKey) {
		return nil, fmt.Errorf("unexpected header %q", strings.Join(head, ","))
	}
	tps, err := strconv.ParseInt(strings.TrimPrefix(head[4], tpsKey), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("header clock resolution: %w", err)
	}

	out := &File{TicksPerSecond: tps}
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: %d fields, want 3", line, len(fields))
		}
		var rec Record
		if fields[0] != "" {
			v, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: exposure active: %w", line, err)
			}
			rec.ExposureActive, rec.Edge = clock.Ticks(v), true
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: trigger: %w", line, err)
		}
		rec.Trigger = clock.Ticks(v)
		if rec.ExposureUs, err = strconv.Atoi(fields[2]); err != nil {
			return nil, fmt.Errorf("line %d: exposure: %w", line, err)
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}
