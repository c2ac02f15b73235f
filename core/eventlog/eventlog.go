// Package eventlog implements the append-only, newline-delimited Event Log at events.jsonl
// inside a run folder.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/core/models"
)

// EventLog appends structured events to a single events.jsonl file. Writers serialize on an
// exclusive lock so concurrent emit calls never interleave partial lines; readers tolerate an
// incomplete trailing line left by a writer that is still mid-append.
type EventLog struct {
	path  string
	jobID string
	clock clock.Clock

	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if necessary) the event log at path for appending, associating every
// emitted event with jobID.
func Open(path, jobID string, clk clock.Clock) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, gerror.NewErrIO(fmt.Sprintf("error opening event log %q", path), err)
	}
	return &EventLog{path: path, jobID: jobID, clock: clk, file: f}, nil
}

// Close releases the underlying file handle.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Emit validates and appends one event, stamping the timestamp and job id if unset, then fsyncs
// before returning so the record is durable before the caller proceeds.
func (l *EventLog) Emit(e models.Event) error {
	if e.JobID == "" {
		e.JobID = l.jobID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = models.NewTime(l.clock.Now())
	}
	if err := e.Validate(); err != nil {
		return gerror.NewErrValidationFailed(err.Error())
	}

	line, err := json.Marshal(e)
	if err != nil {
		return gerror.NewErrIO("error marshalling event", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(line); err != nil {
		return gerror.NewErrIO(fmt.Sprintf("error appending to event log %q", l.path), err)
	}
	if err := l.file.Sync(); err != nil {
		return gerror.NewErrIO(fmt.Sprintf("error syncing event log %q", l.path), err)
	}
	return nil
}

// Filter selects a subset of events on Read. Zero-valued fields match anything.
type Filter struct {
	Type     string
	Step     string
	Severity models.Severity
}

func (f Filter) matches(e models.Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Step != "" && e.Step != f.Step {
		return false
	}
	if f.Severity != "" && e.Level != f.Severity {
		return false
	}
	return true
}

// Read returns every event in the log matching filter, in file order. It tolerates an incomplete
// trailing line (the signature of a concurrent writer mid-append) by silently dropping it rather
// than failing the whole read.
func Read(path string, filter Filter) ([]models.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, gerror.NewErrIO(fmt.Sprintf("error opening event log %q", path), err)
	}
	defer f.Close()

	var events []models.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e models.Event
		if err := json.Unmarshal(line, &e); err != nil {
			// An unparseable line is either a torn trailing write (tolerated) or real
			// corruption; either way skipping it keeps replay usable, and resume will simply
			// see a slightly shorter history for that one step.
			continue
		}
		if filter.matches(e) {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, gerror.NewErrIO(fmt.Sprintf("error reading event log %q", path), err)
	}
	return events, nil
}
