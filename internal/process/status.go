package process

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// State is the lifecycle state of a launched job, rendered lower-case on the wire.
//
//	none:    no such job is known (only ever synthesized, never stored)
//	ready:   ready for processing; part of the domain but unused by current flows
//	started: process spawned, no exit observed yet
//	done:    process exited with code 0
//	error:   process exited non-zero, was killed, or its output could not be read
type State string

const (
	StateNone    State = "none"
	StateReady   State = "ready"
	StateStarted State = "started"
	StateDone    State = "done"
	StateError   State = "error"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool { return s == StateDone || s == StateError }

// Kind is the job variant tag. It is used for status links and bulk filtering.
type Kind string

const (
	KindQC     Kind = "qc"
	KindReport Kind = "report"
)

// ErrUnknownKind is returned when a request names a variant we do not run.
var ErrUnknownKind = errors.New("unknown wrapper runner requested")

// Kinds lists all runnable variants.
func Kinds() []Kind { return []Kind{KindQC, KindReport} }

// ParseKind resolves a URL segment or CLI argument into a Kind.
// "quality-control" is accepted as a long form of "qc".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qc", "quality-control":
		return KindQC, nil
	case "report":
		return KindReport, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Record describes one launched job. The registry owns the stored copy;
// callers always receive snapshots.
type Record struct {
	PID        int       `json:"pid"`
	Kind       Kind      `json:"type"`
	Runfolder  string    `json:"target_path,omitempty"`
	Host       string    `json:"host"`
	State      State     `json:"state"`
	Msg        string    `json:"msg"`
	Link       string    `json:"link,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r Record) String() string {
	return fmt.Sprintf("%s %d: %s@%s", r.State, r.PID, r.Runfolder, r.Host)
}

// NoneRecord is the placeholder returned for a pid the registry does not know.
func NoneRecord(pid int, host string) Record {
	return Record{
		PID:   pid,
		Host:  host,
		State: StateNone,
		Msg:   "No such process exists",
	}
}

// Hostname returns the local host name, falling back to "localhost".
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}
