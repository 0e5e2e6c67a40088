// Package registry owns every launched job: it spawns the process, keys the
// record by OS pid, classifies exits on demand and retires terminal records
// the first time a per-pid status request observes them.
package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/siswrap/internal/history"
	"github.com/loykin/siswrap/internal/metrics"
	"github.com/loykin/siswrap/internal/process"
	"github.com/loykin/siswrap/internal/wrapper"
)

const noOutput = "(no txt msg)"

type entry struct {
	rec    process.Record
	handle process.Handle
}

// Registry is the in-memory job table. It is safe for concurrent use; one
// mutex guards the map so that Status can check and delete atomically.
type Registry struct {
	mu    sync.Mutex
	procs map[int]*entry

	host        string
	spawner     process.Spawner
	sink        history.Sink
	sinkTimeout time.Duration
	log         *slog.Logger
}

type Option func(*Registry)

// WithSpawner replaces the os/exec spawner.
func WithSpawner(s process.Spawner) Option { return func(r *Registry) { r.spawner = s } }

// WithHistory sends lifecycle events to sink, each bounded by timeout.
func WithHistory(sink history.Sink, timeout time.Duration) Option {
	return func(r *Registry) {
		r.sink = sink
		r.sinkTimeout = timeout
	}
}

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.log = l } }

// WithHost overrides the host name recorded on every job.
func WithHost(h string) Option { return func(r *Registry) { r.host = h } }

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		procs:       make(map[int]*entry),
		host:        process.Hostname(),
		spawner:     process.Exec{},
		sinkTimeout: 2 * time.Second,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Host is the host name recorded on records.
func (r *Registry) Host() string { return r.host }

// Launch prepares the job through its variant, spawns it and stores a started
// record. Nothing is stored when preparation or spawn fails.
func (r *Registry) Launch(ctx context.Context, v wrapper.Variant, s process.Settings, p wrapper.Params) (process.Record, error) {
	kind := string(v.Kind())
	job, err := wrapper.Prepare(v, s, p)
	if err != nil {
		metrics.IncLaunchFailure(kind)
		return process.Record{}, err
	}
	h, err := r.spawner.Spawn(job.Name(), job.Args)
	if err != nil {
		metrics.IncLaunchFailure(kind)
		r.log.Error("spawn failed", "kind", kind, "runfolder", job.Runfolder, "error", err)
		return process.Record{}, err
	}

	rec := process.Record{
		PID:       h.Pid(),
		Kind:      job.Kind,
		Runfolder: job.Runfolder,
		Host:      r.host,
		State:     process.StateStarted,
		Msg:       fmt.Sprintf("Process %d has been started.", h.Pid()),
		StartedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	old, collided := r.procs[rec.PID]
	r.procs[rec.PID] = &entry{rec: rec, handle: h}
	r.mu.Unlock()

	if collided {
		// pid reuse before the old record was retired; the stale record is lost
		r.log.Warn("pid reused, replacing unretired record", "pid", rec.PID,
			"old_kind", old.rec.Kind, "old_runfolder", old.rec.Runfolder, "old_state", old.rec.State)
		metrics.AddTracked(string(old.rec.Kind), -1)
	}
	metrics.IncLaunch(kind)
	metrics.AddTracked(kind, 1)
	r.log.Info("job started", "pid", rec.PID, "kind", kind, "runfolder", rec.Runfolder, "args", strings.Join(job.Args, " "))
	r.emit(ctx, history.EventStart, rec)
	return rec, nil
}

// Poll refreshes the record for pid without waiting on the process and
// returns a snapshot. Unknown pids yield a synthetic none record.
func (r *Registry) Poll(pid int) process.Record {
	r.mu.Lock()
	e, ok := r.procs[pid]
	if !ok {
		r.mu.Unlock()
		return process.NoneRecord(pid, r.host)
	}
	finished := r.pollLocked(e)
	rec := e.rec
	r.mu.Unlock()

	if finished {
		r.finished(rec)
	}
	return rec
}

// Status polls the record for pid if it exists with the given kind, and
// retires it when the poll returns a terminal state. A kind mismatch is
// reported exactly like an unknown pid.
func (r *Registry) Status(pid int, kind process.Kind) process.Record {
	r.mu.Lock()
	e, ok := r.procs[pid]
	if !ok || e.rec.Kind != kind {
		r.mu.Unlock()
		r.log.Debug("no process found", "pid", pid, "kind", kind)
		return process.NoneRecord(pid, r.host)
	}
	finished := r.pollLocked(e)
	rec := e.rec
	retired := rec.State != process.StateStarted && rec.State != process.StateNone
	if retired {
		delete(r.procs, pid)
	}
	r.mu.Unlock()

	if finished {
		r.finished(rec)
	}
	if retired {
		metrics.AddTracked(string(kind), -1)
		r.log.Debug("process has finished, removing from registry", "pid", pid, "state", rec.State)
	}
	return rec
}

// All polls every record of kind and returns snapshots sorted by pid.
// Records are never removed here.
func (r *Registry) All(kind process.Kind) []process.Record {
	var done []process.Record
	r.mu.Lock()
	out := make([]process.Record, 0, len(r.procs))
	for _, e := range r.procs {
		if e.rec.Kind != kind {
			continue
		}
		if r.pollLocked(e) {
			done = append(done, e.rec)
		}
		out = append(out, e.rec)
	}
	r.mu.Unlock()

	for _, rec := range done {
		r.finished(rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Running lists the records whose process has not exited yet. It does not
// change any record.
func (r *Registry) Running() []process.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]process.Record, 0, len(r.procs))
	for _, e := range r.procs {
		if _, exited := e.handle.Poll(); !exited {
			out = append(out, e.rec)
		}
	}
	return out
}

// Len is the number of records currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Close releases the history sink. Running jobs are left alone.
func (r *Registry) Close() error {
	r.mu.Lock()
	n := len(r.procs)
	r.mu.Unlock()
	if n > 0 {
		r.log.Info("registry closing with unretired jobs", "count", n)
	}
	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// pollLocked classifies the process exit into e.rec. It reports whether this
// call moved the record into a terminal state. r.mu must be held.
func (r *Registry) pollLocked(e *entry) bool {
	pid := e.rec.PID
	code, exited := e.handle.Poll()
	if !exited {
		e.rec.State = process.StateStarted
		e.rec.Msg = fmt.Sprintf("Process %d hasn't finished yet.", pid)
		return false
	}
	if e.rec.State.Terminal() {
		return false
	}

	var debugMsg string
	switch {
	case code < 0:
		e.rec.State = process.StateError
		e.rec.Msg = fmt.Sprintf("Process was terminated with Unix code %d.", code)
	case code == 0:
		out, _, err := e.handle.Output()
		if err != nil {
			r.log.Error("communicating with process failed", "pid", pid, "kind", e.rec.Kind, "error", err)
		}
		if strings.TrimSpace(out) == "" {
			out = noOutput
		}
		debugMsg = out
		e.rec.State = process.StateDone
		e.rec.Msg = fmt.Sprintf("Process was completed successfully with return code %d.", code)
	default:
		_, errOut, err := e.handle.Output()
		if err != nil {
			r.log.Error("communicating with process failed", "pid", pid, "kind", e.rec.Kind, "error", err)
		}
		debugMsg = errOut
		e.rec.State = process.StateError
		e.rec.Msg = fmt.Sprintf("Process was completed successfully, but encountered an error, with return code %d.", code)
		if s := strings.TrimSpace(errOut); s != "" {
			e.rec.Msg += " Error output: " + s
		}
	}
	c := code
	e.rec.ExitCode = &c
	e.rec.FinishedAt = time.Now().UTC()
	r.log.Info("job finished", "pid", pid, "kind", e.rec.Kind, "state", e.rec.State, "msg", e.rec.Msg, "output", debugMsg)
	return true
}

// finished records metrics and history for the first terminal observation.
func (r *Registry) finished(rec process.Record) {
	metrics.IncCompletion(string(rec.Kind), string(rec.State))
	if !rec.StartedAt.IsZero() && !rec.FinishedAt.IsZero() {
		metrics.ObserveDuration(string(rec.Kind), rec.FinishedAt.Sub(rec.StartedAt).Seconds())
	}
	if et, ok := history.TerminalEvent(rec.State); ok {
		r.emit(context.Background(), et, rec)
	}
}

func (r *Registry) emit(ctx context.Context, t history.EventType, rec process.Record) {
	if r.sink == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if r.sinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sinkTimeout)
		defer cancel()
	}
	if err := r.sink.Send(ctx, history.NewEvent(t, rec)); err != nil {
		r.log.Warn("history send failed", "pid", rec.PID, "event", t, "error", err)
	}
}
