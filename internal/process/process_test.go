package process

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/siswrap/internal/logger"
	"go.uber.org/goleak"
)

// Each distinct job log file keeps one lumberjack mill goroutine for the life
// of the process; TestSpawnSharesJobLogWriters bounds their number.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"))
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

// waitExit polls h until it reports an exit or the deadline passes.
func waitExit(t *testing.T, h Handle) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if code, ok := h.Poll(); ok {
			return code
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pid %d did not exit in time", h.Pid())
	return 0
}

func TestSpawnPollOutput(t *testing.T) {
	requireUnix(t)
	h, err := Exec{}.Spawn("ok", []string{"sh", "-c", "echo out; echo err 1>&2"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if h.Pid() <= 0 {
		t.Fatalf("pid not set: %d", h.Pid())
	}
	if code := waitExit(t, h); code != 0 {
		t.Fatalf("exit code: got %d want 0", code)
	}
	out, errOut, err := h.Output()
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if out != "out\n" || errOut != "err\n" {
		t.Fatalf("unexpected output: %q / %q", out, errOut)
	}
}

func TestPollDoesNotBlock(t *testing.T) {
	requireUnix(t)
	h, err := Exec{}.Spawn("sleeper", []string{"sh", "-c", "sleep 0.3"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, ok := h.Poll(); ok {
			t.Fatalf("poll reported exit while sleeping")
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("poll blocked for %v", time.Since(start))
	}
	if _, _, err := h.Output(); !errors.Is(err, ErrOutput) {
		t.Fatalf("expected ErrOutput while running, got %v", err)
	}
	waitExit(t, h)
}

func TestExitCodes(t *testing.T) {
	requireUnix(t)
	h, err := Exec{}.Spawn("fail", []string{"sh", "-c", "exit 3"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if code := waitExit(t, h); code != 3 {
		t.Fatalf("exit code: got %d want 3", code)
	}
	if _, _, err := h.Output(); err != nil {
		t.Fatalf("non-zero exit must not be an output error: %v", err)
	}

	h, err = Exec{}.Spawn("killed", []string{"sh", "-c", "kill -9 $$"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if code := waitExit(t, h); code != -9 {
		t.Fatalf("exit code: got %d want -9", code)
	}
}

func TestSpawnErrors(t *testing.T) {
	if _, err := (Exec{}).Spawn("empty", nil); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn for empty argv, got %v", err)
	}
	if _, err := (Exec{}).Spawn("missing", []string{"/nonexistent/siswrap-test-binary"}); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn for missing binary, got %v", err)
	}
}

func TestSpawnMirrorsOutputToFiles(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	logs := logger.NewJobLogs(logger.Config{Dir: dir})
	t.Cleanup(func() { _ = logs.Close() })
	e := Exec{Logs: logs}
	h, err := e.Spawn("report-run1", []string{"sh", "-c", "echo hello; echo oops 1>&2"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitExit(t, h)

	b, err := os.ReadFile(filepath.Join(dir, "report-run1.stdout.log"))
	if err != nil || strings.TrimSpace(string(b)) != "hello" {
		t.Fatalf("stdout log: %v %q", err, string(b))
	}
	b, err = os.ReadFile(filepath.Join(dir, "report-run1.stderr.log"))
	if err != nil || strings.TrimSpace(string(b)) != "oops" {
		t.Fatalf("stderr log: %v %q", err, string(b))
	}
}

func TestSpawnSharesJobLogWriters(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	logs := logger.NewJobLogs(logger.Config{Dir: dir})
	t.Cleanup(func() { _ = logs.Close() })
	e := Exec{Logs: logs}

	const n = 5
	handles := make([]Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := e.Spawn("qc-run1", []string{"sh", "-c", "echo line"})
		if err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		waitExit(t, h)
	}
	if got := logs.Len(); got != 2 {
		t.Fatalf("expected one stdout/stderr pair, got %d files", got)
	}
	b, err := os.ReadFile(filepath.Join(dir, "qc-run1.stdout.log"))
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if c := strings.Count(string(b), "line\n"); c != n {
		t.Fatalf("expected %d lines in shared log, got %d: %q", n, c, string(b))
	}

	if _, err := e.Spawn("report-run2", []string{"sh", "-c", "true"}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if got := logs.Len(); got != 4 {
		t.Fatalf("a second job name should add one pair, got %d files", got)
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(5)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("def"))
	if got := b.String(); got != "bcdef" {
		t.Fatalf("got %q want bcdef", got)
	}
	_, _ = b.Write([]byte("0123456789"))
	if got := b.String(); got != "56789" {
		t.Fatalf("got %q want 56789", got)
	}
}
