package logger

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestJobLogs_SharedPerName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	cfg := Config{Dir: dir}
	require.True(t, cfg.Enabled())
	logs := NewJobLogs(cfg)
	require.NotNil(t, logs)
	defer func() { _ = logs.Close() }()

	outW, errW, err := logs.Writers("report-run123")
	require.NoError(t, err)
	out2, err2, err := logs.Writers("report-run123")
	require.NoError(t, err)
	assert.Same(t, outW, out2)
	assert.Same(t, errW, err2)
	assert.Equal(t, 2, logs.Len())

	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	b, err := os.ReadFile(filepath.Join(dir, "report-run123.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello-out\n", string(b))
	b, err = os.ReadFile(filepath.Join(dir, "report-run123.stderr.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello-err\n", string(b))

	// closed files reopen on the next write
	require.NoError(t, logs.Close())
	_, err = outW.Write([]byte("again\n"))
	require.NoError(t, err)
	b, err = os.ReadFile(filepath.Join(dir, "report-run123.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello-out\nagain\n", string(b))
}

func TestJobLogs_Disabled(t *testing.T) {
	cfg := Config{Dir: "  "}
	assert.False(t, cfg.Enabled())
	logs := NewJobLogs(cfg)
	assert.Nil(t, logs)
	_, _, err := logs.Writers("x")
	assert.Error(t, err)
	assert.Equal(t, 0, logs.Len())
	assert.NoError(t, logs.Close())
}

func TestValOr(t *testing.T) {
	assert.Equal(t, 5, valOr(0, 5))
	assert.Equal(t, 5, valOr(-1, 5))
	assert.Equal(t, 7, valOr(7, 5))
}

func TestParseLevel(t *testing.T) {
	for in, ok := range map[string]bool{"": true, "debug": true, "INFO": true, "warning": true, "error": true, "loud": false} {
		_, err := ParseLevel(in)
		if ok {
			assert.NoError(t, err, in)
		} else {
			assert.Error(t, err, in)
		}
	}
}

func TestNew_Formats(t *testing.T) {
	var buf bytes.Buffer
	l, c, err := New(Options{Format: FormatJSON, Level: "debug"}, &buf)
	require.NoError(t, err)
	defer closeIf(c)
	l.Debug("hello", "pid", 42)
	assert.Contains(t, buf.String(), `"pid":42`)

	buf.Reset()
	l, _, err = New(Options{Format: FormatColor}, &buf)
	require.NoError(t, err)
	l.With("kind", "qc").Info("started")
	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "kind=qc")

	_, _, err = New(Options{Format: "xml"}, &buf)
	assert.Error(t, err)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "siswrap.log")
	l, c, err := New(Options{File: path}, io.Discard)
	require.NoError(t, err)
	l.Info("to file")
	require.NoError(t, c.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "to file"))
}
