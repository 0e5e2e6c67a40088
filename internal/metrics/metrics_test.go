package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/loykin/siswrap/internal/process"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	IncLaunch("qc")
	IncLaunch("qc")
	IncLaunchFailure("report")
	IncCompletion("qc", "done")
	ObserveDuration("qc", 12.5)
	AddTracked("gauge-test", 2)
	AddTracked("gauge-test", -1)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	wantNames := map[string]bool{
		"siswrap_job_launches_total":        false,
		"siswrap_job_launch_failures_total": false,
		"siswrap_job_completions_total":     false,
		"siswrap_job_duration_seconds":      false,
		"siswrap_registry_records":          false,
	}
	for _, mf := range mfs {
		if _, ok := wantNames[mf.GetName()]; ok {
			wantNames[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for n, ok := range wantNames {
		assert.True(t, ok, "expected to find metric %s", n)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsTracked.WithLabelValues("gauge-test")))
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncLaunch("report")

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), "siswrap_job_launches_total")
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncLaunch("qc")
			IncCompletion("qc", "error")
			AddTracked("qc", 1)
		}()
	}
	wg.Wait()
	_, err := reg.Gather()
	assert.NoError(t, err)
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// no-ops, must not panic
	IncLaunch("qc")
	IncLaunchFailure("qc")
	IncCompletion("qc", "done")
	ObserveDuration("qc", 1)
	AddTracked("qc", 1)
}

type errorRegisterer struct{}

func (errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (errorRegisterer) MustRegister(...prometheus.Collector) {}

func (errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(errorRegisterer{})
	require.Error(t, err)
	assert.Equal(t, "test registration error", err.Error())
}

type staticSource []process.Record

func (s staticSource) Running() []process.Record { return s }

func TestJobCollectorSamplesOwnProcess(t *testing.T) {
	src := staticSource{
		{PID: os.Getpid(), Kind: process.KindReport, Runfolder: "/data/run1", State: process.StateStarted},
		// a pid that is very unlikely to exist is skipped silently
		{PID: 1 << 30, Kind: process.KindQC, Runfolder: "/data/gone", State: process.StateStarted},
	}
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewJobCollector(src)))

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	out := string(b)

	assert.Contains(t, out, "siswrap_job_memory_rss_bytes")
	assert.Contains(t, out, `runfolder="/data/run1"`)
	assert.False(t, strings.Contains(out, "/data/gone"))
}
