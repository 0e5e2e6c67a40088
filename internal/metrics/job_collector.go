package metrics

import (
	"log/slog"
	"strconv"

	"github.com/loykin/siswrap/internal/process"
	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// JobSource lists the jobs whose resource usage should be reported.
type JobSource interface {
	Running() []process.Record
}

// JobCollector samples CPU and memory of running jobs at scrape time.
// Nothing is sampled between scrapes, so no goroutine is kept alive for it.
type JobCollector struct {
	src JobSource

	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	threads *prometheus.Desc
}

var jobLabels = []string{"kind", "pid", "runfolder"}

func NewJobCollector(src JobSource) *JobCollector {
	return &JobCollector{
		src: src,
		cpu: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "job", "cpu_percent"),
			"CPU usage percentage of a running job since it started.",
			jobLabels, nil,
		),
		rss: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "job", "memory_rss_bytes"),
			"Resident memory of a running job.",
			jobLabels, nil,
		),
		threads: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "job", "num_threads"),
			"Number of threads of a running job.",
			jobLabels, nil,
		),
	}
}

func (c *JobCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.threads
}

func (c *JobCollector) Collect(ch chan<- prometheus.Metric) {
	for _, rec := range c.src.Running() {
		p, err := gopsproc.NewProcess(int32(rec.PID)) // #nosec G115 -- OS pids fit in int32
		if err != nil {
			// exited between listing and sampling
			continue
		}
		labels := []string{string(rec.Kind), strconv.Itoa(rec.PID), rec.Runfolder}
		if pct, err := p.CPUPercent(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, pct, labels...)
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(mem.RSS), labels...)
		}
		if n, err := p.NumThreads(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(n), labels...)
		} else {
			slog.Debug("job sampling failed", "pid", rec.PID, "error", err)
		}
	}
}
