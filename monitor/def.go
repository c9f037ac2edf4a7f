package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"PresenceSensor/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	iface "PresenceSensor/interface"
)

// Recorder receives per-iteration observations from the control loop.
type Recorder interface {
	ObserveDecision(d iface.Decision)
	ObserveCaptureWait(d time.Duration)
}

type Metrics struct {
	Registry *prometheus.Registry

	FramesTotal    *prometheus.CounterVec
	Presence       prometheus.Gauge
	FrameMean      prometheus.Gauge
	InferenceScore prometheus.Gauge
	CaptureWait    prometheus.Histogram
	memUsage       prometheus.Gauge
	cpuUsage       prometheus.Gauge

	pid *process.Process
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_frames_total",
			Help: "Total number of frames decided, by outcome",
		}, []string{"presence"}),
		Presence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presence_active",
			Help: "Current presence output, 1 when active",
		}),
		FrameMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presence_frame_mean",
			Help: "Mean gray level of the last heuristic frame",
		}),
		InferenceScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presence_inference_score",
			Help: "Mean signed output of the last inference",
		}),
		CaptureWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "presence_capture_wait_seconds",
			Help:    "Time spent waiting for a frame to become ready",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
	}
	m.Registry.MustRegister(m.FramesTotal, m.Presence, m.FrameMean, m.InferenceScore,
		m.CaptureWait, m.memUsage, m.cpuUsage)
	return m
}

func (m *Metrics) ObserveDecision(d iface.Decision) {
	m.FramesTotal.WithLabelValues(fmt.Sprint(d.Presence)).Inc()
	if d.Presence {
		m.Presence.Set(1)
	} else {
		m.Presence.Set(0)
	}
	switch d.Variant {
	case "heuristic":
		m.FrameMean.Set(d.Statistic)
	case "cnn":
		m.InferenceScore.Set(d.Statistic)
	}
}

func (m *Metrics) ObserveCaptureWait(d time.Duration) {
	m.CaptureWait.Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// CheckProcessInfo samples memory and CPU of the current process.
func (m *Metrics) CheckProcessInfo() error {
	if m.pid == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return err
		}
		m.pid = p
	}
	memInfo, err := m.pid.MemoryInfo()
	if err != nil {
		return err
	}
	cpuPercent, err := m.pid.CPUPercent()
	if err != nil {
		return err
	}
	m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	return nil
}

// StartMon serves /metrics on port and samples the process until ctx is done.
func StartMon(ctx context.Context, port int, m *Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("prometheus server ListenAndServe error", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			if err := m.CheckProcessInfo(); err != nil {
				logger.Log().Debug("process sampling failed", zap.Error(err))
			}
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("prometheus server Shutdown error", zap.Error(err))
	}
}
