package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-hesitation/internal/logger"
	"github.com/23skdu/longbow-hesitation/internal/metrics"
)

// Version is reported by the status endpoints.
var Version = "dev"

// HealthStatus represents the health status of the process
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Run       RunInfo       `json:"run"`
	Alerts    []Alert       `json:"alerts"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// RunInfo describes the corpus run in progress.
type RunInfo struct {
	Corpus         string        `json:"corpus"`
	Mode           string        `json:"mode"`
	Sentences      int64         `json:"sentences"`
	Steps          int64         `json:"steps"`
	StepsPerSecond float64       `json:"steps_per_second"`
	Elapsed        time.Duration `json:"elapsed"`
	Finished       bool          `json:"finished"`
}

// Alert represents a run alert
type Alert struct {
	Level     string    `json:"level"` // info, warning, error, critical
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const maxAlerts = 100

// HealthMonitor serves /metrics, /healthz and /status for a running
// experiment.
type HealthMonitor struct {
	startTime time.Time
	server    *http.Server
	listener  net.Listener

	mu       sync.RWMutex
	alerts   []Alert
	corpus   string
	mode     string
	runStart time.Time
	runEnd   time.Time
	// step and sentence totals when the run began
	baseSteps, baseSentences int64
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{startTime: time.Now()}
}

// Handler returns the HTTP routes of the monitor.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	return mux
}

// Start listens on addr and serves in the background.
func (hm *HealthMonitor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor listen %s: %w", addr, err)
	}
	hm.listener = ln
	hm.server = &http.Server{
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Log.Info("Health monitor starting", "addr", ln.Addr().String())
	go func() {
		if err := hm.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Health monitor stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (hm *HealthMonitor) Addr() string {
	if hm.listener == nil {
		return ""
	}
	return hm.listener.Addr().String()
}

// Stop stops health monitoring
func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

// BeginRun marks the start of a corpus run.
func (hm *HealthMonitor) BeginRun(corpus, mode string) {
	steps, sentences := metrics.Totals()

	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.corpus = corpus
	hm.mode = mode
	hm.runStart = time.Now()
	hm.runEnd = time.Time{}
	hm.baseSteps = steps
	hm.baseSentences = sentences
}

// EndRun marks the run finished; a failed run raises an error alert.
func (hm *HealthMonitor) EndRun(err error) {
	hm.mu.Lock()
	hm.runEnd = time.Now()
	hm.mu.Unlock()

	if err != nil {
		hm.AddAlert("error", "experiment", err.Error())
	}
}

func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}

	logger.Log.Warn("Alert raised", "level", level, "component", component, "message", message)
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.Status())
}

// Status computes the current health snapshot.
func (hm *HealthMonitor) Status() HealthStatus {
	steps, sentences := metrics.Totals()

	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	for _, alert := range hm.alerts {
		if alert.Level == "critical" {
			status = "critical"
			break
		} else if alert.Level == "error" {
			status = "degraded"
		}
	}

	run := RunInfo{
		Corpus:   hm.corpus,
		Mode:     hm.mode,
		Finished: !hm.runEnd.IsZero(),
	}
	if !hm.runStart.IsZero() {
		run.Steps = steps - hm.baseSteps
		run.Sentences = sentences - hm.baseSentences
		end := hm.runEnd
		if end.IsZero() {
			end = time.Now()
		}
		run.Elapsed = end.Sub(hm.runStart)
		if secs := run.Elapsed.Seconds(); secs > 0 {
			run.StepsPerSecond = float64(run.Steps) / secs
		}
	}

	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(hm.startTime),
		System:    systemInfo(),
		Run:       run,
		Alerts:    alerts,
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}
