package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check response
type HealthCheck struct {
	Status    HealthStatus     `json:"status"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker verifies the local prerequisites of a download run: the
// history database, the transcoder binary and a writable download root.
type HealthChecker struct {
	version    string
	db         *sql.DB
	ffmpegPath string
	outputDir  string
}

// NewHealthChecker creates a new health checker. db may be nil when the
// history store is disabled; ffmpegPath may be empty when remux is disabled.
func NewHealthChecker(version string, db *sql.DB, ffmpegPath, outputDir string) *HealthChecker {
	return &HealthChecker{
		version:    version,
		db:         db,
		ffmpegPath: ffmpegPath,
		outputDir:  outputDir,
	}
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(ctx context.Context) *HealthCheck {
	checks := map[string]Check{
		"database":      h.checkDatabase(ctx),
		"transcoder":    h.checkTranscoder(),
		"download_root": h.checkOutputDir(),
	}

	overall := HealthStatusHealthy
	for name, c := range checks {
		switch c.Status {
		case "unhealthy":
			// Remux failures are non-fatal, so a missing transcoder only degrades.
			if name == "transcoder" {
				if overall == HealthStatusHealthy {
					overall = HealthStatusDegraded
				}
				continue
			}
			overall = HealthStatusUnhealthy
		case "degraded":
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	return &HealthCheck{
		Status:    overall,
		Version:   h.version,
		Checks:    checks,
		Timestamp: time.Now(),
	}
}

// checkDatabase checks database connectivity
func (h *HealthChecker) checkDatabase(ctx context.Context) Check {
	if h.db == nil {
		return Check{Status: "skipped", Message: "History store disabled"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return Check{Status: "healthy", Message: "Database connection is healthy"}
}

func (h *HealthChecker) checkTranscoder() Check {
	if h.ffmpegPath == "" {
		return Check{Status: "skipped", Message: "Remux disabled"}
	}
	path, err := exec.LookPath(h.ffmpegPath)
	if err != nil {
		return Check{Status: "unhealthy", Message: fmt.Sprintf("%s not found: %v", h.ffmpegPath, err)}
	}
	return Check{Status: "healthy", Message: path}
}

func (h *HealthChecker) checkOutputDir() Check {
	if err := os.MkdirAll(h.outputDir, 0755); err != nil {
		return Check{Status: "unhealthy", Message: "cannot create download root: " + err.Error()}
	}
	probe, err := os.CreateTemp(h.outputDir, ".probe-*")
	if err != nil {
		return Check{Status: "unhealthy", Message: "download root not writable: " + err.Error()}
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)

	abs, _ := filepath.Abs(h.outputDir)
	return Check{Status: "healthy", Message: abs}
}
