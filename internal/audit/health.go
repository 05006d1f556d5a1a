package audit

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
)

// Status is the coarse health classification.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

const (
	warningSuccessRate    = 0.95
	criticalSuccessRate   = 0.80
	warningErrorFraction  = 0.10
	criticalErrorFraction = 0.25
	warningSlowFraction   = 0.10
	recentErrorLimit      = 10
)

// Metrics aggregates the buffered samples and entries.
type Metrics struct {
	TotalOperations      int
	SuccessfulOperations int
	FailedOperations     int
	SuccessRate          float64
	AverageDuration      time.Duration
	SlowOperations       int
	TotalEntries         int
	ErrorEntries         int
	ErrorsByKind         map[retry.Kind]int
}

// HealthReport is what callers receive from a health check.
type HealthReport struct {
	Status  Status
	Metrics Metrics
	Issues  []string
	Errors  []Entry
}

// Metrics computes aggregates over the current buffers.
func (r *Recorder) Metrics() Metrics {
	samples := r.Samples()
	entries := r.Entries()

	metrics := Metrics{
		TotalOperations: len(samples),
		TotalEntries:    len(entries),
		ErrorsByKind:    make(map[retry.Kind]int),
		SuccessRate:     1,
	}
	var totalDuration time.Duration
	for _, sample := range samples {
		if sample.Success {
			metrics.SuccessfulOperations++
		} else {
			metrics.FailedOperations++
		}
		if sample.Duration > r.slowThreshold {
			metrics.SlowOperations++
		}
		totalDuration += sample.Duration
	}
	if len(samples) > 0 {
		metrics.SuccessRate = float64(metrics.SuccessfulOperations) / float64(len(samples))
		metrics.AverageDuration = totalDuration / time.Duration(len(samples))
	}
	for _, entry := range entries {
		if entry.Success {
			continue
		}
		metrics.ErrorEntries++
		metrics.ErrorsByKind[entry.ErrorKind]++
	}
	return metrics
}

// Health derives a status from the metrics using fixed thresholds.
func (r *Recorder) Health() HealthReport {
	metrics := r.Metrics()
	report := HealthReport{Status: StatusHealthy, Metrics: metrics}

	if metrics.TotalOperations > 0 {
		switch {
		case metrics.SuccessRate < criticalSuccessRate:
			report.escalate(StatusCritical, fmt.Sprintf("success rate %.2f below %.2f", metrics.SuccessRate, criticalSuccessRate))
		case metrics.SuccessRate < warningSuccessRate:
			report.escalate(StatusWarning, fmt.Sprintf("success rate %.2f below %.2f", metrics.SuccessRate, warningSuccessRate))
		}
		slowFraction := float64(metrics.SlowOperations) / float64(metrics.TotalOperations)
		if slowFraction > warningSlowFraction {
			report.escalate(StatusWarning, fmt.Sprintf("%d of %d operations were slow", metrics.SlowOperations, metrics.TotalOperations))
		}
	}
	if metrics.TotalEntries > 0 {
		errorFraction := float64(metrics.ErrorEntries) / float64(metrics.TotalEntries)
		switch {
		case errorFraction > criticalErrorFraction:
			report.escalate(StatusCritical, fmt.Sprintf("%d of %d audited operations failed", metrics.ErrorEntries, metrics.TotalEntries))
		case errorFraction > warningErrorFraction:
			report.escalate(StatusWarning, fmt.Sprintf("%d of %d audited operations failed", metrics.ErrorEntries, metrics.TotalEntries))
		}
	}

	entries := r.Entries()
	for index := len(entries) - 1; index >= 0 && len(report.Errors) < recentErrorLimit; index-- {
		if !entries[index].Success {
			report.Errors = append(report.Errors, entries[index])
		}
	}
	return report
}

func (report *HealthReport) escalate(status Status, issue string) {
	report.Issues = append(report.Issues, issue)
	if severity(status) > severity(report.Status) {
		report.Status = status
	}
}

func severity(status Status) int {
	switch status {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}
