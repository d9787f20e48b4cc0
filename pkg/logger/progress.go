package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker counts completed steps of a multi-step operation, such as
// the per-day calls of a consolidation run, and logs each step.
type ProgressTracker struct {
	logger    Logger
	operation string
	total     int
	current   int
	records   int
	startTime time.Time
	mutex     sync.Mutex
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int           `json:"total"`
	Current    int           `json:"current"`
	Records    int           `json:"records"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(operation string, total int, logger Logger) *ProgressTracker {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	tracker := &ProgressTracker{
		logger:    logger.WithComponent("progress"),
		operation: operation,
		total:     total,
		startTime: time.Now(),
	}

	tracker.logger.WithFields(Fields{
		"operation": operation,
		"total":     total,
	}).Info("Starting operation")

	return tracker
}

// Step records one finished step that produced the given number of records.
// Safe for concurrent use.
func (p *ProgressTracker) Step(step string, records int) {
	p.mutex.Lock()
	p.current++
	p.records += records
	stats := p.statsLocked()
	p.mutex.Unlock()

	p.logger.WithFields(Fields{
		"operation":  p.operation,
		"step":       step,
		"records":    records,
		"percentage": fmt.Sprintf("%.1f%%", stats.Percentage),
	}).Debug("Step completed")
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	stats := p.Stats()
	p.logger.WithFields(Fields{
		"operation": p.operation,
		"steps":     stats.Current,
		"records":   stats.Records,
		"duration":  stats.Duration.String(),
	}).Info("Operation completed")
}

// CompleteWithError logs final statistics together with the failure
func (p *ProgressTracker) CompleteWithError(err error) {
	stats := p.Stats()
	p.logger.WithError(err).WithFields(Fields{
		"operation": p.operation,
		"steps":     stats.Current,
		"total":     stats.Total,
		"duration":  stats.Duration.String(),
	}).Error("Operation completed with error")
}

// Stats returns current progress statistics
func (p *ProgressTracker) Stats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.statsLocked()
}

func (p *ProgressTracker) statsLocked() ProgressStats {
	var percentage float64
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}
	return ProgressStats{
		Operation:  p.operation,
		Total:      p.total,
		Current:    p.current,
		Records:    p.records,
		Percentage: percentage,
		Duration:   time.Since(p.startTime),
	}
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	return fmt.Sprintf("%s: %d/%d steps (%.1f%%), %d records, elapsed %v",
		ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Records, ps.Duration.Round(time.Millisecond))
}
