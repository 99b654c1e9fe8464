package queue

import "time"

const maxHealthErrors = 10

// HealthError is a recent dispatcher failure.
type HealthError struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus summarizes dispatcher health.
type HealthStatus struct {
	Status    string        `json:"status"`
	QueueSize int           `json:"queue_size"`
	Workers   int           `json:"workers"`
	ErrorRate float64       `json:"error_rate"`
	Errors    []HealthError `json:"errors"`
	Uptime    time.Duration `json:"uptime"`
}

// HealthThresholds decide when the dispatcher is degraded or unhealthy.
type HealthThresholds struct {
	DegradedErrorRate float64
	MaxErrorRate      float64
	// DegradedFill and MaxFill are fractions of the buffer capacity.
	DegradedFill float64
	MaxFill      float64
}

// DefaultHealthThresholds returns the thresholds used by Health.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		DegradedErrorRate: 0.05,
		MaxErrorRate:      0.2,
		DegradedFill:      0.5,
		MaxFill:           0.9,
	}
}

// Health reports status against DefaultHealthThresholds.
func (d *Dispatcher) Health() HealthStatus {
	return d.HealthWith(DefaultHealthThresholds())
}

// HealthWith reports status against th.
func (d *Dispatcher) HealthWith(th HealthThresholds) HealthStatus {
	stats := d.Stats()

	var errorRate float64
	if stats.ProcessedCount > 0 {
		errorRate = float64(stats.ErrorCount) / float64(stats.ProcessedCount)
	}
	var fill float64
	if c := cap(d.buffer); c > 0 {
		fill = float64(stats.QueueSize) / float64(c)
	}

	status := "healthy"
	switch {
	case errorRate > th.MaxErrorRate || fill > th.MaxFill:
		status = "unhealthy"
	case errorRate > th.DegradedErrorRate || fill > th.DegradedFill:
		status = "degraded"
	}

	d.mu.Lock()
	errs := make([]HealthError, len(d.healthErrors))
	copy(errs, d.healthErrors)
	d.mu.Unlock()

	return HealthStatus{
		Status:    status,
		QueueSize: stats.QueueSize,
		Workers:   stats.WorkerCount,
		ErrorRate: errorRate,
		Errors:    errs,
		Uptime:    time.Since(d.startTime),
	}
}

func (d *Dispatcher) recordError(source string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.healthErrors = append(d.healthErrors, HealthError{Source: source, Message: err.Error(), Timestamp: time.Now()})
	if len(d.healthErrors) > maxHealthErrors {
		d.healthErrors = d.healthErrors[len(d.healthErrors)-maxHealthErrors:]
	}
}
