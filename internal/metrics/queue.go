package metrics

import "time"

// ReportFinished records a report leaving the work loop in a terminal state.
func ReportFinished(status string, duration time.Duration) {
	ReportsProcessed.WithLabelValues(status).Inc()
	if duration > 0 {
		ReportProcessingDuration.Observe(duration.Seconds())
	}
}

// PhotoCaptioned records a photo captioned by the vision API.
func PhotoCaptioned() {
	PhotosAnalyzed.WithLabelValues("captioned").Inc()
}

// PhotoDiagnostic records a photo resolved to a diagnostic caption without an
// API call.
func PhotoDiagnostic() {
	PhotosAnalyzed.WithLabelValues("diagnostic").Inc()
}

// BreakerTripped records a circuit-breaker pause.
func BreakerTripped() {
	BreakerTrips.Inc()
}

// QueueResumed records a successful operator resume.
func QueueResumed() {
	QueueResumes.Inc()
}

// SetBrokerConnected mirrors the broker connection state into a gauge.
func SetBrokerConnected(connected bool) {
	if connected {
		BrokerConnected.Set(1)
	} else {
		BrokerConnected.Set(0)
	}
}
