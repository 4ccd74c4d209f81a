package metrics

import (
	"strconv"
	"time"

	"github.com/promptsteer/promptsteer/internal/observability"
)

// Application metrics following Prometheus conventions
const (
	PromptsBuiltTotal   = "prompts_built_total"
	ScoresTotal         = "scores_total"
	ScoreDuration       = "score_duration_ms"
	AssignmentsTotal    = "assignments_total"
	EmbeddingCacheTotal = "embedding_cache_total"
	FetchesTotal        = "fetches_total"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func counter(name string, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, labels)
	}
}

func gauge(name string, value float64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(name, value, nil)
	}
}

// RecordPromptBuild counts prompt construction by kind (text or image).
func RecordPromptBuild(kind string, ok bool) {
	counter(PromptsBuiltTotal, map[string]string{"kind": kind, "status": status(ok)})
}

// RecordScore counts a scored step and its latency.
func RecordScore(prompts int, ok bool, duration time.Duration) {
	counter(ScoresTotal, map[string]string{
		"prompts": strconv.Itoa(prompts),
		"status":  status(ok),
	})
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(ScoreDuration, duration, nil)
	}
}

// RecordAssignment counts region assignment solves.
func RecordAssignment(ok bool) {
	counter(AssignmentsTotal, map[string]string{"status": status(ok)})
}

// RecordEmbeddingCache counts cache lookups by outcome (hit or miss).
func RecordEmbeddingCache(encoder string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	counter(EmbeddingCacheTotal, map[string]string{"encoder": encoder, "outcome": outcome})
}

// RecordFetch counts image reference fetches.
func RecordFetch(remote bool, ok bool) {
	source := "local"
	if remote {
		source = "remote"
	}
	counter(FetchesTotal, map[string]string{"source": source, "status": status(ok)})
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	state := "healthy"
	if !healthy {
		state = "unhealthy"
	}
	counter(HealthCheckTotal, map[string]string{"check": checkName, "status": state})
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp))
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	gauge(ServerUptime, float64(seconds))
}
