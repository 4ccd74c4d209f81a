package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/promptsteer/promptsteer/internal/observability"
)

func TestRecordersWithoutTelemetry(t *testing.T) {
	observability.DisableTelemetry()

	require.NotPanics(t, func() {
		RecordPromptBuild("text", true)
		RecordScore(3, false, time.Millisecond)
		RecordAssignment(true)
		RecordEmbeddingCache("hash-192", true)
		RecordFetch(true, false)
		RecordHealthCheck("store", true, time.Millisecond)
		RecordError("VALIDATION_ERROR", 400)
		RecordPanic()
		RecordErrorByEndpoint("/v1/score", "VALIDATION_ERROR")
		SetServerStartTime(time.Now().Unix())
		SetServerUptime(5)
	})
}

func TestStatusLabel(t *testing.T) {
	require.Equal(t, "success", status(true))
	require.Equal(t, "failure", status(false))
}
