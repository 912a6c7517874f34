package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRegisteredIdempotent(t *testing.T) {
	// Double registration would panic inside MustRegister.
	EnsureRegistered()
	EnsureRegistered()
}

func TestRecordHelpers(t *testing.T) {
	EnsureRegistered()

	RecordMemoryCreate("messages", 10*time.Millisecond, true)
	RecordMemoryCreate("messages", 10*time.Millisecond, false)
	RecordMemoryRemove("messages", true)
	RecordMemorySearch("messages", 5*time.Millisecond)
	SetMemoryEntries("messages", 42)
	RecordEmbedding(20*time.Millisecond, true)
	RecordEmbeddingCacheLookup(true)
	RecordEmbeddingCacheLookup(false)
	SetIndexState(2)
	RecordIndexBatch(true, 100)
	RecordIndexBatch(false, 0)
	RecordIndexQuery(3 * time.Millisecond)
	RecordIndexDelete(true)
	RecordReconcileRun(true, 7)
}

func TestMetricsHandler(t *testing.T) {
	handler := MetricsHandler()
	require.NotNil(t, handler)

	RecordMemoryCreate("facts", time.Millisecond, true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "memory_create_total")
}
