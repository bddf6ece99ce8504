package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesCounters(t *testing.T) {
	m := NewScoring(nil)
	m.Correct.Inc(2)
	m.Rejected.Inc(1)
	m.Since(time.Now().Add(-10 * time.Millisecond))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["submissions.correct"]["count"])
	assert.Equal(t, float64(1), body["submissions.rejected"]["count"])
	assert.Equal(t, float64(1), body["submissions.latency"]["count"])
}
