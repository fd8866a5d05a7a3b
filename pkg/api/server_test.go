package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeplatform/forge/pkg/queue"
)

type fakeHealth struct {
	health *queue.PoolHealth
}

func (f *fakeHealth) Health() *queue.PoolHealth { return f.health }

func TestHealthzReturnsOKWithNoReporter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{engine: gin.New()}
	s.routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthzReportsPoolHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{engine: gin.New(), health: &fakeHealth{health: &queue.PoolHealth{
		IsHealthy:     true,
		DBReachable:   true,
		WorkerID:      "worker-1",
		ActiveWorkers: 2,
		TotalWorkers:  3,
		QueueDepth:    5,
	}}}
	s.routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "worker-1")
	assert.Contains(t, w.Body.String(), `"queue_depth":5`)
}
