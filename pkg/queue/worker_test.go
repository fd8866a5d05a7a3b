package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type noopRegistry struct{}

func (noopRegistry) RegisterJob(jobID string, cancel context.CancelFunc) {}
func (noopRegistry) UnregisterJob(jobID string)                          {}

func TestWorkerPollInterval(t *testing.T) {
	w := NewWorker("test-worker", nil, nil, time.Second, 500*time.Millisecond, noopRegistry{})

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond, "poll interval below minimum")
		assert.LessOrEqual(t, d, 1500*time.Millisecond, "poll interval above maximum")
	}
}

func TestWorkerPollIntervalNoJitter(t *testing.T) {
	w := NewWorker("test-worker", nil, nil, time.Second, 0, noopRegistry{})

	for i := 0; i < 10; i++ {
		assert.Equal(t, time.Second, w.pollInterval())
	}
}

func TestWorkerPollIntervalNegativeJitterTreatedAsZero(t *testing.T) {
	w := NewWorker("test-worker", nil, nil, time.Second, -100*time.Millisecond, noopRegistry{})

	for i := 0; i < 10; i++ {
		assert.Equal(t, time.Second, w.pollInterval())
	}
}

func TestWorkerHealth(t *testing.T) {
	w := NewWorker("worker-1", nil, nil, time.Second, 0, noopRegistry{})

	h := w.Health()
	assert.Equal(t, "worker-1", h.ID)
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, "", h.CurrentJobID)
	assert.Equal(t, 0, h.JobsProcessed)

	w.setStatus(WorkerStatusWorking, "build-sandbox-abc123")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusWorking), h.Status)
	assert.Equal(t, "build-sandbox-abc123", h.CurrentJobID)

	w.setStatus(WorkerStatusIdle, "")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, "", h.CurrentJobID)
}

func TestWorkerStopIdempotent(t *testing.T) {
	w := NewWorker("worker-1", nil, nil, time.Second, 0, noopRegistry{})

	assert.NotPanics(t, func() { w.Stop() })
	assert.NotPanics(t, func() { w.Stop() })
}

type recordingHandler struct {
	calls   []JobPayload
	err     error
	panics  bool
}

func (h *recordingHandler) Handle(ctx context.Context, payload JobPayload) error {
	if h.panics {
		panic("handler exploded")
	}
	h.calls = append(h.calls, payload)
	return h.err
}

func TestWorkerDispatchUnknownType(t *testing.T) {
	w := NewWorker("worker-1", nil, map[JobType]Handler{}, time.Second, 0, noopRegistry{})

	err := w.dispatch(context.Background(), Job{ID: "j1", Type: JobBuild, Payload: JobPayload{Type: JobBuild}})
	assert.Error(t, err)
}

func TestWorkerDispatchRecoversPanic(t *testing.T) {
	handler := &recordingHandler{panics: true}
	w := NewWorker("worker-1", nil, map[JobType]Handler{JobBuild: handler}, time.Second, 0, noopRegistry{})

	err := w.dispatch(context.Background(), Job{ID: "j1", Type: JobBuild, Payload: JobPayload{Type: JobBuild}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestWorkerDispatchRoutesToHandler(t *testing.T) {
	handler := &recordingHandler{}
	w := NewWorker("worker-1", nil, map[JobType]Handler{JobBuild: handler}, time.Second, 0, noopRegistry{})

	payload := JobPayload{Type: JobBuild, SandboxID: "sb-1"}
	err := w.dispatch(context.Background(), Job{ID: "j1", Type: JobBuild, Payload: payload})
	assert.NoError(t, err)
	assert.Equal(t, []JobPayload{payload}, handler.calls)
}
