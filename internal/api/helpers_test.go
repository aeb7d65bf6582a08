package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	apimiddleware "github.com/phrazzld/taskrelay/internal/api/middleware"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/phrazzld/taskrelay/internal/resultbus"
	"github.com/phrazzld/taskrelay/internal/service/auth"
	"github.com/phrazzld/taskrelay/internal/session"
	"github.com/phrazzld/taskrelay/internal/task"
	"github.com/stretchr/testify/require"
)

const (
	testTasksChannel   = "tasks_queue"
	testResultsChannel = "results_queue"
	testIdentity       = "42"
)

// testAPI is a router wired like the server's /api tree, backed by an
// in-memory bus and a mock verifier that accepts every token as testIdentity.
type testAPI struct {
	bus     *resultbus.MemoryBus
	hub     *session.Hub
	router  *session.Router
	jwt     *auth.MockJWTService
	handler http.Handler
	logs    *logger.TestLogBuffer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logs, log := logger.NewTestLogger()
	bus := resultbus.NewMemoryBus(log)
	t.Cleanup(func() { _ = bus.Close() })

	hub := session.NewHub()
	jwt := auth.NewMockJWTService(testIdentity)
	a := &testAPI{
		bus:    bus,
		hub:    hub,
		router: session.NewRouter(bus, hub, session.RouterConfig{ResultsChannel: testResultsChannel}, log),
		jwt:    jwt,
		logs:   logs,
	}

	tasks := NewTaskHandler(task.DefaultRegistry(), bus, testTasksChannel, log)
	diagnostics := NewDiagnosticsHandler(bus, hub, log)
	authMiddleware := apimiddleware.NewAuthMiddleware(jwt)

	r := chi.NewRouter()
	r.Use(apimiddleware.TraceMiddleware(log))
	r.Get("/health", diagnostics.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", tasks.ListTasks)
		r.Get("/diagnostics/bus", diagnostics.BusHealth)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Post("/tasks/{task_type}", tasks.SubmitTask)
			r.Post("/diagnostics/groups/{user_id}", diagnostics.SendToGroup)
		})
	})
	a.handler = r
	return a
}

func (a *testAPI) do(t *testing.T, method, path, body string, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if authenticated {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

// subscribeTasks listens on the tasks channel the way a processor would.
func (a *testAPI) subscribeTasks(t *testing.T) resultbus.Subscription {
	t.Helper()
	sub, err := a.bus.Subscribe(context.Background(), testTasksChannel)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

// recordingTransport is a session transport that keeps every payload.
type recordingTransport struct {
	mu   sync.Mutex
	sent [][]byte
	fail bool
}

func (r *recordingTransport) Send(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("write failed")
	}
	r.sent = append(r.sent, append([]byte(nil), payload...))
	return nil
}

func (r *recordingTransport) Close(int, string) error {
	return nil
}

func (r *recordingTransport) messages() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.sent...)
}

// brokenHealth fails every health check.
type brokenHealth struct{}

func (brokenHealth) HealthCheck(context.Context) error {
	return resultbus.ErrHealthCheck
}
