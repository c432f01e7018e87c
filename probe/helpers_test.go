package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lukemcguire/throttleprobe/account"
)

// fakeJobAPI serves the three job API endpoints from canned state.
type fakeJobAPI struct {
	mu sync.Mutex

	submitCode int
	submitBody string

	statusCode int
	statuses   []string // returned in order; the last one repeats
	datasetID  string

	datasetCode int
	dataset     string

	submits   int
	polls     int
	lastToken string
	lastInput jobInput
}

func newFakeJobAPI() *fakeJobAPI {
	return &fakeJobAPI{
		submitCode:  http.StatusCreated,
		submitBody:  `{"data":{"id":"run-1","status":"READY"}}`,
		statusCode:  http.StatusOK,
		statuses:    []string{"SUCCEEDED"},
		datasetID:   "ds-1",
		datasetCode: http.StatusOK,
		dataset:     `[{"shortCode":"abc","likesCount":10}]`,
	}
}

func (f *fakeJobAPI) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v2/acts/{actorID}/runs", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.submits++
		f.lastToken = req.URL.Query().Get("token")
		_ = json.NewDecoder(req.Body).Decode(&f.lastInput)
		w.WriteHeader(f.submitCode)
		_, _ = w.Write([]byte(f.submitBody))
	})
	r.Get("/v2/actor-runs/{runID}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		status := f.statuses[min(f.polls, len(f.statuses)-1)]
		f.polls++
		if f.statusCode != http.StatusOK {
			w.WriteHeader(f.statusCode)
			return
		}
		var env runEnvelope
		env.Data.ID = chi.URLParam(req, "runID")
		env.Data.Status = status
		if status == "SUCCEEDED" {
			env.Data.DefaultDatasetID = f.datasetID
		}
		_ = json.NewEncoder(w).Encode(env)
	})
	r.Get("/v2/datasets/{datasetID}/items", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.WriteHeader(f.datasetCode)
		_, _ = w.Write([]byte(f.dataset))
	})
	return r
}

// start serves the fake and returns a job client pointed at it.
func (f *fakeJobAPI) start(t *testing.T) *JobClient {
	t.Helper()
	s := httptest.NewServer(f.router())
	t.Cleanup(s.Close)
	return NewJobClient(testSession(t), JobAPIConfig{BaseURL: s.URL, ActorID: "actor"})
}

func testSession(t *testing.T) *account.Session {
	t.Helper()
	session := account.NewSession(0)
	if err := session.Configure(account.Config{Name: "test", Token: "tok"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return session
}

// fakeClock advances only when its sleeper is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	cancel context.CancelFunc // called on the nth sleep when set
	after  int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	n := len(c.slept)
	c.mu.Unlock()
	if c.cancel != nil && n >= c.after {
		c.cancel()
	}
	return ctx.Err()
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func (f *fakeJobAPI) counts() (submits, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.polls
}
