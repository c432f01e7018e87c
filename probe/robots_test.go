package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func robotsServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s, &hits
}

func TestRobotsChecker_Allowed(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		robotsTxt string
		path      string
		userAgent string
		want      bool
	}{
		{
			name:      "disallowed path",
			status:    http.StatusOK,
			robotsTxt: "User-agent: *\nDisallow: /p/",
			path:      "/p/abc/",
			userAgent: "testbot",
			want:      false,
		},
		{
			name:      "allowed path",
			status:    http.StatusOK,
			robotsTxt: "User-agent: *\nDisallow: /private/",
			path:      "/p/abc/",
			userAgent: "testbot",
			want:      true,
		},
		{
			name:      "agent specific rule",
			status:    http.StatusOK,
			robotsTxt: "User-agent: EvilBot\nDisallow: /",
			path:      "/p/abc/",
			userAgent: "EvilBot",
			want:      false,
		},
		{
			name:   "404 allows all",
			status: http.StatusNotFound,
			path:   "/p/abc/",
			want:   true,
		},
		{
			name:   "500 allows all",
			status: http.StatusInternalServerError,
			path:   "/p/abc/",
			want:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := robotsServer(t, tc.status, tc.robotsTxt)
			checker := NewRobotsChecker(s.Client())

			got, err := checker.Allowed(context.Background(), s.URL+tc.path, tc.userAgent)
			if err != nil {
				t.Fatalf("Allowed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Allowed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRobotsChecker_CachesPerHost(t *testing.T) {
	s, hits := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /x/")
	checker := NewRobotsChecker(s.Client())

	for range 3 {
		if _, err := checker.Allowed(context.Background(), s.URL+"/p/1/", "bot"); err != nil {
			t.Fatalf("Allowed: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("robots.txt fetched %d times, want 1", hits.Load())
	}
}

func TestRobotsChecker_FetchErrorAllows(t *testing.T) {
	checker := NewRobotsChecker(nil)
	ok, err := checker.Allowed(context.Background(), "http://127.0.0.1:1/p/1/", "bot")
	if !ok {
		t.Error("fetch failure should allow")
	}
	if err == nil {
		t.Error("expected informational error")
	}
}

func TestFilterAllowed(t *testing.T) {
	s, _ := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /reel/")
	checker := NewRobotsChecker(s.Client())

	targets := []string{s.URL + "/p/1/", s.URL + "/reel/2/", s.URL + "/p/3/"}
	got := FilterAllowed(context.Background(), checker, targets, "bot", nil)

	want := []string{s.URL + "/p/1/", s.URL + "/p/3/"}
	if len(got) != len(want) {
		t.Fatalf("FilterAllowed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
