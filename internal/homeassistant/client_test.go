package homeassistant_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JunioDutra/rtsp-to-wyoming/internal/command"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/homeassistant"
	"github.com/JunioDutra/rtsp-to-wyoming/internal/resilience"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Type   string
	Body   map[string]any
}

// haServer answers every request with status and records what it received.
func haServer(t *testing.T, status int, reply string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Type:   r.Header.Get("Content-Type"),
			Body:   body,
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func staticToken(tok string) homeassistant.Option {
	return homeassistant.WithTokenSource(func() string { return tok })
}

func TestDispatch_PostsServiceCall(t *testing.T) {
	t.Parallel()
	srv, recorded := haServer(t, http.StatusOK, "[]")

	c, err := homeassistant.New(srv.URL+"/core/", staticToken("secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Dispatch(t.Context(), command.Action{
		Name:        "light.turn_on",
		EntityID:    "light.kitchen",
		ServiceData: map[string]any{"brightness": 128},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.OK || res.Status != http.StatusOK || res.Message != "[]" {
		t.Errorf("result = %+v", res)
	}

	reqs := recorded()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	r := reqs[0]
	if r.Method != http.MethodPost || r.Path != "/core/api/services/light/turn_on" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer secret" || r.Type != "application/json" {
		t.Errorf("headers: auth=%q type=%q", r.Auth, r.Type)
	}
	if r.Body["entity_id"] != "light.kitchen" || r.Body["brightness"] != float64(128) {
		t.Errorf("body = %v", r.Body)
	}
}

func TestDispatch_ServiceDataEntityWins(t *testing.T) {
	t.Parallel()
	srv, recorded := haServer(t, http.StatusOK, "")
	c, _ := homeassistant.New(srv.URL, staticToken("t"))

	_, err := c.Dispatch(t.Context(), command.Action{
		Name:        "light.turn_off",
		EntityID:    "light.a",
		ServiceData: map[string]any{"entity_id": []any{"light.b", "light.c"}},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	ids, ok := recorded()[0].Body["entity_id"].([]any)
	if !ok || len(ids) != 2 {
		t.Errorf("entity_id = %v, want the service_data list", recorded()[0].Body["entity_id"])
	}
}

func TestDispatch_NoEntity(t *testing.T) {
	t.Parallel()
	srv, recorded := haServer(t, http.StatusOK, "")
	c, _ := homeassistant.New(srv.URL, staticToken("t"))

	if _, err := c.Dispatch(t.Context(), command.Action{Name: "script.goodnight"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if body := recorded()[0].Body; len(body) != 0 {
		t.Errorf("body = %v, want empty object", body)
	}
}

func TestDispatch_Errors(t *testing.T) {
	t.Parallel()
	srv, recorded := haServer(t, http.StatusOK, "")

	tests := []struct {
		name   string
		token  string
		action string
		want   error
	}{
		{"no token", "", "light.turn_on", homeassistant.ErrNoToken},
		{"no dot", "t", "turn_on", homeassistant.ErrInvalidAction},
		{"empty service", "t", "light.", homeassistant.ErrInvalidAction},
		{"empty domain", "t", ".turn_on", homeassistant.ErrInvalidAction},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := homeassistant.New(srv.URL, staticToken(tc.token))
			_, err := c.Dispatch(t.Context(), command.Action{Name: tc.action})
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if n := len(recorded()); n != 0 {
		t.Errorf("requests = %d, want none", n)
	}
}

func TestDispatch_NonSuccessStatus(t *testing.T) {
	t.Parallel()
	srv, _ := haServer(t, http.StatusBadRequest, "  Service not found.  ")
	c, _ := homeassistant.New(srv.URL, staticToken("t"))

	res, err := c.Dispatch(t.Context(), command.Action{Name: "light.bogus"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.OK || res.Status != http.StatusBadRequest || res.Message != "Service not found." {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatch_Timeout(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	c, _ := homeassistant.New(srv.URL, staticToken("t"), homeassistant.WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.Dispatch(t.Context(), command.Action{Name: "light.turn_on"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Dispatch took %v", elapsed)
	}
}

func TestDispatch_BreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "homeassistant",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	c, _ := homeassistant.New(srv.URL, staticToken("t"), homeassistant.WithBreaker(cb))

	for i := range 2 {
		res, err := c.Dispatch(t.Context(), command.Action{Name: "light.turn_on"})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if res.OK || res.Status != http.StatusBadGateway {
			t.Errorf("call %d result = %+v", i, res)
		}
	}

	_, err := c.Dispatch(t.Context(), command.Action{Name: "light.turn_on"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("server hits = %d, want 2", n)
	}
}

func TestDispatch_ClientErrorsKeepBreakerClosed(t *testing.T) {
	t.Parallel()
	srv, _ := haServer(t, http.StatusNotFound, "")
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "homeassistant", MaxFailures: 1})
	c, _ := homeassistant.New(srv.URL, staticToken("t"), homeassistant.WithBreaker(cb))

	for range 3 {
		if _, err := c.Dispatch(t.Context(), command.Action{Name: "light.nope"}); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", cb.State())
	}
}

func TestNew_InvalidURL(t *testing.T) {
	t.Parallel()
	for _, u := range []string{"", "supervisor/core", "://bad"} {
		if _, err := homeassistant.New(u); err == nil {
			t.Errorf("New(%q): expected error", u)
		}
	}
}

func TestTokenFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		supervisor string
		hassio     string
		want       string
	}{
		{"supervisor preferred", "sup", "has", "sup"},
		{"hassio fallback", "", "has", "has"},
		{"none", "", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(homeassistant.EnvSupervisorToken, tc.supervisor)
			t.Setenv(homeassistant.EnvHassioToken, tc.hassio)
			if got := homeassistant.TokenFromEnv(); got != tc.want {
				t.Errorf("TokenFromEnv() = %q, want %q", got, tc.want)
			}
		})
	}
}
