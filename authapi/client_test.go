package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/applock"
	"github.com/MrEthical07/applock/biometric"
	"github.com/MrEthical07/applock/credstore"
	"github.com/MrEthical07/applock/internal/mockapi"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newBackend(t *testing.T) (*mockapi.Server, *Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv, err := mockapi.New(mockapi.Config{Secret: []byte("authapi-test-secret-0123456789")})
	if err != nil {
		t.Fatalf("mockapi.New: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, New(ts.URL)
}

func TestLoginReturnsTokenAndProfile(t *testing.T) {
	_, c := newBackend(t)

	res, err := c.Login(context.Background(), "emilys", "emilyspass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Token == "" || res.Username != "emilys" {
		t.Fatalf("unexpected result %+v", res)
	}

	var profile map[string]any
	if err := json.Unmarshal(res.Profile, &profile); err != nil {
		t.Fatalf("profile not JSON: %v", err)
	}
	if _, ok := profile["accessToken"]; ok {
		t.Fatal("expected accessToken stripped from profile")
	}
	if _, ok := profile["refreshToken"]; ok {
		t.Fatal("expected refreshToken stripped from profile")
	}
	if profile["firstName"] != "Emily" {
		t.Fatalf("unexpected profile %v", profile)
	}
}

func TestLoginBadCredentialsIsServerError(t *testing.T) {
	_, c := newBackend(t)

	_, err := c.Login(context.Background(), "emilys", "wrong")
	if !errors.Is(err, applock.ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	if StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", StatusOf(err))
	}
	var he *HTTPError
	if !errors.As(err, &he) || he.Message != "Invalid credentials" {
		t.Fatalf("expected backend message, got %v", err)
	}
}

func TestFetchProfile(t *testing.T) {
	_, c := newBackend(t)
	ctx := context.Background()

	res, err := c.Login(ctx, "michaelw", "michaelwpass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	p, err := c.FetchProfile(ctx, res.Token)
	if err != nil {
		t.Fatalf("FetchProfile failed: %v", err)
	}
	var profile map[string]any
	if err := json.Unmarshal(p, &profile); err != nil {
		t.Fatalf("profile not JSON: %v", err)
	}
	if profile["username"] != "michaelw" {
		t.Fatalf("unexpected profile %v", profile)
	}
}

func TestFetchProfileUnauthorized(t *testing.T) {
	_, c := newBackend(t)

	_, err := c.FetchProfile(context.Background(), "not-a-token")
	if !errors.Is(err, applock.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if applock.ClassifyError(err) != applock.ErrUnauthorized {
		t.Fatal("expected classification unauthorized")
	}
}

func TestOutageIsServerError(t *testing.T) {
	srv, c := newBackend(t)
	srv.SetDown(true)

	_, err := c.Login(context.Background(), "emilys", "emilyspass")
	if StatusOf(err) != http.StatusServiceUnavailable || !errors.Is(err, applock.ErrServer) {
		t.Fatalf("expected 503 server error, got %v", err)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(url, WithHTTPClient(&http.Client{Timeout: time.Second}))
	_, err := c.FetchProfile(context.Background(), "tok")
	if !errors.Is(err, applock.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestRequestsCarryRequestID(t *testing.T) {
	var got []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get(RequestIDHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer ts.Close()

	c := New(ts.URL)
	for i := 0; i < 2; i++ {
		if _, err := c.FetchProfile(context.Background(), "tok"); err != nil {
			t.Fatalf("FetchProfile: %v", err)
		}
	}
	if len(got) != 2 || got[0] == got[1] {
		t.Fatalf("expected two distinct request ids, got %v", got)
	}
	for _, id := range got {
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("request id %q is not a uuid", id)
		}
	}
}

func TestControllerOverHTTP(t *testing.T) {
	_, c := newBackend(t)
	ctrl, err := applock.New().
		WithConfig(func() applock.Config {
			cfg := applock.DefaultConfig()
			cfg.Password.HashStoredPassword = false
			cfg.Network.PollInterval = 0
			return cfg
		}()).
		WithStore(credstore.NewMemoryStore()).
		WithAuthClient(c).
		WithBiometric(biometric.NewScripted()).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer ctrl.Close()

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctrl.Login(ctx, "emilys", "emilyspass"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	s := ctrl.State()
	if !s.Authenticated || s.Role != applock.RoleSuperAdmin {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if s.TokenExpiresAt.IsZero() {
		t.Fatal("expected token expiry read from the JWT")
	}
}
