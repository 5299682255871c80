package collab

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testKey    = "lti-key"
	testSecret = "lti-secret"
)

type fakeCollab struct {
	t           *testing.T
	tokenCalls  atomic.Int32
	urlCalls    atomic.Int32
	expiresIn   int
	tokenStatus int
}

func (f *fakeCollab) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/collab/api/csa/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(`{"errorKey":"unauthorized"}`))
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != testKey || pass != testSecret {
			f.t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			f.t.Errorf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != jwtBearerGrant {
			f.t.Errorf("grant_type = %q", got)
		}
		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(r.PostForm.Get("assertion"), &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(testSecret), nil
		}, jwt.WithoutClaimsValidation())
		if err != nil {
			f.t.Errorf("assertion parse error = %v", err)
		}
		if claims.Issuer != testKey || claims.Subject != testKey || claims.ExpiresAt == nil {
			f.t.Errorf("claims = %+v", claims)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('0'+f.tokenCalls.Load())),
			"expires_in":   f.expiresIn,
		})
	})
	mux.HandleFunc("/collab/api/csa/recordings/", func(w http.ResponseWriter, r *http.Request) {
		f.urlCalls.Add(1)
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer token-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("disposition") != "download" {
			f.t.Errorf("disposition = %q", r.URL.Query().Get("disposition"))
		}
		uid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/collab/api/csa/recordings/"), "/url")
		if uid == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://media.example/" + uid + ".mp4"})
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeCollab) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	client, err := NewClient(Config{RegionHost: server.URL + "/", LTIKey: testKey, LTISecret: testSecret, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, server
}

func TestDownloadURLReusesToken(t *testing.T) {
	fake := &fakeCollab{t: t, expiresIn: 300}
	client, _ := newTestClient(t, fake)

	for _, uid := range []string{"uid-1", "uid-2"} {
		got, err := client.DownloadURL(context.Background(), uid)
		if err != nil {
			t.Fatalf("DownloadURL(%s) error = %v", uid, err)
		}
		if got != "https://media.example/"+uid+".mp4" {
			t.Fatalf("DownloadURL(%s) = %q", uid, got)
		}
	}
	if fake.tokenCalls.Load() != 1 {
		t.Fatalf("token calls = %d, want 1", fake.tokenCalls.Load())
	}
}

func TestTokenRenewsAfterExpiry(t *testing.T) {
	fake := &fakeCollab{t: t, expiresIn: 60}
	client, _ := newTestClient(t, fake)
	now := time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	first, err := client.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	now = now.Add(30 * time.Second)
	if again, _ := client.Token(context.Background()); again != first {
		t.Fatalf("Token() = %q before expiry, want cached %q", again, first)
	}
	now = now.Add(time.Minute)
	renewed, err := client.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if renewed == first || fake.tokenCalls.Load() != 2 {
		t.Fatalf("renewed = %q (calls %d), want a new token", renewed, fake.tokenCalls.Load())
	}
}

func TestDownloadURLNotFound(t *testing.T) {
	client, _ := newTestClient(t, &fakeCollab{t: t, expiresIn: 300})
	_, err := client.DownloadURL(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("DownloadURL() error = %v, want ErrNotFound", err)
	}
}

func TestTokenRejected(t *testing.T) {
	fake := &fakeCollab{t: t, tokenStatus: http.StatusUnauthorized}
	client, _ := newTestClient(t, fake)
	_, err := client.DownloadURL(context.Background(), "uid-1")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("DownloadURL() error = %v, want ErrAuthentication", err)
	}
	if fake.urlCalls.Load() != 0 {
		t.Fatalf("url calls = %d, want 0", fake.urlCalls.Load())
	}
}

func TestFetchStreamsBody(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.mp4" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer media.Close()
	client, _ := newTestClient(t, &fakeCollab{t: t, expiresIn: 300})

	body, size, err := client.Fetch(context.Background(), media.URL+"/ok.mp4")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer func() { _ = body.Close() }()
	data, _ := io.ReadAll(body)
	if string(data) != "mp4-bytes" || size != int64(len(data)) {
		t.Fatalf("Fetch() = %q size %d", data, size)
	}

	if _, _, err := client.Fetch(context.Background(), media.URL+"/gone.mp4"); err == nil {
		t.Fatal("expected error for forbidden media")
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	tests := []Config{
		{LTIKey: "k", LTISecret: "s"},
		{RegionHost: "not a url", LTIKey: "k", LTISecret: "s"},
		{RegionHost: "https://us.bbcollab.com", LTISecret: "s"},
		{RegionHost: "https://us.bbcollab.com", LTIKey: "k"},
	}
	for _, cfg := range tests {
		if _, err := NewClient(cfg); err == nil {
			t.Fatalf("NewClient(%+v) expected error", cfg)
		}
	}
}
