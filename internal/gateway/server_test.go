package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"japagenie/internal/bus"
	"japagenie/internal/catalog"
	"japagenie/internal/domain"
)

type staticCount int

func (c staticCount) Count() int { return int(c) }

type staticChains []domain.RetryChain

func (c staticChains) Active() []domain.RetryChain { return c }

func newTestServer(t *testing.T) (*Server, *bus.InMemoryBus) {
	t.Helper()
	b := bus.New(10, testLogger())
	t.Cleanup(b.Close)
	s := NewServer(ServerConfig{
		Bus:         b,
		Bot:         catalog.Default().Bot,
		Feedback:    staticCount(12),
		Chains:      staticChains{{ID: "a"}, {ID: "b"}},
		MetricsPath: "/metrics",
		Logger:      testLogger(),
	})
	s.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s, b
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestServer_TelegramWebhook(t *testing.T) {
	s, b := newTestServer(t)
	body := `{"update_id": 9, "message": {"message_id": 1, "date": 1714550000, "text": "hello genie",
		"chat": {"id": 42, "type": "private"}, "from": {"id": 42, "first_name": "Ada"}}}`

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if out := decode(t, rec); out["ok"] != true {
		t.Errorf("expected ok:true, got %v", out)
	}
	if b.Len() != 1 {
		t.Fatalf("expected message on bus, got %d", b.Len())
	}
	msg := <-b.Subscribe()
	if msg.Channel != "telegram" || msg.ChatID != "42" || msg.Text != "hello genie" {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestServer_TelegramWebhookAlwaysAcknowledges(t *testing.T) {
	s, b := newTestServer(t)
	for name, body := range map[string]string{
		"malformed":  `{"update_id":`,
		"no message": `{"update_id": 3}`,
		"empty":      ``,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(body)))
			if rec.Code != http.StatusOK {
				t.Errorf("expected 200, got %d", rec.Code)
			}
			if out := decode(t, rec); out["ok"] != true {
				t.Errorf("expected ok:true, got %v", out)
			}
		})
	}
	if b.Len() != 0 {
		t.Errorf("nothing should be published, got %d", b.Len())
	}
}

func TestServer_WhatsAppWebhook(t *testing.T) {
	s, b := newTestServer(t)

	post := func(values url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/whatsapp", strings.NewReader(values.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := post(url.Values{"From": {"whatsapp:+234"}, "Body": {"Canada or UK?"}})
	if out := decode(t, rec); out["status"] != "received" {
		t.Errorf("expected status received, got %v", out)
	}
	if b.Len() != 1 {
		t.Fatalf("expected message on bus, got %d", b.Len())
	}

	rec = post(url.Values{"From": {"whatsapp:+234"}})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for incomplete form, got %d", rec.Code)
	}
	if b.Len() != 1 {
		t.Error("incomplete form must not be published")
	}
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	out := decode(t, rec)
	want := map[string]any{
		"status":    "healthy",
		"service":   "japa-genie-bot",
		"version":   "2.0",
		"bot_name":  "Japa Genie",
		"timestamp": "2026-05-01T12:00:00Z",
	}
	for k, v := range want {
		if out[k] != v {
			t.Errorf("%s = %v, want %v", k, out[k], v)
		}
	}
}

func TestServer_Stats(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	out := decode(t, rec)
	if out["status"] != "online" || out["bot"] != "Japa Genie" || out["version"] != "2.0" {
		t.Errorf("unexpected stats %v", out)
	}
	if out["visa_conversations_logged"] != float64(12) {
		t.Errorf("expected 12 logged, got %v", out["visa_conversations_logged"])
	}
	if out["active_retry_chains"] != float64(2) {
		t.Errorf("expected 2 chains, got %v", out["active_retry_chains"])
	}
	if out["last_updated"] != "2026-05-01T12:00:00Z" {
		t.Errorf("unexpected last_updated %v", out["last_updated"])
	}
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "japagenie_") {
		t.Errorf("expected japagenie metrics, got %q", rec.Body.String())
	}
}

func TestServer_Routing(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/webhook", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodPost, "/", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}
