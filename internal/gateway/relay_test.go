package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"japagenie/internal/catalog"
	"japagenie/internal/command"
	"japagenie/internal/conversation"
	"japagenie/internal/domain"
	"japagenie/internal/feedback"
	"japagenie/internal/topic"
)

// stalledBotAPI answers getMe and holds every sendMessage until release
// is closed.
func stalledBotAPI(t *testing.T, release <-chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Genie","username":"japagenie_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"channel"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestPipeline_StalledAlertDoesNotDelayReply(t *testing.T) {
	release := make(chan struct{})
	srv := stalledBotAPI(t, release)
	defer srv.Close()

	bot, err := tgbotapi.NewBotAPIWithClient("123:abc", srv.URL+"/bot%s/%s", &http.Client{})
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	relay := feedback.NewRelay(feedback.RelayConfig{
		Sink:   feedback.NewTelegramSink(bot, "@JapaGenieFeedback", ""),
		Log:    feedback.NewLog(filepath.Join(t.TempDir(), "log.jsonl")),
		Logger: testLogger(),
	})
	defer relay.Wait()
	defer close(release)

	cat := catalog.Default()
	replies := &fakeChannel{name: "telegram"}
	p := NewPipeline(PipelineConfig{
		Detector: topic.NewDetector(cat.Topics),
		Engine:   conversation.NewEngine(cat.Conversation, fixedRand{f: 0.99}),
		Router:   command.NewRouter(cat),
		Relay:    relay,
		Telegram: replies,
		Logger:   testLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	p.Handle(ctx, telegramMsg(domain.KindPrivate, "/visa"))
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Handle returned after %v while the alert was stalled", elapsed)
	}

	sent := replies.Sent()
	if len(sent) != 1 || sent[0].text != cat.Commands["/visa"] {
		t.Fatalf("expected the /visa reply, got %+v", sent)
	}
	if relay.Count() != 1 {
		t.Errorf("expected the topic logged, got %d", relay.Count())
	}
}
