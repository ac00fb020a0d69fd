package feedback

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"japagenie/internal/domain"
	"japagenie/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

// blockingSender never answers until release is closed.
type blockingSender struct{ release chan struct{} }

func (b *blockingSender) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	<-b.release
	return tgbotapi.Message{}, nil
}

// stallingSink holds every alert until its context ends.
type stallingSink struct{}

func (stallingSink) Notify(ctx context.Context, _ domain.FeedbackEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

type failingSink struct{ calls int }

func (s *failingSink) Notify(context.Context, domain.FeedbackEvent) error {
	s.calls++
	return errors.New("channel unreachable")
}

func testEvent(text string) domain.FeedbackEvent {
	return domain.FeedbackEvent{
		SenderID:   "7",
		SenderName: "Ada",
		Text:       text,
		Keywords:   []string{"visa", "embassy"},
		ChatID:     "-100",
		ChatTitle:  "Japa Squad",
		ChatKind:   domain.KindGroup,
		Channel:    "telegram",
		Timestamp:  time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
	}
}

func TestLog_AppendAndCount(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "nested", "visa_intelligence.jsonl"))

	if l.Count() != 0 {
		t.Fatal("absent log should count 0")
	}
	for i := 0; i < 3; i++ {
		if err := l.Append(testEvent(fmt.Sprintf("message %d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if l.Count() != 3 {
		t.Errorf("expected 3, got %d", l.Count())
	}
}

func TestLog_LineFormat(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "log.jsonl"))
	if err := l.Append(testEvent("my visa interview is tomorrow")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &raw); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	for _, key := range []string{"user_id", "user_name", "text", "keywords", "chat_id", "chat_title", "chat_type", "timestamp"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
}

func TestLog_ConcurrentAppendsStayWhole(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "log.jsonl"))
	long := strings.Repeat("immigration ", 500)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Append(testEvent(fmt.Sprintf("%d %s", i, long)))
		}(i)
	}
	wg.Wait()

	f, err := os.Open(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lines := 0
	for sc.Scan() {
		var ev domain.FeedbackEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %d is not a whole event: %v", lines, err)
		}
		lines++
	}
	if lines != 40 {
		t.Errorf("expected 40 lines, got %d", lines)
	}
}

func TestFormatAlert(t *testing.T) {
	text := strings.Repeat("a", 250)
	got := FormatAlert(testEvent(text))

	for _, want := range []string{
		"🔔 **VISA INTELLIGENCE ALERT**",
		"👤 User: Ada",
		"📝 Keywords: visa, embassy",
		"🏷️ Chat: Japa Squad",
		"🕐 Time: 2024-05-01 10:30:00",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("alert missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, strings.Repeat("a", 200)+"...") || strings.Contains(got, strings.Repeat("a", 201)) {
		t.Error("message excerpt should be truncated to 200 characters")
	}
}

func TestExcerpt_RuneSafe(t *testing.T) {
	if got := excerpt("ñññ", 2); got != "ññ" {
		t.Errorf("expected rune truncation, got %q", got)
	}
	if got := excerpt("short", 200); got != "short" {
		t.Errorf("expected unchanged, got %q", got)
	}
}

func TestTelegramSink_Destination(t *testing.T) {
	bot := &fakeSender{}

	if err := NewTelegramSink(bot, "@JapaGenieFeedback", "").Notify(context.Background(), testEvent("visa")); err != nil {
		t.Fatal(err)
	}
	if err := NewTelegramSink(bot, "-100123", "").Notify(context.Background(), testEvent("visa")); err != nil {
		t.Fatal(err)
	}

	byName := bot.sent[0].(tgbotapi.MessageConfig)
	if byName.ChannelUsername != "@JapaGenieFeedback" || byName.ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("unexpected channel message %+v", byName.BaseChat)
	}
	byID := bot.sent[1].(tgbotapi.MessageConfig)
	if byID.ChatID != -100123 {
		t.Errorf("expected chat id -100123, got %d", byID.ChatID)
	}
}

func TestRelay_SinkOutageStillLogs(t *testing.T) {
	sink := &failingSink{}
	l := NewLog(filepath.Join(t.TempDir(), "log.jsonl"))
	r := NewRelay(RelayConfig{Sink: sink, Log: l, Logger: testLogger()})

	msg := domain.InboundMessage{
		Channel:  "telegram",
		ChatID:   "42",
		Kind:     domain.KindPrivate,
		SenderID: "7",
		Text:     "Schengen visa help please",
	}
	r.Observe(context.Background(), msg, domain.TopicMatch{"visa", "schengen"})
	r.Wait()

	if sink.calls != 1 {
		t.Errorf("expected sink to be tried once, got %d", sink.calls)
	}
	if r.Count() != 1 {
		t.Errorf("expected the event to be logged despite sink failure, got %d", r.Count())
	}
}

func TestRelay_LogFailureDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	// A directory at the log path makes every append fail.
	path := filepath.Join(dir, "blocked")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	bot := &fakeSender{}
	r := NewRelay(RelayConfig{
		Sink:   NewTelegramSink(bot, "@JapaGenieFeedback", ""),
		Log:    NewLog(path),
		Logger: testLogger(),
	})

	r.Relay(context.Background(), testEvent("work permit"))
	r.Wait()

	if len(bot.sent) != 1 {
		t.Errorf("sink should still receive the alert, got %d sends", len(bot.sent))
	}
}

func TestRelay_NoEffectsConfigured(t *testing.T) {
	r := NewRelay(RelayConfig{Logger: testLogger()})
	r.Relay(context.Background(), testEvent("visa"))
	if r.Count() != 0 {
		t.Error("expected 0 without a log")
	}
}

func TestTelegramSink_StalledSendHonorsContext(t *testing.T) {
	bot := &blockingSender{release: make(chan struct{})}
	defer close(bot.release)
	sink := NewTelegramSink(bot, "@JapaGenieFeedback", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sink.Notify(ctx, testEvent("visa"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Notify returned after %v", elapsed)
	}
}

func TestRelay_StalledSinkDoesNotBlockCaller(t *testing.T) {
	l := NewLog(filepath.Join(t.TempDir(), "log.jsonl"))
	r := NewRelay(RelayConfig{
		Sink:         stallingSink{},
		Log:          l,
		AlertTimeout: 100 * time.Millisecond,
		Logger:       testLogger(),
	})
	before := metrics.RelayFailures("sink").Value()

	start := time.Now()
	r.Relay(context.Background(), testEvent("embassy appointment"))
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Relay blocked for %v", elapsed)
	}
	if r.Count() != 1 {
		t.Errorf("expected the event logged immediately, got %d", r.Count())
	}

	r.Wait()
	if got := metrics.RelayFailures("sink").Value(); got != before+1 {
		t.Errorf("expected timed-out alert counted as a failure, got %d", got-before)
	}
}

func TestRelay_AlertSurvivesCallerCancellation(t *testing.T) {
	bot := &fakeSender{}
	r := NewRelay(RelayConfig{Sink: NewTelegramSink(bot, "@JapaGenieFeedback", ""), Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	r.Relay(ctx, testEvent("work permit"))
	cancel()
	r.Wait()

	bot.mu.Lock()
	defer bot.mu.Unlock()
	if len(bot.sent) != 1 {
		t.Errorf("expected the alert to be sent after the caller returned, got %d", len(bot.sent))
	}
}
