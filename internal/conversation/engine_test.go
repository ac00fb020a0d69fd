package conversation

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"japagenie/internal/catalog"
	"japagenie/internal/domain"
)

// fixedRand always returns the same draw, letting tests pin a branch.
type fixedRand struct {
	f float64
	i int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(n int) int   { return r.i % n }

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func testConfig() catalog.Conversation {
	return catalog.Default().Conversation
}

func TestShouldRespond_ShortMessagesNeverAnswered(t *testing.T) {
	e := NewEngine(testConfig(), fixedRand{f: 0})
	for _, text := range []string{"", "hi", "visa help?", "  two   words  "} {
		for _, kind := range []domain.ChatKind{domain.KindPrivate, domain.KindGroup, domain.KindSupergroup} {
			if e.ShouldRespond(text, kind, true) {
				t.Errorf("ShouldRespond(%q, %s) = true, want false", text, kind)
			}
		}
	}
}

func TestShouldRespond_ShortMessagesAcrossSeeds(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		e := NewEngine(testConfig(), seeded(seed))
		if d := e.Decide("ok thanks", domain.KindPrivate, true); d.Respond {
			t.Fatalf("seed %d: short message answered", seed)
		}
	}
}

func TestShouldRespond_CommandsNeverAnswered(t *testing.T) {
	e := NewEngine(testConfig(), fixedRand{f: 0})
	if e.ShouldRespond("/visa tell me more please", domain.KindPrivate, true) {
		t.Error("commands must not be answered by the conversation engine")
	}
}

func TestResponseRate(t *testing.T) {
	e := NewEngine(testConfig(), fixedRand{})

	tests := []struct {
		name  string
		text  string
		kind  domain.ChatKind
		topic bool
		want  float64
	}{
		{"private statement", "the weather today was lovely", domain.KindPrivate, false, 0.8},
		{"private question capped", "what about the weather today", domain.KindPrivate, false, 0.9},
		{"group topic boosted", "my passport got stamped today", domain.KindGroup, true, 0.45},
		{"supergroup plain", "the weather today was lovely", domain.KindSupergroup, false, 0.25},
		{"supergroup question", "lovely weather today, right?", domain.KindSupergroup, false, 0.375},
		{"unknown kind default", "the weather today was lovely", domain.KindChannel, false, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.responseRate(tt.text, tt.kind, tt.topic)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("responseRate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldRespond_DrawAgainstRate(t *testing.T) {
	text := "the weather today was lovely"

	below := NewEngine(testConfig(), fixedRand{f: 0.79})
	if !below.ShouldRespond(text, domain.KindPrivate, false) {
		t.Error("draw below rate should respond")
	}
	above := NewEngine(testConfig(), fixedRand{f: 0.8})
	if above.ShouldRespond(text, domain.KindPrivate, false) {
		t.Error("draw at rate should not respond")
	}
}

func TestDecide_ReproducibleWithSeed(t *testing.T) {
	inputs := []struct {
		text  string
		kind  domain.ChatKind
		topic bool
	}{
		{"What is the IELTS requirement for Canada PR?", domain.KindPrivate, true},
		{"anyone watching the match tonight", domain.KindGroup, false},
		{"embassy appointment booked for monday", domain.KindSupergroup, true},
	}

	run := func() []domain.ResponseDecision {
		e := NewEngine(testConfig(), seeded(42))
		var out []domain.ResponseDecision
		for i := 0; i < 20; i++ {
			in := inputs[i%len(inputs)]
			out = append(out, e.Decide(in.text, in.kind, in.topic))
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("decision %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestDecide_TopicUsesDomainPool(t *testing.T) {
	cfg := testConfig()
	text := "What is the IELTS requirement for Canada PR?"

	responded := 0
	for seed := uint64(0); seed < 100; seed++ {
		e := NewEngine(cfg, seeded(seed))
		d := e.Decide(text, domain.KindPrivate, true)
		if !d.Respond {
			continue
		}
		responded++
		if !fromPool(d.Text, cfg.Templates.Topic) {
			t.Errorf("seed %d: reply %q not from topic pool", seed, d.Text)
		}
		if fromPool(d.Text, cfg.Templates.General) {
			t.Errorf("seed %d: reply %q came from general pool", seed, d.Text)
		}
	}
	if responded == 0 {
		t.Fatal("expected at least one response across 100 seeds at rate 0.9")
	}
}

func TestCompose_GeneralPoolWithoutTopic(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(cfg, seeded(7))
	for i := 0; i < 20; i++ {
		reply := e.Compose(false)
		if !fromPool(reply, cfg.Templates.General) {
			t.Errorf("reply %q not from general pool", reply)
		}
	}
}

func TestCompose_ThinkerPrefix(t *testing.T) {
	cfg := testConfig()

	with := NewEngine(cfg, fixedRand{f: 0.1, i: 0})
	reply := with.Compose(false)
	if !strings.HasPrefix(reply, cfg.Thinkers[0]) {
		t.Errorf("expected thinker prefix, got %q", reply)
	}

	without := NewEngine(cfg, fixedRand{f: 0.5, i: 0})
	reply = without.Compose(false)
	if reply != cfg.Templates.General[0] {
		t.Errorf("expected bare first template, got %q", reply)
	}
}

func TestHumanDelay_WithinRange(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(cfg, seeded(3))
	for i := 0; i < 100; i++ {
		d := e.HumanDelay()
		if d < cfg.Delay.Min || d >= cfg.Delay.Max {
			t.Fatalf("delay %v outside [%v, %v)", d, cfg.Delay.Min, cfg.Delay.Max)
		}
	}
}

func TestHumanDelay_EmptyRange(t *testing.T) {
	cfg := testConfig()
	cfg.Delay = catalog.DelayRange{Min: time.Second, Max: time.Second}
	e := NewEngine(cfg, fixedRand{f: 0.9})
	if d := e.HumanDelay(); d != time.Second {
		t.Errorf("expected 1s, got %v", d)
	}
}

func fromPool(reply string, pool []string) bool {
	lower := strings.ToLower(reply)
	for _, tpl := range pool {
		if strings.Contains(lower, strings.ToLower(tpl)) {
			return true
		}
	}
	return false
}
