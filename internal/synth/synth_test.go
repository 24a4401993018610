package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/basket/forager/internal/capability"
	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/ratequeue"
	"github.com/basket/forager/internal/world"
)

type stubGen struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (s *stubGen) Generate(_ context.Context, _, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	return s.reply, s.err
}

func buildTask() goal.Task {
	t := goal.NewTask(goal.BuildParams{Structure: "tower", Size: 3}, 5, time.Now(), 10*time.Minute)
	t.Context.Description = "build a lookout tower"
	return t
}

func TestSynthesize_FencedPlan(t *testing.T) {
	gen := &stubGen{reply: "Sure!\n```json\n{\"name\":\"tower\",\"steps\":[{\"action\":\"gather_wood\",\"params\":{\"amount\":6}},{\"action\":\"build\"}]}\n```"}
	s := New(Config{Gen: gen})
	sc := capability.SynthesisContext{
		Known:    []string{"build", "gather_wood"},
		Snapshot: world.Snapshot{Health: 18, Inventory: map[string]int{"oak_log": 2}},
	}
	c, err := s.Synthesize(context.Background(), buildTask(), sc)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	seq, ok := c.(*capability.Sequence)
	if !ok {
		t.Fatalf("capability = %T", c)
	}
	if seq.Name != "tower" || len(seq.Steps) != 2 || seq.Steps[0].Action != "gather_wood" {
		t.Fatalf("sequence = %+v", seq)
	}
	for _, want := range []string{"lookout tower", "Allowed actions: build, gather_wood", "oak_log x2"} {
		if !strings.Contains(gen.prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, gen.prompt)
		}
	}
}

func TestSynthesize_RejectsUnknownAction(t *testing.T) {
	gen := &stubGen{reply: `{"steps":[{"action":"teleport"}]}`}
	s := New(Config{Gen: gen})
	_, err := s.Synthesize(context.Background(), buildTask(), capability.SynthesisContext{Known: []string{"build"}})
	var pe *PlanError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PlanError", err)
	}
}

func TestSynthesize_RejectsSchemaViolation(t *testing.T) {
	for _, reply := range []string{
		`{"steps":[]}`,
		`{"name":"x"}`,
		`{"steps":[{"params":{}}]}`,
		"no json here",
	} {
		s := New(Config{Gen: &stubGen{reply: reply}})
		if _, err := s.Synthesize(context.Background(), buildTask(), capability.SynthesisContext{}); err == nil {
			t.Fatalf("reply %q accepted", reply)
		}
	}
}

func TestSynthesize_DisabledDeclines(t *testing.T) {
	s := New(Config{})
	c, err := s.Synthesize(context.Background(), buildTask(), capability.SynthesisContext{})
	if c != nil || err != nil {
		t.Fatalf("got %v, %v; want nil, nil", c, err)
	}
}

func TestSynthesize_TerminalErrorNotRetried(t *testing.T) {
	gen := &stubGen{err: errors.New("403 forbidden")}
	s := New(Config{Gen: gen, Queue: ratequeue.New(ratequeue.Config{BaseDelay: time.Millisecond})})
	if _, err := s.Synthesize(context.Background(), buildTask(), capability.SynthesisContext{}); err == nil {
		t.Fatal("expected error")
	}
	if gen.calls != 1 {
		t.Fatalf("calls = %d, want 1", gen.calls)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"b\":2}\n```":     `{"b":2}`,
		`prefix {"c":"}"} suffix`: `{"c":"}"}`,
		`nothing`:                 ``,
	}
	for in, want := range cases {
		if got := extractJSON(in); got != want {
			t.Fatalf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}
