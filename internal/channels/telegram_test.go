package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/forager/internal/bus"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type fakeCommander struct {
	calls []string
	err   error
}

func (c *fakeCommander) Handle(_ context.Context, agentID, text string) (string, error) {
	c.calls = append(c.calls, agentID+"|"+text)
	if c.err != nil {
		return "", c.err
	}
	return "ok " + text, nil
}

func (c *fakeCommander) AgentIDs() []string { return []string{"alpha", "beta"} }

func newTestChannel(cmd Commander) (*TelegramChannel, *fakeSender) {
	ch := NewTelegramChannel(TelegramConfig{
		Token:        "fake",
		AllowedIDs:   []int64{42},
		DefaultAgent: "alpha",
		Commands:     cmd,
	})
	s := &fakeSender{}
	ch.bot = s
	return ch, s
}

func message(from int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text: text,
		From: &tgbotapi.User{ID: from, UserName: "u"},
		Chat: &tgbotapi.Chat{ID: from * 10},
	}
}

func TestHandleMessage_RoutesToDefaultAgent(t *testing.T) {
	cmd := &fakeCommander{}
	ch, s := newTestChannel(cmd)

	ch.handleMessage(context.Background(), message(42, "gather 5 wood"))
	if len(cmd.calls) != 1 || cmd.calls[0] != "alpha|gather 5 wood" {
		t.Fatalf("calls = %v", cmd.calls)
	}
	msgs := s.messages()
	if len(msgs) != 1 || msgs[0].Text != "ok gather 5 wood" || msgs[0].ChatID != 420 {
		t.Fatalf("messages = %+v", msgs)
	}
	if got := ch.Chats(); len(got) != 1 || got[0] != 420 {
		t.Fatalf("chats = %v", got)
	}
}

func TestHandleMessage_AgentPrefix(t *testing.T) {
	cmd := &fakeCommander{}
	ch, _ := newTestChannel(cmd)

	ch.handleMessage(context.Background(), message(42, "@beta explore"))
	ch.handleMessage(context.Background(), message(42, "@beta"))
	if len(cmd.calls) != 1 || cmd.calls[0] != "beta|explore" {
		t.Fatalf("calls = %v", cmd.calls)
	}
}

func TestHandleMessage_DeniesUnknownUsers(t *testing.T) {
	cmd := &fakeCommander{}
	ch, s := newTestChannel(cmd)

	ch.handleMessage(context.Background(), message(7, "stop"))
	if len(cmd.calls) != 0 || len(s.messages()) != 0 {
		t.Fatalf("denied user reached commands: calls=%v sent=%d", cmd.calls, len(s.messages()))
	}
	if len(ch.Chats()) != 0 {
		t.Fatal("denied user must not subscribe")
	}
}

func TestHandleMessage_ErrorAndStatusKeyboard(t *testing.T) {
	cmd := &fakeCommander{err: errors.New("unknown command: \"dance\"")}
	ch, s := newTestChannel(cmd)
	ch.handleMessage(context.Background(), message(42, "dance"))
	if msgs := s.messages(); len(msgs) != 1 || !strings.HasPrefix(msgs[0].Text, "Error: ") {
		t.Fatalf("messages = %+v", msgs)
	}

	cmd.err = nil
	ch.handleMessage(context.Background(), message(42, "/status"))
	msgs := s.messages()
	last := msgs[len(msgs)-1]
	kb, ok := last.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 3 {
		t.Fatalf("status reply should carry a keyboard, got %#v", last.ReplyMarkup)
	}
	if data := kb.InlineKeyboard[0][2].CallbackData; data == nil || *data != "cmd:alpha:stop" {
		t.Fatalf("stop button data = %v", data)
	}
}

func TestHandleCallbackQuery(t *testing.T) {
	cmd := &fakeCommander{}
	ch, s := newTestChannel(cmd)

	q := &tgbotapi.CallbackQuery{
		ID:      "q1",
		From:    &tgbotapi.User{ID: 42},
		Data:    "cmd:beta:history",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 99}},
	}
	ch.handleCallbackQuery(context.Background(), q)
	if len(cmd.calls) != 1 || cmd.calls[0] != "beta|history" {
		t.Fatalf("calls = %v", cmd.calls)
	}
	if s.requests != 1 {
		t.Fatalf("expected callback answer, got %d requests", s.requests)
	}
	if msgs := s.messages(); len(msgs) != 1 || msgs[0].ChatID != 99 {
		t.Fatalf("messages = %+v", msgs)
	}

	q.From = &tgbotapi.User{ID: 1}
	ch.handleCallbackQuery(context.Background(), q)
	if len(cmd.calls) != 1 {
		t.Fatal("callback from a denied user must be ignored")
	}
}

func TestParseCommandCallback(t *testing.T) {
	agent, verb, err := parseCommandCallback("cmd:alpha:status")
	if err != nil || agent != "alpha" || verb != "status" {
		t.Fatalf("got %q %q %v", agent, verb, err)
	}
	for _, bad := range []string{"", "hitl:x:approve", "cmd:alpha", "cmd::status", "cmd:alpha:"} {
		if _, _, err := parseCommandCallback(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestFormatNotification(t *testing.T) {
	got := formatNotification(bus.Event{Topic: bus.TopicAnnounce, AgentID: "alpha", Payload: "Mined iron_ore."})
	if got != `*alpha*: Mined iron\_ore\.` {
		t.Fatalf("announce = %q", got)
	}

	got = formatNotification(bus.Event{Topic: bus.TopicSchedulerThreat, AgentID: "alpha", Payload: bus.ThreatEvent{Kind: "hostile", Distance: 4.5, Health: 12, Action: "evade"}})
	if !strings.Contains(got, `hostile at 4\.5 blocks`) || !strings.Contains(got, "evade") {
		t.Fatalf("threat = %q", got)
	}

	got = formatNotification(bus.Event{Topic: bus.TopicSchedulerReset, AgentID: "alpha", Payload: bus.FaultEvent{Error: "boom", Consecutive: 5}})
	if !strings.Contains(got, "after 5 errors: boom") {
		t.Fatalf("reset = %q", got)
	}

	if got := formatNotification(bus.Event{Topic: bus.TopicSchedulerFault, Payload: bus.FaultEvent{}}); got != "" {
		t.Fatalf("fault should not notify, got %q", got)
	}
	if got := formatNotification(bus.Event{Topic: bus.TopicTaskStarted, Payload: bus.TaskEvent{}}); got != "" {
		t.Fatalf("task start should not notify, got %q", got)
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	if got := escapeMarkdownV2("a_b*c(1).!"); got != `a\_b\*c\(1\)\.\!` {
		t.Fatalf("escape = %q", got)
	}
}
