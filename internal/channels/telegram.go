package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/scheduler"
)

// Commander runs a text command for an agent and returns the reply.
type Commander interface {
	Handle(ctx context.Context, agentID, text string) (string, error)
	AgentIDs() []string
}

// sender is the slice of the bot API the channel uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type TelegramConfig struct {
	Token        string
	AllowedIDs   []int64
	DefaultAgent string
	Commands     Commander
	Bus          *bus.Bus
	Logger       *slog.Logger
}

// TelegramChannel relays chat commands to agents and forwards their
// announcements, threats and resets to the chats that talked to it.
type TelegramChannel struct {
	token        string
	allowedIDs   map[int64]struct{}
	defaultAgent string
	commands     Commander
	eventBus     *bus.Bus
	logger       *slog.Logger
	bot          sender

	chatsMu sync.Mutex
	chats   map[int64]struct{}
}

func NewTelegramChannel(cfg TelegramConfig) *TelegramChannel {
	allowed := make(map[int64]struct{}, len(cfg.AllowedIDs))
	for _, id := range cfg.AllowedIDs {
		allowed[id] = struct{}{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:        cfg.Token,
		allowedIDs:   allowed,
		defaultAgent: cfg.DefaultAgent,
		commands:     cfg.Commands,
		eventBus:     cfg.Bus,
		logger:       logger.With("component", "telegram"),
		chats:        make(map[int64]struct{}),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot started", "user", bot.Self.UserName)

	if t.eventBus != nil {
		go t.forwardEvents(ctx)
	}

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// pollUpdates reads updates until ctx is done, the channel closes, or nothing
// arrives within 2.5x the long-poll timeout. The library blocks rather than
// closing the channel on a dead connection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				t.handleMessage(ctx, update.Message)
				continue
			}
			if update.CallbackQuery != nil {
				t.handleCallbackQuery(ctx, update.CallbackQuery)
			}
		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) allowed(u *tgbotapi.User) bool {
	if u == nil {
		return false
	}
	_, ok := t.allowedIDs[u.ID]
	return ok
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !t.allowed(msg.From) {
		if msg.From != nil {
			t.logger.Warn("telegram access denied", "user_id", msg.From.ID, "user_name", msg.From.UserName)
		}
		return
	}
	agentID, content := t.route(msg.Text)
	if content == "" {
		return
	}
	t.subscribe(msg.Chat.ID)

	reply, err := t.commands.Handle(ctx, agentID, content)
	if err != nil {
		t.logger.Info("telegram command failed", "agent_id", agentID, "error", err)
		t.reply(msg.Chat.ID, "Error: "+err.Error())
		return
	}
	if isStatus(content) {
		t.replyWithKeyboard(msg.Chat.ID, reply, agentKeyboard(agentID))
		return
	}
	t.reply(msg.Chat.ID, reply)
}

// route splits an optional "@agent" prefix from the command text.
func (t *TelegramChannel) route(text string) (agentID, content string) {
	content = strings.TrimSpace(text)
	agentID = t.defaultAgent
	if strings.HasPrefix(content, "@") {
		parts := strings.SplitN(content, " ", 2)
		agentID = strings.TrimPrefix(parts[0], "@")
		content = ""
		if len(parts) > 1 {
			content = strings.TrimSpace(parts[1])
		}
	}
	if agentID == "" && t.commands != nil {
		if ids := t.commands.AgentIDs(); len(ids) > 0 {
			agentID = ids[0]
		}
	}
	return agentID, content
}

func isStatus(content string) bool {
	f := strings.Fields(strings.TrimPrefix(content, "/"))
	return len(f) > 0 && strings.EqualFold(f[0], "status")
}

// handleCallbackQuery runs the command behind an inline button.
func (t *TelegramChannel) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if !t.allowed(query.From) {
		t.logger.Warn("telegram callback access denied", "query_id", query.ID)
		return
	}
	agentID, verb, err := parseCommandCallback(query.Data)
	if err != nil {
		return
	}
	if _, err := t.bot.Request(tgbotapi.NewCallback(query.ID, verb)); err != nil {
		t.logger.Warn("failed to answer callback", "error", err)
	}
	if query.Message == nil {
		return
	}
	reply, err := t.commands.Handle(ctx, agentID, verb)
	if err != nil {
		reply = "Error: " + err.Error()
	}
	t.reply(query.Message.Chat.ID, reply)
}

func agentKeyboard(agentID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Status", "cmd:"+agentID+":status"),
			tgbotapi.NewInlineKeyboardButtonData("History", "cmd:"+agentID+":history"),
			tgbotapi.NewInlineKeyboardButtonData("Stop", "cmd:"+agentID+":stop"),
		),
	)
}

// parseCommandCallback parses "cmd:agentID:verb".
func parseCommandCallback(data string) (agentID, verb string, err error) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "cmd:") {
		return "", "", fmt.Errorf("not a command callback")
	}
	parts := strings.SplitN(data[len("cmd:"):], ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid command callback %q", data)
	}
	return parts[0], parts[1], nil
}

func (t *TelegramChannel) subscribe(chatID int64) {
	t.chatsMu.Lock()
	t.chats[chatID] = struct{}{}
	t.chatsMu.Unlock()
}

// Chats lists chats that receive notifications, sorted.
func (t *TelegramChannel) Chats() []int64 {
	t.chatsMu.Lock()
	defer t.chatsMu.Unlock()
	out := make([]int64, 0, len(t.chats))
	for id := range t.chats {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *TelegramChannel) forwardEvents(ctx context.Context) {
	sub := t.eventBus.Subscribe("")
	defer t.eventBus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			text := formatNotification(ev)
			if text == "" {
				continue
			}
			for _, chatID := range t.Chats() {
				t.replyMarkdown(chatID, text)
			}
		}
	}
}

// formatNotification renders the events worth a chat message as MarkdownV2.
// Other events yield "".
func formatNotification(ev bus.Event) string {
	agent := "*" + escapeMarkdownV2(ev.AgentID) + "*"
	switch p := ev.Payload.(type) {
	case string:
		if ev.Topic != bus.TopicAnnounce {
			return ""
		}
		return agent + ": " + escapeMarkdownV2(p)
	case bus.ThreatEvent:
		what := p.Kind
		if p.Kind == scheduler.ThreatHostile {
			what = fmt.Sprintf("hostile at %.1f blocks", p.Distance)
		}
		return fmt.Sprintf("⚠️ %s: %s, health %s, %s", agent,
			escapeMarkdownV2(what),
			escapeMarkdownV2(fmt.Sprintf("%.0f", p.Health)),
			escapeMarkdownV2(p.Action))
	case bus.FaultEvent:
		if ev.Topic != bus.TopicSchedulerReset {
			return ""
		}
		return fmt.Sprintf("🚨 %s: emergency reset after %d errors: %s", agent,
			p.Consecutive, escapeMarkdownV2(p.Error))
	}
	return ""
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

func (t *TelegramChannel) replyWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram message with keyboard", "error", err)
	}
}

func (t *TelegramChannel) replyMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram markdown reply", "error", err)
	}
}

// escapeMarkdownV2 escapes _ * [ ] ( ) ~ ` > # + - = | { } . !
func escapeMarkdownV2(s string) string {
	const special = "_*[]()~`>#+-=|{}.!\\"
	var b strings.Builder
	b.Grow(len(s) * 2)
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
