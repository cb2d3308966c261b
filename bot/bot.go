// Package bot is the Telegram command front-end: subscriptions, monitor
// control, and status queries.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"citawatch/pkg/slots"
	"citawatch/storage"
)

const helpText = `Commands:
/subscribe - get notified when slots appear
/unsubscribe - stop notifications
/status - monitoring state and last check
/start_monitor [seconds] - start periodic checks (admin)
/stop_monitor - stop periodic checks (admin)
/set_interval <seconds> - change check interval (admin)
/list_subscribers - show subscribed chats (admin)
/test - run one check and send a test notification (admin)
/help - this message`

// API is the slice of the Telegram client the bot uses. *tgbotapi.BotAPI
// satisfies it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Store is the persistence the bot needs.
type Store interface {
	AddSubscriber(ctx context.Context, chatID int64, createdAt string) error
	RemoveSubscriber(ctx context.Context, chatID int64) error
	ListSubscribers(ctx context.Context) ([]int64, error)
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	IntervalSeconds(ctx context.Context, def int) (int, error)
	LastCheck(ctx context.Context) (*slots.CheckResult, error)
}

// Scheduler controls the recurring check job.
type Scheduler interface {
	Running() bool
	Start(ctx context.Context, interval time.Duration) error
	Stop()
	Restart(ctx context.Context, interval time.Duration) error
}

// Checker runs one on-demand check for /test.
type Checker interface {
	Once(ctx context.Context) (*slots.CheckResult, error)
}

// Notifier fans a message out to subscribers; /test uses it to verify the
// delivery path end to end.
type Notifier interface {
	Broadcast(ctx context.Context, chatIDs []int64, text string)
}

// Bot dispatches chat commands.
type Bot struct {
	api             API
	store           Store
	scheduler       Scheduler
	checker         Checker
	notifier        Notifier
	logger          *slog.Logger
	admins          map[int64]bool
	defaultInterval int
}

// New creates the bot. An empty admin list disables gating, which is only
// sensible for private development bots.
func New(api API, store Store, scheduler Scheduler, checker Checker, notifier Notifier, admins []int64, defaultInterval int, logger *slog.Logger) *Bot {
	adminSet := make(map[int64]bool, len(admins))
	for _, id := range admins {
		adminSet[id] = true
	}
	return &Bot{
		api:             api,
		store:           store,
		scheduler:       scheduler,
		checker:         checker,
		notifier:        notifier,
		logger:          logger,
		admins:          adminSet,
		defaultInterval: defaultInterval,
	}
}

// AutoRestore restarts monitoring after a process restart when it was
// enabled before shutdown and there is someone to notify.
func (b *Bot) AutoRestore(ctx context.Context) {
	enabled, err := b.store.Setting(ctx, storage.KeyMonitorEnabled)
	if err != nil {
		b.logger.Error("Failed to read monitor flag", "error", err)
		return
	}
	if enabled != "1" {
		return
	}
	subs, err := b.store.ListSubscribers(ctx)
	if err != nil {
		b.logger.Error("Failed to list subscribers", "error", err)
		return
	}
	if len(subs) == 0 {
		b.logger.Info("Monitoring enabled but no subscribers; not restoring")
		return
	}

	interval, err := b.store.IntervalSeconds(ctx, b.defaultInterval)
	if err != nil {
		b.logger.Error("Failed to read interval", "error", err)
		return
	}
	if err := b.scheduler.Start(ctx, time.Duration(interval)*time.Second); err != nil {
		b.logger.Error("Failed to restore monitoring", "error", err)
		return
	}
	b.logger.Info("Monitoring restored", "interval_seconds", interval, "subscribers", len(subs))
}

// Run consumes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Bot started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	b.logger.Info("Command received", "command", cmd, "chat_id", msg.Chat.ID)

	switch cmd {
	case "start":
		b.reply(msg.Chat.ID, "Appointment slot monitor.\n\n"+helpText)
	case "help":
		b.reply(msg.Chat.ID, helpText)
	case "status":
		b.reply(msg.Chat.ID, b.statusText(ctx))
	case "subscribe":
		b.subscribe(ctx, msg.Chat.ID)
	case "unsubscribe":
		b.unsubscribe(ctx, msg.Chat.ID)
	case "start_monitor":
		b.adminOnly(msg, func() { b.startMonitor(ctx, msg) })
	case "stop_monitor":
		b.adminOnly(msg, func() { b.stopMonitor(ctx, msg.Chat.ID) })
	case "set_interval":
		b.adminOnly(msg, func() { b.setInterval(ctx, msg) })
	case "list_subscribers":
		b.adminOnly(msg, func() { b.listSubscribers(ctx, msg.Chat.ID) })
	case "test":
		b.adminOnly(msg, func() { b.testCheck(ctx, msg.Chat.ID) })
	default:
		b.reply(msg.Chat.ID, "Unknown command. Try /help")
	}
}

func (b *Bot) adminOnly(msg *tgbotapi.Message, fn func()) {
	if !b.isAdmin(msg.From) {
		b.reply(msg.Chat.ID, "This command is restricted to admins.")
		return
	}
	fn()
}

func (b *Bot) isAdmin(user *tgbotapi.User) bool {
	if len(b.admins) == 0 {
		return true
	}
	return user != nil && b.admins[user.ID]
}

func (b *Bot) subscribe(ctx context.Context, chatID int64) {
	createdAt := time.Now().UTC().Format(slots.TimeFormat)
	if err := b.store.AddSubscriber(ctx, chatID, createdAt); err != nil {
		b.logger.Error("Failed to add subscriber", "chat_id", chatID, "error", err)
		b.reply(chatID, "Could not subscribe, try again later.")
		return
	}
	b.reply(chatID, "Subscribed. You will be notified when slots appear.")
}

func (b *Bot) unsubscribe(ctx context.Context, chatID int64) {
	if err := b.store.RemoveSubscriber(ctx, chatID); err != nil {
		b.logger.Error("Failed to remove subscriber", "chat_id", chatID, "error", err)
		b.reply(chatID, "Could not unsubscribe, try again later.")
		return
	}
	b.reply(chatID, "Unsubscribed. No further notifications.")
}

func (b *Bot) startMonitor(ctx context.Context, msg *tgbotapi.Message) {
	if b.scheduler.Running() {
		b.reply(msg.Chat.ID, "Monitoring is already running.")
		return
	}

	if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
		seconds, err := strconv.Atoi(args)
		if err != nil || seconds <= 0 {
			b.reply(msg.Chat.ID, "Usage: /start_monitor [seconds]")
			return
		}
		if seconds < storage.MinIntervalSeconds {
			seconds = storage.MinIntervalSeconds
		}
		if err := b.store.SetSetting(ctx, storage.KeyInterval, strconv.Itoa(seconds)); err != nil {
			b.logger.Error("Failed to store interval", "error", err)
		}
	}

	interval, err := b.store.IntervalSeconds(ctx, b.defaultInterval)
	if err != nil {
		b.logger.Error("Failed to read interval", "error", err)
		interval = b.defaultInterval
	}
	if err := b.scheduler.Start(ctx, time.Duration(interval)*time.Second); err != nil {
		b.reply(msg.Chat.ID, "Could not start monitoring: "+err.Error())
		return
	}
	if err := b.store.SetSetting(ctx, storage.KeyMonitorEnabled, "1"); err != nil {
		b.logger.Error("Failed to store monitor flag", "error", err)
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Monitoring started, checking every %d seconds.", interval))
}

func (b *Bot) stopMonitor(ctx context.Context, chatID int64) {
	if !b.scheduler.Running() {
		b.reply(chatID, "Monitoring is not running.")
		return
	}
	b.scheduler.Stop()
	if err := b.store.SetSetting(ctx, storage.KeyMonitorEnabled, "0"); err != nil {
		b.logger.Error("Failed to store monitor flag", "error", err)
	}
	b.reply(chatID, "Monitoring stopped.")
}

func (b *Bot) setInterval(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.TrimSpace(msg.CommandArguments())
	seconds, err := strconv.Atoi(args)
	if err != nil || seconds <= 0 {
		b.reply(msg.Chat.ID, "Usage: /set_interval <seconds>")
		return
	}
	floored := seconds
	if floored < storage.MinIntervalSeconds {
		floored = storage.MinIntervalSeconds
	}
	if err := b.store.SetSetting(ctx, storage.KeyInterval, strconv.Itoa(floored)); err != nil {
		b.logger.Error("Failed to store interval", "error", err)
		b.reply(msg.Chat.ID, "Could not save the interval, try again later.")
		return
	}

	if b.scheduler.Running() {
		if err := b.scheduler.Restart(ctx, time.Duration(floored)*time.Second); err != nil {
			b.reply(msg.Chat.ID, "Interval saved but restart failed: "+err.Error())
			return
		}
	}

	text := fmt.Sprintf("Interval set to %d seconds.", floored)
	if floored != seconds {
		text = fmt.Sprintf("Interval floored to the minimum of %d seconds.", floored)
	}
	b.reply(msg.Chat.ID, text)
}

func (b *Bot) listSubscribers(ctx context.Context, chatID int64) {
	subs, err := b.store.ListSubscribers(ctx)
	if err != nil {
		b.logger.Error("Failed to list subscribers", "error", err)
		b.reply(chatID, "Could not list subscribers.")
		return
	}
	if len(subs) == 0 {
		b.reply(chatID, "No subscribers.")
		return
	}
	lines := make([]string, 0, len(subs)+1)
	lines = append(lines, fmt.Sprintf("%d subscriber(s):", len(subs)))
	for _, id := range subs {
		lines = append(lines, strconv.FormatInt(id, 10))
	}
	b.reply(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) testCheck(ctx context.Context, chatID int64) {
	b.reply(chatID, "Running a check now, this can take a minute...")
	res, err := b.checker.Once(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Check failed (%s): %v", slots.Kind(err), err))
		return
	}
	verdict := "No slots found."
	if res.HasSlots {
		verdict = "Slots may be available!"
	}

	// Exercise the real delivery path so a broken bot token or blocked
	// chat shows up before a real alert needs to go out.
	var notified int
	subs, err := b.store.ListSubscribers(ctx)
	if err != nil {
		b.logger.Error("Failed to list subscribers", "error", err)
	} else if len(subs) > 0 {
		b.notifier.Broadcast(ctx, subs,
			fmt.Sprintf("Test notification.\n\n%s\n\nChecked: %s\n%s", verdict, res.CheckedAt, res.Summary))
		notified = len(subs)
	}

	b.reply(chatID, fmt.Sprintf("%s\n\nChecked: %s\n%s\n\nTest notification sent to %d subscriber(s).",
		verdict, res.CheckedAt, res.Summary, notified))
}

func (b *Bot) statusText(ctx context.Context) string {
	var sb strings.Builder

	if b.scheduler.Running() {
		interval, err := b.store.IntervalSeconds(ctx, b.defaultInterval)
		if err != nil {
			interval = b.defaultInterval
		}
		fmt.Fprintf(&sb, "Monitoring: running, every %d seconds\n", interval)
	} else {
		sb.WriteString("Monitoring: stopped\n")
	}

	if subs, err := b.store.ListSubscribers(ctx); err == nil {
		fmt.Fprintf(&sb, "Subscribers: %d\n", len(subs))
	}

	last, err := b.store.LastCheck(ctx)
	switch {
	case err != nil:
		sb.WriteString("Last check: unavailable\n")
	case last == nil:
		sb.WriteString("Last check: none yet\n")
	default:
		verdict := "no slots"
		if last.HasSlots {
			verdict = "slots available"
		}
		fmt.Fprintf(&sb, "Last check: %s (%s)\n", last.CheckedAt, verdict)
		if last.Summary != "" {
			fmt.Fprintf(&sb, "Page: %s\n", truncate(last.Summary, 120))
		}
	}

	if lastErr, err := b.store.Setting(ctx, storage.KeyLastError); err == nil && lastErr != "" {
		fmt.Fprintf(&sb, "Last error: %s\n", lastErr)
	}
	if until, err := b.store.Setting(ctx, storage.KeyCooldownUntil); err == nil && until != "" {
		if t, perr := time.Parse(time.RFC3339, until); perr == nil && time.Now().Before(t) {
			fmt.Fprintf(&sb, "Cooldown until: %s\n", until)
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send reply", "chat_id", chatID, "error", err)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
