// Package notification provides the Telegram control plane of the daemon.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/raykavin/trailbot/core"
	"github.com/raykavin/trailbot/logger"
	"github.com/raykavin/trailbot/trailing"
)

const (
	pollingTimeout = 10 * time.Second
	requestTimeout = 15 * time.Second
)

// Telegram is the single-operator control surface. Every update is filtered
// by the poller middleware, so handlers only ever see the authorized user.
type Telegram struct {
	client   *tb.Bot
	userID   int64
	pause    *trailing.PauseFlag
	store    core.StateStore
	exchange core.Exchange
	pairs    []core.Pair
	mode     string
	log      logger.Logger
}

// Option is a function that configures a telegram instance.
type Option func(t *Telegram)

// NewTelegram creates and initializes the Telegram service.
func NewTelegram(
	token string,
	userID int64,
	pollInterval time.Duration,
	pause *trailing.PauseFlag,
	store core.StateStore,
	exchange core.Exchange,
	pairs []core.Pair,
	mode string,
	log logger.Logger,
	options ...Option,
) (*Telegram, error) {
	poller := &tb.LongPoller{Timeout: pollInterval}
	if poller.Timeout <= 0 {
		poller.Timeout = pollingTimeout
	}

	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     token,
		Poller:    newAuthMiddleware(poller, userID, log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	bot := &Telegram{
		client:   client,
		userID:   userID,
		pause:    pause,
		store:    store,
		exchange: exchange,
		pairs:    pairs,
		mode:     mode,
		log:      log,
	}

	for _, option := range options {
		option(bot)
	}

	registerHandlers(client, bot)

	return bot, nil
}

// newAuthMiddleware drops every update that does not come from the operator.
func newAuthMiddleware(poller *tb.LongPoller, userID int64, log logger.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			return false
		}

		if u.Message.Sender.ID == userID {
			return true
		}

		log.Errorf("unauthorized user %d", u.Message.Sender.ID)
		return false
	})
}

// setupCommands configures available bot commands.
func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/status", Description: "Check bot status"},
		{Text: "/pause", Description: "Pause trading sessions"},
		{Text: "/resume", Description: "Resume trading sessions"},
		{Text: "/market", Description: "Show price and balances per pair"},
		{Text: "/positions", Description: "List open trailing positions"},
	})
}

// registerHandlers registers all command handlers.
func registerHandlers(client *tb.Bot, bot *Telegram) {
	client.Handle("/help", bot.HelpHandle)
	client.Handle("/status", bot.StatusHandle)
	client.Handle("/pause", bot.PauseHandle)
	client.Handle("/resume", bot.ResumeHandle)
	client.Handle("/market", bot.MarketHandle)
	client.Handle("/positions", bot.PositionsHandle)
}

// Start begins the long-polling loop and announces the bot to the operator.
func (t *Telegram) Start() {
	go t.client.Start()
	t.Notify(fmt.Sprintf("🤖 Trailing bot started\nMode: `%s`\nPairs: `%s`", t.mode, pairNames(t.pairs)))
}

// Stop terminates the long-polling loop.
func (t *Telegram) Stop() {
	t.client.Stop()
}

// Notify sends a message to the operator.
func (t *Telegram) Notify(text string) {
	if _, err := t.client.Send(&tb.User{ID: t.userID}, text); err != nil {
		t.log.WithError(err).Error("failed to send notification")
	}
}

func (t *Telegram) sendMessage(to *tb.User, text string) {
	if _, err := t.client.Send(to, text); err != nil {
		t.log.WithError(err).Error("failed to send message")
	}
}

// Command handlers
// ----------------

// HelpHandle displays available commands.
func (t *Telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.log.WithError(err).Error("failed to get commands")
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("%s - %s", command.Text, command.Description))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// StatusHandle displays the current run state and open position count.
func (t *Telegram) StatusHandle(m *tb.Message) {
	status := "running"
	if t.pause.Paused() {
		status = "paused"
	}

	open := 0
	if state, err := t.store.Load(); err == nil {
		open = state.Positions()
	}

	t.sendMessage(m.Sender, fmt.Sprintf("Status: `%s`\nMode: `%s`\nPairs: `%s`\nOpen positions: `%d`",
		status, t.mode, pairNames(t.pairs), open))
}

// PauseHandle suspends trading sessions. The pause survives until /resume.
func (t *Telegram) PauseHandle(m *tb.Message) {
	if t.pause.Paused() {
		t.sendMessage(m.Sender, "Bot is already paused.")
		return
	}

	t.pause.Pause()
	t.log.Info("bot paused by operator")
	t.sendMessage(m.Sender, "⏸ Bot paused. Sessions are skipped until /resume.")
}

// ResumeHandle re-enables trading sessions.
func (t *Telegram) ResumeHandle(m *tb.Message) {
	if !t.pause.Paused() {
		t.sendMessage(m.Sender, "Bot is already running.")
		return
	}

	t.pause.Resume()
	t.log.Info("bot resumed by operator")
	t.sendMessage(m.Sender, "▶️ Bot resumed.")
}

// MarketHandle shows last price and balances for one pair or all of them.
func (t *Telegram) MarketHandle(m *tb.Message) {
	pairs, err := t.selectPairs(m.Payload)
	if err != nil {
		t.sendMessage(m.Sender, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	balance, err := t.exchange.Balance(ctx)
	if err != nil {
		t.log.WithError(err).Error("failed to get balance")
		t.sendMessage(m.Sender, "Balance unavailable, try again later.")
		return
	}

	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Pair", "Price", "ATR", "Base", "Quote"})
	table.SetBorder(false)

	for _, pair := range pairs {
		price, err := t.exchange.LastPrice(ctx, pair.Primary)
		if err != nil {
			t.log.WithError(err).Warnf("price unavailable for %s", pair.Name)
			continue
		}

		atr := "-"
		if value, err := t.exchange.CurrentATR(ctx, pair); err == nil {
			atr = value.StringFixed(pair.PriceDecimals)
		}

		table.Append([]string{
			pair.Name,
			price.StringFixed(pair.PriceDecimals),
			atr,
			balance[pair.Base].String(),
			balance[pair.Quote].String(),
		})
	}
	table.Render()

	t.sendMessage(m.Sender, "*MARKET*\n```\n"+sb.String()+"```")
}

// PositionsHandle lists the open positions of one pair or all of them.
func (t *Telegram) PositionsHandle(m *tb.Message) {
	pairs, err := t.selectPairs(m.Payload)
	if err != nil {
		t.sendMessage(m.Sender, err.Error())
		return
	}

	state, err := t.store.Load()
	if err != nil {
		t.log.WithError(err).Error("failed to load state")
		t.sendMessage(m.Sender, "State unavailable, try again later.")
		return
	}

	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Pair", "Side", "State", "Entry", "Next", "Stop", "P&L %"})
	table.SetBorder(false)

	rows := 0
	for _, pair := range pairs {
		for _, pos := range state[pair.Name] {
			// Armed positions show the activation price they are waiting
			// on; Active ones show the trailing price and the live P&L a
			// fill at the stop would realize.
			next := pos.ActivationPrice
			pnl := "-"
			if pos.Active() {
				next = *pos.TrailingPrice
				pnl = pos.LivePNL().StringFixed(2)
			}

			table.Append([]string{
				pair.Name,
				string(pos.Side),
				positionState(pos),
				pos.EntryPrice.StringFixed(pair.PriceDecimals),
				next.StringFixed(pair.PriceDecimals),
				stopColumn(pos, pair),
				pnl,
			})
			rows++
		}
	}

	if rows == 0 {
		t.sendMessage(m.Sender, "No open positions.")
		return
	}

	table.Render()
	t.sendMessage(m.Sender, "*POSITIONS*\n```\n"+sb.String()+"```")
}

// Helper methods
// --------------

// selectPairs resolves an optional pair argument against the configured set.
func (t *Telegram) selectPairs(payload string) ([]core.Pair, error) {
	name := strings.ToUpper(strings.TrimSpace(payload))
	if name == "" {
		return t.pairs, nil
	}

	for _, pair := range t.pairs {
		if pair.Name == name {
			return []core.Pair{pair}, nil
		}
	}

	return nil, fmt.Errorf("unknown pair `%s`, configured: `%s`", name, pairNames(t.pairs))
}

func stopColumn(pos *core.TrailingPosition, pair core.Pair) string {
	if pos.StopPrice == nil {
		return "-"
	}
	return pos.StopPrice.StringFixed(pair.PriceDecimals)
}

func positionState(pos *core.TrailingPosition) string {
	if pos.Active() {
		return "active"
	}
	return "armed"
}

func pairNames(pairs []core.Pair) string {
	names := make([]string, len(pairs))
	for i, pair := range pairs {
		names[i] = pair.Name
	}
	return strings.Join(names, ", ")
}

var _ core.Notifier = (*Telegram)(nil)
