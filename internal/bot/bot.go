// Package bot is the conversation layer: it turns user messages into state
// machine moves, wallet operations and swap submissions.
package bot

import (
	"context"
	"fmt"
	"math/big"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/klingon-exchange/swapbot/internal/apperr"
	"github.com/klingon-exchange/swapbot/internal/backend"
	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/evm"
	"github.com/klingon-exchange/swapbot/internal/session"
	"github.com/klingon-exchange/swapbot/internal/storage"
	"github.com/klingon-exchange/swapbot/internal/swap"
	"github.com/klingon-exchange/swapbot/internal/wallet"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// Custody creates and imports wallets.
type Custody interface {
	Create(families []chain.Family) (*wallet.Bundle, error)
	ImportFromPrivateKey(ctx context.Context, secret string, family chain.Family, opts *wallet.ImportOptions) (*wallet.Record, error)
	ImportFromMnemonic(phrase string, family chain.Family) (*wallet.Record, error)
	Account(rec *wallet.Record) (wallet.Account, error)
	Network() chain.Network
}

// Users stores accounts.
type Users interface {
	CreateUser(ctx context.Context, userID, passwordHash string) error
	GetUser(ctx context.Context, userID string) (*storage.User, error)
}

// WalletStore persists wallets encrypted under the user's password.
type WalletStore interface {
	Save(ctx context.Context, userID string, rec *wallet.Record, password string) error
	LoadAll(ctx context.Context, userID, password string) ([]*wallet.Record, error)
	List(ctx context.Context, userID string) ([]*storage.WalletInfo, error)
	Reencrypt(ctx context.Context, userID, oldPassword, newPassword string) error
	Delete(ctx context.Context, userID string, walletID int64) error
}

// Swapper validates, quotes and submits swaps.
type Swapper interface {
	AmountBand(ctx context.Context, network string, from, to *chain.Asset) swap.Band
	ValidateAmount(ctx context.Context, network string, from, to *chain.Asset, input string) (*big.Int, error)
	Quote(ctx context.Context, intent *session.SwapIntent) (*swap.QuoteResult, error)
	Submit(ctx context.Context, userID string, st *session.State) (*swap.Result, error)
}

// AddressReader reads Bitcoin address balances.
type AddressReader interface {
	GetAddressInfo(ctx context.Context, address string) (*backend.AddressInfo, error)
}

// BalanceReader reads EVM balances.
type BalanceReader interface {
	Chains() []string
	ForChain(ctx context.Context, chainID, address string) ([]evm.Balance, error)
}

// Message is one inbound user message.
type Message struct {
	UserID string
	Text   string
}

// Config holds bot configuration.
type Config struct {
	// MessagesPerSecond and Burst size the per-user token bucket.
	MessagesPerSecond float64
	Burst             int
	// TurnTimeout bounds the work done for one message.
	TurnTimeout time.Duration
	// CommandPrefix starts a command, "/" by default.
	CommandPrefix string
}

// DefaultConfig returns the default bot configuration.
func DefaultConfig() *Config {
	return &Config{
		MessagesPerSecond: 1,
		Burst:             5,
		TurnTimeout:       90 * time.Second,
		CommandPrefix:     "/",
	}
}

// Deps are the services the bot drives.
type Deps struct {
	Sessions *session.Manager
	Machine  *session.Machine
	Custody  Custody
	Users    Users
	Wallets  WalletStore
	Swaps    Swapper
	// Balances is optional; wallet details skip balances without it.
	Balances BalanceReader
	// Bitcoin is optional, like Balances.
	Bitcoin AddressReader
}

// lane serialises one user's turns.
type lane struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	// epoch is bumped by /cancel; a turn that finds it changed discards
	// its result.
	epoch atomic.Uint64
}

// Bot handles conversations for all users.
type Bot struct {
	cfg  *Config
	deps Deps
	log  *logging.Logger

	lanesMu sync.Mutex
	lanes   map[string]*lane
}

// New creates a bot.
func New(cfg *Config, deps Deps) *Bot {
	d := DefaultConfig()
	if cfg == nil {
		cfg = d
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = d.MessagesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = d.TurnTimeout
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = d.CommandPrefix
	}
	if deps.Machine == nil {
		deps.Machine = session.DefaultMachine()
	}

	return &Bot{
		cfg:   cfg,
		deps:  deps,
		log:   logging.GetDefault().Component("bot"),
		lanes: make(map[string]*lane),
	}
}

func (b *Bot) lane(userID string) *lane {
	b.lanesMu.Lock()
	defer b.lanesMu.Unlock()
	l, ok := b.lanes[userID]
	if !ok {
		l = &lane{limiter: rate.NewLimiter(rate.Limit(b.cfg.MessagesPerSecond), b.cfg.Burst)}
		b.lanes[userID] = l
	}
	return l
}

// Handle processes one message. Turns of one user run one at a time;
// /cancel takes effect at once, and a turn still running when it arrives
// has its result discarded, except for durable replies such as a created
// order.
func (b *Bot) Handle(ctx context.Context, msg Message) *Response {
	if msg.UserID == "" {
		return respond()
	}
	l := b.lane(msg.UserID)

	if !l.limiter.Allow() {
		b.log.Debug("Dropping message over rate limit", "user", msg.UserID)
		return respond(text("You're sending messages too fast. Please slow down."))
	}

	if b.isCommand(msg.Text, "cancel") {
		l.epoch.Add(1)
		if l.mu.TryLock() {
			b.deps.Sessions.State(msg.UserID).Cancel()
			l.mu.Unlock()
		}
		return respond(text("Cancelled. Send /help to see what I can do."))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	epoch := l.epoch.Load()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.TurnTimeout)
	defer cancel()

	st, fresh := b.deps.Sessions.Open(msg.UserID)
	if fresh {
		b.restoreWallets(ctx, st)
	}
	resp := b.turn(ctx, st, msg)

	if l.epoch.Load() != epoch {
		b.log.Info("Discarding result of cancelled turn", "user", msg.UserID)
		st.Cancel()
		kept := &Response{RedactInput: resp.RedactInput}
		for _, r := range resp.Replies {
			if r.Durable {
				kept.Replies = append(kept.Replies, r)
			}
		}
		return kept
	}
	st.UpdatedAt = time.Now()
	return resp
}

// turn runs one message with panic recovery.
func (b *Bot) turn(ctx context.Context, st *session.State, msg Message) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Handler panic", "user", msg.UserID, "step", st.Step, "panic", r, "stack", string(debug.Stack()))
			st.Cancel()
			resp = respond(text("Something went wrong on our side. Please try again later."))
		}
	}()

	input := strings.TrimSpace(msg.Text)
	if cmd, args, ok := b.parseCommand(input); ok {
		return b.command(ctx, st, cmd, args)
	}
	return b.route(ctx, st, input)
}

func (b *Bot) isCommand(input, name string) bool {
	cmd, _, ok := b.parseCommand(strings.TrimSpace(input))
	return ok && cmd == name
}

func (b *Bot) parseCommand(input string) (string, []string, bool) {
	if !strings.HasPrefix(input, b.cfg.CommandPrefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(input, b.cfg.CommandPrefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (b *Bot) command(ctx context.Context, st *session.State, cmd string, args []string) *Response {
	switch cmd {
	case "start":
		st.Cancel()
		return respond(text("Welcome! "+helpText), mainMenu(st, ""))
	case "help":
		return respond(text(helpText))
	case "register":
		return b.register(ctx, st, args)
	case "login":
		return b.login(ctx, st, args)
	case "logout":
		b.deps.Sessions.Logout(st.UserID)
		return respond(text("Logged out. Your wallets are locked."))
	case "password":
		return b.changePassword(ctx, st, args)
	case "wallet", "wallets":
		return b.showWallets(st)
	case "swap":
		return b.startSwap(ctx, st)
	default:
		return respond(text(fmt.Sprintf("Unknown command %s%s. Send /help for the list.", b.cfg.CommandPrefix, cmd)))
	}
}

// route handles free text according to the current step.
func (b *Bot) route(ctx context.Context, st *session.State, input string) *Response {
	switch st.Step {
	case session.StepInitial, session.StepWalletImported:
		return b.onMenu(ctx, st, input)
	case session.StepWalletCreate:
		return b.onCreate(ctx, st, input)
	case session.StepWalletImportFlow:
		return b.onImport(ctx, st, input)
	case session.StepSelectNetwork:
		return b.onNetwork(ctx, st, input)
	case session.StepSelectFromAsset:
		return b.onFromAsset(ctx, st, input)
	case session.StepSelectToAsset:
		return b.onToAsset(ctx, st, input)
	case session.StepSwapAmount:
		return b.onAmount(ctx, st, input)
	case session.StepChooseDestinationMethod:
		return b.onDestinationMethod(ctx, st, input)
	case session.StepEnterDestination:
		return b.onDestination(ctx, st, input)
	case session.StepConfirmSwap:
		return b.onConfirm(ctx, st, input)
	default:
		st.Cancel()
		return respond(mainMenu(st, ""))
	}
}

// onMenu handles the menus shown outside the swap flow.
func (b *Bot) onMenu(ctx context.Context, st *session.State, input string) *Response {
	if st.Scratch.Menu == menuSignMessage {
		return b.signMessage(st, input)
	}

	choice, ok := choose(st, input)
	if !ok {
		if label, isMain := mainChoice(input); isMain {
			choice, ok = label, true
			st.Scratch.Menu = menuMain
		}
	}
	if !ok {
		if len(st.Scratch.Options) > 0 {
			return respond(text("Please reply with one of the option numbers."), Reply{Text: "Options:", Options: st.Scratch.Options})
		}
		return respond(mainMenu(st, ""))
	}

	switch st.Scratch.Menu {
	case menuWallets:
		return b.onWalletPicked(st, choice)
	case menuWallet:
		return b.onWalletAction(ctx, st, choice)
	case menuRemoveWallet:
		return b.onRemoveWallet(ctx, st, choice)
	}

	switch choice {
	case optCreateWallets:
		return b.startCreate(ctx, st)
	case optImportWallet:
		return b.startImport(ctx, st)
	case optMyWallets:
		return b.showWallets(st)
	case optStartSwap:
		return b.startSwap(ctx, st)
	case optMainMenu, optBack:
		if st.Step != session.StepInitial {
			st.Cancel()
		}
		return respond(mainMenu(st, ""))
	default:
		return respond(mainMenu(st, ""))
	}
}

// requireAuth returns the login or a reply telling the user to log in.
func (b *Bot) requireAuth(st *session.State) (*session.Auth, *Response) {
	auth, err := b.deps.Sessions.RequireAuth(st.UserID)
	if err != nil {
		return nil, b.fail(st, err)
	}
	return auth, nil
}

// fail logs err and renders its user-safe message.
func (b *Bot) fail(st *session.State, err error) *Response {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindInvalidInput, apperr.KindNotFound, apperr.KindAuthentication:
		b.log.Debug("User error", "user", st.UserID, "step", st.Step, "kind", kind, "error", err)
	default:
		b.log.Error("Operation failed", "user", st.UserID, "step", st.Step, "kind", kind, "error", err)
	}
	return respond(text(apperr.UserMessage(err)))
}

func familyLabel(f chain.Family) string {
	return f.DisplayName()
}

func familyFromLabel(label string) (chain.Family, bool) {
	for _, f := range chain.Families {
		if familyLabel(f) == label {
			return f, true
		}
	}
	return "", false
}

func familyLabels() []string {
	labels := make([]string, len(chain.Families))
	for i, f := range chain.Families {
		labels[i] = familyLabel(f)
	}
	return labels
}
