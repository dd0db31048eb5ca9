// Package swap turns a collected swap intent into an engine order and
// drives the source-chain specific initiation path.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/klingon-exchange/swapbot/internal/apperr"
	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/engine"
	"github.com/klingon-exchange/swapbot/internal/session"
	"github.com/klingon-exchange/swapbot/internal/storage"
	"github.com/klingon-exchange/swapbot/internal/wallet"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// EngineFactory creates the engine instance for a network.
type EngineFactory func(network string) (engine.Engine, error)

// Correlator records which user submitted an order.
type Correlator interface {
	Store(orderID, userID string)
	Evict(orderID string)
}

// OrderRecorder persists submitted orders.
type OrderRecorder interface {
	CreateOrder(ctx context.Context, order *storage.Order) error
}

// Accounts rebuilds signing accounts from session wallets.
type Accounts interface {
	Account(rec *wallet.Record) (wallet.Account, error)
}

// OrchestratorConfig holds orchestrator dependencies.
type OrchestratorConfig struct {
	Engines    EngineFactory
	Accounts   Accounts
	Correlator Correlator
	// Orders is optional.
	Orders OrderRecorder
}

// Orchestrator owns one engine per network and submits swaps for users.
type Orchestrator struct {
	factory    EngineFactory
	accounts   Accounts
	correlator Correlator
	orders     OrderRecorder

	mu       sync.Mutex
	engines  map[string]engine.Engine
	handlers []engine.EventHandler

	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator. Settlement loops it starts run
// until Close.
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		factory:    cfg.Engines,
		accounts:   cfg.Accounts,
		correlator: cfg.Correlator,
		orders:     cfg.Orders,
		engines:    make(map[string]engine.Engine),
		log:        logging.GetDefault().Component("swap"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close stops every settlement loop.
func (o *Orchestrator) Close() error {
	o.cancel()
	return nil
}

// OnEvent subscribes to events of every engine, including engines created
// later.
func (o *Orchestrator) OnEvent(handler engine.EventHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers = append(o.handlers, handler)
	for _, eng := range o.engines {
		eng.OnEvent(handler)
	}
}

// Engine returns the engine for network, creating it on first use.
func (o *Orchestrator) Engine(network string) (engine.Engine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if eng, ok := o.engines[network]; ok {
		return eng, nil
	}
	if chain.FamilyOf(network) != chain.FamilyEVM {
		return nil, apperr.InvalidInputf("Unsupported network %q.", network)
	}
	eng, err := o.factory(network)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalEngine, "The swap service is unavailable right now. Please try again later.", err)
	}
	for _, h := range o.handlers {
		eng.OnEvent(h)
	}
	o.engines[network] = eng
	o.log.Info("Engine created", "network", network)
	return eng, nil
}

// Band is the accepted send amount range in smallest units.
type Band struct {
	Min *big.Int
	Max *big.Int
}

// Contains reports whether amount lies within the band. Nil bounds are open.
func (b Band) Contains(amount *big.Int) bool {
	if b.Min != nil && amount.Cmp(b.Min) < 0 {
		return false
	}
	if b.Max != nil && amount.Cmp(b.Max) > 0 {
		return false
	}
	return true
}

// AmountBand returns the engine-advertised band for a pair, falling back
// to the asset's configured band when the engine has none.
func (o *Orchestrator) AmountBand(ctx context.Context, network string, from, to *chain.Asset) Band {
	band := Band{Min: parseAmount(from.MinAmount), Max: parseAmount(from.MaxAmount)}

	eng, err := o.Engine(network)
	if err != nil {
		return band
	}
	strategies, err := eng.Strategies(ctx)
	if err != nil {
		o.log.Warn("Failed to load strategies, using asset band", "network", network, "error", err)
		return band
	}
	for _, id := range sortedIDs(strategies) {
		s := strategies[id]
		if !s.Matches(from, to) {
			continue
		}
		if lo := parseAmount(s.MinAmount); lo != nil {
			band.Min = lo
		}
		if hi := parseAmount(s.MaxAmount); hi != nil {
			band.Max = hi
		}
		break
	}
	return band
}

// ValidateAmount parses a display amount and checks it against the band.
// Returns the amount in smallest units.
func (o *Orchestrator) ValidateAmount(ctx context.Context, network string, from, to *chain.Asset, input string) (*big.Int, error) {
	amount, err := helpers.ParsePositiveUnits(input, from.Decimals)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput,
			fmt.Sprintf("Please enter a positive number with at most %d decimals.", from.Decimals), err)
	}
	band := o.AmountBand(ctx, network, from, to)
	if !band.Contains(amount) {
		return nil, outOfRange(from, band, nil)
	}
	return amount, nil
}

// QuoteResult is the strategy chosen for an intent.
type QuoteResult struct {
	StrategyID string
	// ReceiveAmount is in the to-asset's smallest units.
	ReceiveAmount string
	// ReceiveDisplay is ReceiveAmount in display units.
	ReceiveDisplay string
}

// Quote asks the engine for a quote and selects the first strategy in id
// order.
func (o *Orchestrator) Quote(ctx context.Context, intent *session.SwapIntent) (*QuoteResult, error) {
	if intent == nil || intent.FromAsset == nil || intent.ToAsset == nil {
		return nil, &Error{Resume: session.StepInitial, Err: apperr.InvalidInput("The swap is incomplete. Please start again.")}
	}
	from, to := intent.FromAsset, intent.ToAsset

	amount, err := helpers.ParsePositiveUnits(intent.SendAmount, from.Decimals)
	if err != nil {
		return nil, &Error{Resume: session.StepSwapAmount, Err: apperr.Wrap(apperr.KindInvalidInput, "Please enter a valid amount.", err)}
	}

	eng, err := o.Engine(intent.Network)
	if err != nil {
		return nil, &Error{Resume: session.StepInitial, Err: err}
	}

	quote, err := eng.Quote(ctx, engine.QuoteRequest{
		OrderPair: chain.OrderPair(from, to),
		Amount:    amount,
	})
	if err != nil {
		o.log.Warn("Quote failed", "pair", chain.OrderPair(from, to), "error", err)
		return nil, o.translate(ctx, err, intent, session.StepSwapAmount, false)
	}

	ids := make([]string, 0, len(quote.Quotes))
	for id := range quote.Quotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return nil, o.translate(ctx, engine.ErrNoStrategies, intent, session.StepSwapAmount, false)
	}

	chosen := ids[0]
	receive := quote.Quotes[chosen]
	display := receive
	if v := parseAmount(receive); v != nil {
		display = helpers.FormatUnits(v, to.Decimals)
	}
	return &QuoteResult{StrategyID: chosen, ReceiveAmount: receive, ReceiveDisplay: display}, nil
}

// Result is the outcome of a submitted swap.
type Result struct {
	OrderID string
	Order   *engine.Order

	// DepositAddress is set when the user must fund a Bitcoin HTLC.
	DepositAddress  string
	AwaitingFunding bool

	// InitTxHash is set when the engine relayed the source initiation.
	InitTxHash string
}

// Submit quotes (when the intent carries no strategy yet), submits the
// order and runs the initiation path for the source chain family. The
// session state is only read.
func (o *Orchestrator) Submit(ctx context.Context, userID string, st *session.State) (*Result, error) {
	intent := st.Intent
	if !intent.Complete() {
		return nil, &Error{Resume: session.StepInitial, Err: apperr.InvalidInput("The swap is incomplete. Please start again.")}
	}
	from, to := intent.FromAsset, intent.ToAsset

	source, ok := st.WalletFor(from.Family())
	if !ok {
		return nil, &Error{Resume: session.StepInitial, Err: apperr.Wrap(apperr.KindNotFound,
			fmt.Sprintf("You need a %s wallet to send %s.", from.Family().DisplayName(), from.Symbol), session.ErrNoWallet)}
	}

	strategyID, receive := intent.StrategyID, intent.ReceiveAmount
	if strategyID == "" || receive == "" {
		q, err := o.Quote(ctx, intent)
		if err != nil {
			return nil, err
		}
		strategyID, receive = q.StrategyID, q.ReceiveAmount
	}

	sendAmount, err := helpers.ParsePositiveUnits(intent.SendAmount, from.Decimals)
	if err != nil {
		return nil, &Error{Resume: session.StepSwapAmount, Err: apperr.Wrap(apperr.KindInvalidInput, "Please enter a valid amount.", err)}
	}

	eng, err := o.Engine(intent.Network)
	if err != nil {
		return nil, &Error{Resume: session.StepInitial, Err: err}
	}

	req := &engine.SwapRequest{
		FromAsset:              from,
		ToAsset:                to,
		SendAmount:             sendAmount.String(),
		ReceiveAmount:          receive,
		InitiatorSourceAddress: source.Address,
		DestinationAddress:     intent.DestinationAddress,
		Nonce:                  intent.Nonce,
		StrategyID:             strategyID,
	}
	switch {
	case from.Family() == chain.FamilyUTXO:
		req.BitcoinAddress = source.Address
	case to.Family() == chain.FamilyUTXO:
		req.BitcoinAddress = intent.DestinationAddress
	}

	order, err := eng.SubmitSwap(ctx, req)
	if err != nil {
		o.log.Warn("Swap submission failed", "user", userID, "network", intent.Network, "error", err)
		return nil, o.translate(ctx, err, intent, session.StepConfirmSwap, true)
	}

	result := &Result{OrderID: order.ID(), Order: order}
	o.correlate(order.ID(), userID)

	switch from.Family() {
	case chain.FamilyUTXO:
		result.DepositAddress = order.SourceSwap.SwapID
		result.AwaitingFunding = true
		o.log.Info("Order awaiting funding", "order_id", order.ID(), "user", userID,
			"deposit", helpers.ShortenAddress(result.DepositAddress))

	case chain.FamilyEVM, chain.FamilyStarknet:
		txHash, err := o.initiate(ctx, eng, order, source)
		if err != nil {
			o.log.Error("Initiation failed", "order_id", order.ID(), "user", userID, "error", err)
			o.record(ctx, userID, order, result, storage.OrderStatusFailed)
			o.uncorrelate(order.ID())
			return nil, o.translate(ctx, err, intent, session.StepConfirmSwap, true)
		}
		result.InitTxHash = txHash
		o.log.Info("Order initiated", "order_id", order.ID(), "user", userID, "tx", txHash)

	default:
		return nil, &Error{Resume: session.StepInitial, Err: apperr.InvalidInputf("Unsupported source chain %q.", from.Chain)}
	}

	status := storage.OrderStatusInitiated
	if result.AwaitingFunding {
		status = storage.OrderStatusAwaitingFunding
	}
	o.record(ctx, userID, order, result, status)

	go o.settle(eng, intent.Network)
	return result, nil
}

func (o *Orchestrator) initiate(ctx context.Context, eng engine.Engine, order *engine.Order, source *wallet.Record) (string, error) {
	acct, err := o.accounts.Account(source)
	if err != nil {
		return "", err
	}
	switch acct.Family() {
	case chain.FamilyEVM:
		if signer, ok := acct.(engine.TypedDataSigner); ok {
			return eng.InitiateEVM(ctx, order, signer)
		}
	case chain.FamilyStarknet:
		if signer, ok := acct.(engine.StarkSigner); ok {
			return eng.InitiateStarknet(ctx, order, signer)
		}
	}
	return "", fmt.Errorf("%w: %s wallet cannot sign relay messages", engine.ErrWrongSourceChain, acct.Family())
}

// settle runs the engine's settlement loop detached from the user's turn.
func (o *Orchestrator) settle(eng engine.Engine, network string) {
	if err := eng.RunSettlementLoop(o.ctx); err != nil && !errors.Is(err, context.Canceled) {
		o.log.Error("Settlement loop failed", "network", network, "error", err)
	}
}

func (o *Orchestrator) correlate(orderID, userID string) {
	if o.correlator == nil {
		return
	}
	o.correlator.Store(orderID, userID)
}

func (o *Orchestrator) uncorrelate(orderID string) {
	if o.correlator != nil {
		o.correlator.Evict(orderID)
	}
}

func (o *Orchestrator) record(ctx context.Context, userID string, order *engine.Order, result *Result, status storage.OrderStatus) {
	if o.orders == nil {
		return
	}
	rec := &storage.Order{
		CreateID:          order.ID(),
		UserID:            userID,
		Status:            status,
		SourceChain:       order.CreateOrder.SourceChain,
		DestinationChain:  order.CreateOrder.DestinationChain,
		SourceAsset:       order.CreateOrder.SourceAsset,
		DestinationAsset:  order.CreateOrder.DestinationAsset,
		SourceAmount:      order.CreateOrder.SourceAmount,
		DestinationAmount: order.CreateOrder.DestinationAmount,
		DepositAddress:    result.DepositAddress,
		InitTxHash:        result.InitTxHash,
	}
	if err := o.orders.CreateOrder(context.WithoutCancel(ctx), rec); err != nil {
		o.log.Warn("Failed to record order", "order_id", order.ID(), "error", err)
	}
}

func parseAmount(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil
	}
	return v
}

func sortedIDs(strategies map[string]engine.Strategy) []string {
	ids := make([]string, 0, len(strategies))
	for id := range strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
