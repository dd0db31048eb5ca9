package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klingon-exchange/swapbot/internal/apperr"
	"github.com/klingon-exchange/swapbot/internal/backend"
	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/evm"
	"github.com/klingon-exchange/swapbot/internal/session"
	"github.com/klingon-exchange/swapbot/internal/storage"
	"github.com/klingon-exchange/swapbot/internal/swap"
	"github.com/klingon-exchange/swapbot/internal/wallet"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

const (
	testUser     = "@alice:example.org"
	testPassword = "Correct-Horse-9"

	// Well-known development key; its address is testEVMAddress.
	testEVMKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testEVMAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*storage.User
}

func (f *fakeUsers) CreateUser(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; ok {
		return storage.ErrUserExists
	}
	f.users[userID] = &storage.User{ID: userID, PasswordHash: passwordHash}
	return nil
}

func (f *fakeUsers) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return u, nil
}

type storedRecord struct {
	rec      wallet.Record
	password string
}

type fakeWallets struct {
	mu     sync.Mutex
	nextID int64
	byUser map[string]map[chain.Family]*storedRecord
}

func (f *fakeWallets) Save(ctx context.Context, userID string, rec *wallet.Record, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byUser[userID] == nil {
		f.byUser[userID] = make(map[chain.Family]*storedRecord)
	}
	if _, ok := f.byUser[userID][rec.Family]; ok {
		return apperr.Wrap(apperr.KindInvalidInput, "You already have a wallet for this chain.", storage.ErrWalletExists)
	}
	f.nextID++
	rec.ID = f.nextID
	f.byUser[userID][rec.Family] = &storedRecord{rec: *rec, password: password}
	return nil
}

func (f *fakeWallets) LoadAll(ctx context.Context, userID, password string) ([]*wallet.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*wallet.Record
	for _, s := range f.byUser[userID] {
		if s.password != password {
			return nil, apperr.New(apperr.KindAuthentication, "Wrong password.")
		}
		rec := s.rec
		out = append(out, &rec)
	}
	return out, nil
}

func (f *fakeWallets) List(ctx context.Context, userID string) ([]*storage.WalletInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.WalletInfo
	for _, s := range f.byUser[userID] {
		out = append(out, &storage.WalletInfo{ID: s.rec.ID, Family: s.rec.Family, Address: s.rec.Address})
	}
	return out, nil
}

func (f *fakeWallets) stored(userID string, family chain.Family) (wallet.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byUser[userID][family]
	if !ok {
		return wallet.Record{}, false
	}
	return s.rec, true
}

func (f *fakeWallets) Reencrypt(ctx context.Context, userID, oldPassword, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byUser[userID] {
		if s.password != oldPassword {
			return apperr.New(apperr.KindAuthentication, "Current password is incorrect.")
		}
	}
	for _, s := range f.byUser[userID] {
		s.password = newPassword
	}
	return nil
}

func (f *fakeWallets) Delete(ctx context.Context, userID string, walletID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fam, s := range f.byUser[userID] {
		if s.rec.ID == walletID {
			delete(f.byUser[userID], fam)
			return nil
		}
	}
	return apperr.New(apperr.KindNotFound, "Wallet not found.")
}

func (f *fakeWallets) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byUser[userID])
}

type fakeSwapper struct {
	mu        sync.Mutex
	quote     *swap.QuoteResult
	quoteErr  error
	result    *swap.Result
	submitErr error
	submitted []session.SwapIntent

	panicOnQuote bool
	// entered is signalled when Submit starts; Submit then waits on release.
	entered chan struct{}
	release chan struct{}
}

func assetBand(a *chain.Asset) swap.Band {
	var band swap.Band
	if v, ok := new(big.Int).SetString(a.MinAmount, 10); ok {
		band.Min = v
	}
	if v, ok := new(big.Int).SetString(a.MaxAmount, 10); ok {
		band.Max = v
	}
	return band
}

func (f *fakeSwapper) AmountBand(ctx context.Context, network string, from, to *chain.Asset) swap.Band {
	return assetBand(from)
}

func (f *fakeSwapper) ValidateAmount(ctx context.Context, network string, from, to *chain.Asset, input string) (*big.Int, error) {
	amount, err := helpers.ParsePositiveUnits(input, from.Decimals)
	if err != nil {
		return nil, apperr.InvalidInput("Please enter a positive number.")
	}
	band := assetBand(from)
	if !band.Contains(amount) {
		return nil, apperr.Wrap(apperr.KindInvalidInput, fmt.Sprintf("Amount must be between %s and %s %s.",
			helpers.FormatUnits(band.Min, from.Decimals), helpers.FormatUnits(band.Max, from.Decimals), from.Symbol),
			swap.ErrAmountOutOfRange)
	}
	return amount, nil
}

func (f *fakeSwapper) Quote(ctx context.Context, intent *session.SwapIntent) (*swap.QuoteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnQuote {
		panic("quote exploded")
	}
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.quote, nil
}

func (f *fakeSwapper) Submit(ctx context.Context, userID string, st *session.State) (*swap.Result, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, *st.Intent)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.result, nil
}

type fakeBalances struct{}

func (fakeBalances) Chains() []string { return []string{"arbitrum_sepolia"} }

func (fakeBalances) ForChain(ctx context.Context, chainID, address string) ([]evm.Balance, error) {
	return []evm.Balance{
		{Chain: chainID, Symbol: "ETH", Amount: "1"},
		{Chain: chainID, Symbol: "WBTC", Amount: "0.0015"},
	}, nil
}

type fakeBitcoin struct {
	info *backend.AddressInfo
	err  error
}

func (f *fakeBitcoin) GetAddressInfo(ctx context.Context, address string) (*backend.AddressInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info := *f.info
	info.Address = address
	return &info, nil
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	t        *testing.T
	bot      *Bot
	sessions *session.Manager
	states   *session.MemoryStore[*session.State]
	users    *fakeUsers
	wallets  *fakeWallets
	swaps    *fakeSwapper
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	return newHarnessTTL(t, cfg, time.Hour, time.Hour)
}

func newHarnessTTL(t *testing.T, cfg *Config, stateTTL, loginTTL time.Duration) *harness {
	t.Helper()
	if cfg == nil {
		cfg = &Config{MessagesPerSecond: 1000, Burst: 1000}
	}
	states := session.NewMemoryStore[*session.State](stateTTL)
	h := &harness{
		t:        t,
		states:   states,
		sessions: session.NewManager(states, session.NewMemoryStore[*session.Auth](loginTTL)),
		users:   &fakeUsers{users: make(map[string]*storage.User)},
		wallets: &fakeWallets{byUser: make(map[string]map[chain.Family]*storedRecord)},
		swaps: &fakeSwapper{
			quote:  &swap.QuoteResult{StrategyID: "s1", ReceiveAmount: "150000", ReceiveDisplay: "0.0015"},
			result: &swap.Result{OrderID: "order-1", InitTxHash: "0xinit"},
		},
	}
	h.bot = New(cfg, Deps{
		Sessions: h.sessions,
		Custody:  wallet.NewService(&wallet.ServiceConfig{Network: chain.Testnet}),
		Users:    h.users,
		Wallets:  h.wallets,
		Swaps:    h.swaps,
		Balances: fakeBalances{},
	})
	return h
}

func (h *harness) send(msg string) *Response {
	h.t.Helper()
	return h.bot.Handle(context.Background(), Message{UserID: testUser, Text: msg})
}

func (h *harness) state() *session.State {
	return h.sessions.State(testUser)
}

func rendered(resp *Response) string {
	parts := make([]string, len(resp.Replies))
	for i, r := range resp.Replies {
		parts[i] = r.Render()
	}
	return strings.Join(parts, "\n---\n")
}

func (h *harness) expect(msg, want string) *Response {
	h.t.Helper()
	resp := h.send(msg)
	if got := rendered(resp); !strings.Contains(got, want) {
		h.t.Fatalf("after %q reply = %q, want it to contain %q", msg, got, want)
	}
	return resp
}

// registerWithWallets registers the test user and creates one wallet per
// family.
func (h *harness) registerWithWallets() {
	h.t.Helper()
	h.expect("/register "+testPassword, "Account created")
	h.expect(optCreateWallets, optAllChains)
	h.expect(optAllChains, "Your new wallets")
}

// toConfirm walks an ETH to BTC swap up to the summary.
func (h *harness) toConfirm() {
	h.t.Helper()
	h.expect("/swap", "Arbitrum Sepolia")
	h.expect("Arbitrum Sepolia", "ETH on Ethereum Sepolia")
	h.expect("ETH on Ethereum Sepolia", "BTC on Bitcoin Testnet")
	h.expect("BTC on Bitcoin Testnet", "How much ETH do you want to send? (min 0.0005, max 0.1)")
	h.expect("0.01", optUseWallet)
	h.expect(optUseWallet, "Please confirm your swap")
}

// =============================================================================
// Tests
// =============================================================================

func TestRegisterCreateAndLogin(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.send("/register " + testPassword)
	if !resp.RedactInput {
		t.Error("register should redact the password message")
	}
	h.expect(optCreateWallets, optAllChains)
	resp = h.expect(optAllChains, "Your new wallets")

	var sensitive int
	for _, r := range resp.Replies {
		if r.Sensitive {
			sensitive++
		}
	}
	if sensitive != 1 {
		t.Errorf("sensitive replies = %d, want 1 (the recovery phrase)", sensitive)
	}
	if got := h.wallets.count(testUser); got != len(chain.Families) {
		t.Fatalf("stored wallets = %d, want %d", got, len(chain.Families))
	}
	if h.state().Step != session.StepWalletImported {
		t.Errorf("step = %s, want %s", h.state().Step, session.StepWalletImported)
	}

	h.send("/logout")
	if h.state().HasWallets() {
		t.Fatal("logout should drop wallets from memory")
	}

	h.expect("/login wrong-Password1", "Wrong password.")
	h.expect("/login "+testPassword, "3 wallets unlocked")
	if len(h.state().Wallets) != 3 {
		t.Errorf("session wallets = %d, want 3", len(h.state().Wallets))
	}
}

func TestRegisterTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/register " + testPassword)
	h.expect("/register "+testPassword, "already registered")
}

func TestLoginUnknownUser(t *testing.T) {
	h := newHarness(t, nil)
	h.expect("/login "+testPassword, "/register")
}

func TestCreateRefusesHeldFamilies(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()
	h.expect(optCreateWallets, "already have a wallet for every chain")
	if h.state().Step == session.StepWalletCreate {
		t.Error("create flow should not start when every family is held")
	}
}

func TestActiveSessionOutlivesIdleTimeout(t *testing.T) {
	h := newHarnessTTL(t, nil, time.Second, time.Hour)
	h.registerWithWallets()
	before, ok := h.wallets.stored(testUser, chain.FamilyEVM)
	if !ok {
		t.Fatal("no EVM wallet stored")
	}

	// Total activity exceeds the idle timeout; each gap stays well below it.
	for i := 0; i < 15; i++ {
		time.Sleep(100 * time.Millisecond)
		h.send("/help")
	}

	if got := len(h.state().Wallets); got != len(chain.Families) {
		t.Fatalf("session wallets = %d, want %d", got, len(chain.Families))
	}
	h.expect("/start", "Welcome")
	h.expect(optCreateWallets, "already have a wallet for every chain")

	after, _ := h.wallets.stored(testUser, chain.FamilyEVM)
	if after.Address != before.Address || after.PrivateKey != before.PrivateKey {
		t.Errorf("stored EVM wallet changed from %s to %s", before.Address, after.Address)
	}
}

func TestExpiredSessionReloadsWallets(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()
	before, _ := h.wallets.stored(testUser, chain.FamilyEVM)

	// The conversation expires while the login is still live.
	h.states.Delete(testUser)

	h.expect(optCreateWallets, "already have a wallet for every chain")
	st := h.state()
	if len(st.Wallets) != len(chain.Families) {
		t.Fatalf("session wallets = %d, want %d reloaded", len(st.Wallets), len(chain.Families))
	}
	if rec, ok := st.WalletFor(chain.FamilyEVM); !ok || rec.PrivateKey != before.PrivateKey {
		t.Error("reloaded EVM wallet does not match the stored one")
	}
	if h.wallets.count(testUser) != len(chain.Families) {
		t.Errorf("stored wallets = %d, want %d", h.wallets.count(testUser), len(chain.Families))
	}
}

func TestCreateSkipsStoredFamilies(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/register " + testPassword)

	// Stored but not loaded into the conversation.
	if err := h.wallets.Save(context.Background(), testUser, &wallet.Record{
		Family:     chain.FamilyEVM,
		Address:    testEVMAddress,
		PrivateKey: testEVMKey,
	}, testPassword); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if h.state().HasWallets() {
		t.Fatal("session should start without wallets")
	}

	resp := h.expect(optCreateWallets, optAllChains)
	if strings.Contains(rendered(resp), familyLabel(chain.FamilyEVM)) {
		t.Errorf("create offered a stored family: %q", rendered(resp))
	}
	h.expect(optAllChains, "Your new wallets")

	rec, _ := h.wallets.stored(testUser, chain.FamilyEVM)
	if rec.Address != testEVMAddress {
		t.Errorf("stored EVM wallet = %s, want %s untouched", rec.Address, testEVMAddress)
	}
	if h.wallets.count(testUser) != len(chain.Families) {
		t.Errorf("stored wallets = %d, want %d", h.wallets.count(testUser), len(chain.Families))
	}

	h.send("/start")
	resp = h.send(optImportWallet)
	if !strings.Contains(rendered(resp), "already have a wallet for every chain") {
		t.Errorf("import should be refused when every family is stored: %q", rendered(resp))
	}
}

func TestImportPrivateKey(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/register " + testPassword)

	h.expect(optImportWallet, optPrivateKey)
	h.expect(optPrivateKey, "Ethereum (EVM)")
	h.expect("Ethereum (EVM)", "private key")
	resp := h.expect(testEVMKey, testEVMAddress)
	if !resp.RedactInput {
		t.Error("key message should be redacted")
	}
	if _, ok := h.state().WalletFor(chain.FamilyEVM); !ok {
		t.Fatal("imported wallet missing from session")
	}
	if h.wallets.count(testUser) != 1 {
		t.Errorf("stored wallets = %d, want 1", h.wallets.count(testUser))
	}
}

func TestImportBadKeyStaysInFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/register " + testPassword)
	h.send(optImportWallet)
	h.send(optPrivateKey)
	h.send("Bitcoin")

	resp := h.send("not-a-key")
	if !resp.RedactInput {
		t.Error("rejected key should still be redacted")
	}
	if h.state().Step != session.StepWalletImportFlow {
		t.Errorf("step = %s, want %s", h.state().Step, session.StepWalletImportFlow)
	}
	if h.state().HasWallets() {
		t.Error("no wallet should be added")
	}
}

func TestImportMnemonicSkipsStarknet(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/register " + testPassword)
	h.send(optImportWallet)
	resp := h.send(optMnemonic)
	if strings.Contains(rendered(resp), "Starknet") {
		t.Errorf("mnemonic import should not offer Starknet: %q", rendered(resp))
	}
}

func TestImportStarknetAsksForAddress(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/register " + testPassword)
	h.send(optImportWallet)
	h.send(optPrivateKey)
	h.send("Starknet")

	resp := h.expect("0x1234", "Starknet account address")
	if !resp.RedactInput {
		t.Error("key message should be redacted")
	}
	sc := h.state().Scratch
	if !sc.ImportWaitingAddress || sc.PendingStarknetKey != "0x1234" {
		t.Errorf("scratch = %+v, want pending key waiting for address", sc)
	}
}

func TestSwapAccountSource(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()
	h.toConfirm()

	st := h.state()
	if st.Step != session.StepConfirmSwap {
		t.Fatalf("step = %s, want %s", st.Step, session.StepConfirmSwap)
	}
	if st.Intent.StrategyID != "s1" {
		t.Errorf("strategy = %q, want s1", st.Intent.StrategyID)
	}

	resp := h.expect(optConfirm, "order-1")
	if got := rendered(resp); !strings.Contains(got, "https://sepolia.etherscan.io/tx/0xinit") {
		t.Errorf("reply should link the initiation tx: %q", got)
	}

	if len(h.swaps.submitted) != 1 {
		t.Fatalf("submitted = %d, want 1", len(h.swaps.submitted))
	}
	intent := h.swaps.submitted[0]
	btc, _ := st.WalletFor(chain.FamilyUTXO)
	if intent.DestinationAddress != btc.Address {
		t.Errorf("destination = %s, want own bitcoin wallet %s", intent.DestinationAddress, btc.Address)
	}
	if intent.SendAmount != "0.01" || intent.Network != "arbitrum_sepolia" || intent.Nonce == "" {
		t.Errorf("intent = %+v", intent)
	}
	if st.Step != session.StepInitial || st.Intent != nil {
		t.Errorf("state after submit = %s/%v, want initial without intent", st.Step, st.Intent)
	}
}

func TestSwapBitcoinSourceShowsDeposit(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()
	h.swaps.result = &swap.Result{OrderID: "order-2", DepositAddress: "tb1qdeposit", AwaitingFunding: true}

	h.send("/swap")
	h.send("Arbitrum Sepolia")
	h.send("BTC on Bitcoin Testnet")
	h.send("ETH on Ethereum Sepolia")
	h.send("0.001")
	h.send(optUseWallet)
	resp := h.expect(optConfirm, "Send exactly 0.001 BTC")
	if !strings.Contains(rendered(resp), "tb1qdeposit") {
		t.Errorf("reply should show the deposit address: %q", rendered(resp))
	}
}

func TestSwapManualDestination(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()
	h.send("/swap")
	h.send("Arbitrum Sepolia")
	h.send("BTC on Bitcoin Testnet")
	h.send("ETH on Ethereum Sepolia")
	h.send("0.001")
	h.expect(optEnterManually, "must be an EVM address")

	h.expect("tb1qnotevm", "does not look like")
	if h.state().Step != session.StepEnterDestination {
		t.Fatalf("step = %s, want %s", h.state().Step, session.StepEnterDestination)
	}
	h.expect(testEVMAddress, "Destination: "+testEVMAddress)
}

func TestAmountOutOfRangeRePrompts(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()
	h.send("/swap")
	h.send("Arbitrum Sepolia")
	h.send("ETH on Ethereum Sepolia")
	h.send("BTC on Bitcoin Testnet")

	h.expect("5", "Amount must be between 0.0005 and 0.1 ETH.")
	if h.state().Step != session.StepSwapAmount {
		t.Errorf("step = %s, want %s", h.state().Step, session.StepSwapAmount)
	}
	h.expect("abc", "positive number")
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     string
		wantStep session.Step
	}{
		{
			name:     "range error resumes at amount",
			err:      &swap.Error{Resume: session.StepSwapAmount, Err: apperr.InvalidInput("Amount must be between 0.0005 and 0.05 ETH.")},
			want:     "How much ETH",
			wantStep: session.StepSwapAmount,
		},
		{
			name:     "engine message re-renders the summary",
			err:      &swap.Error{Resume: session.StepConfirmSwap, Err: apperr.Wrap(apperr.KindExternalEngine, "Swap failed: insufficient liquidity", errors.New("400"))},
			want:     "Swap failed: insufficient liquidity",
			wantStep: session.StepConfirmSwap,
		},
		{
			name:     "unavailable restarts",
			err:      &swap.Error{Resume: session.StepInitial, Err: apperr.Wrap(apperr.KindExternalEngine, "The swap service is unavailable right now.", errors.New("503"))},
			want:     "unavailable",
			wantStep: session.StepInitial,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.registerWithWallets()
			h.toConfirm()
			h.swaps.submitErr = tt.err

			h.expect(optConfirm, tt.want)
			st := h.state()
			if st.Step != tt.wantStep {
				t.Fatalf("step = %s, want %s", st.Step, tt.wantStep)
			}
			switch tt.wantStep {
			case session.StepSwapAmount:
				if st.Intent.SendAmount != "" || st.Intent.FromAsset == nil {
					t.Errorf("intent = %+v, want amount cleared and assets kept", st.Intent)
				}
			case session.StepConfirmSwap:
				if !st.Intent.Complete() {
					t.Errorf("intent should stay complete: %+v", st.Intent)
				}
			case session.StepInitial:
				if st.Intent != nil {
					t.Error("intent should be dropped")
				}
			}
		})
	}
}

func TestQuoteFailureOnConfirmEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()
	h.swaps.quoteErr = &swap.Error{Resume: session.StepSwapAmount, Err: apperr.InvalidInput("Amount must be at least 0.001 ETH.")}

	h.send("/swap")
	h.send("Arbitrum Sepolia")
	h.send("ETH on Ethereum Sepolia")
	h.send("BTC on Bitcoin Testnet")
	h.send("0.0005")
	h.expect(optUseWallet, "Amount must be at least 0.001 ETH.")
	if h.state().Step != session.StepSwapAmount {
		t.Errorf("step = %s, want %s", h.state().Step, session.StepSwapAmount)
	}
}

func TestSwapNeedsWallet(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/register " + testPassword)
	resp := h.expect("/swap", "You need a wallet first")
	if got := rendered(resp); !strings.Contains(got, optCreateWallets) {
		t.Errorf("reply should offer wallet creation: %q", got)
	}
	if h.state().Step != session.StepInitial {
		t.Errorf("step = %s, want initial", h.state().Step)
	}
}

func TestSwapNeedsLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.expect("/swap", "Please log in first")
}

func TestCancelKeepsWallets(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()
	h.send("/swap")
	h.send("Arbitrum Sepolia")

	h.expect("/cancel", "Cancelled")
	st := h.state()
	if st.Step != session.StepInitial || st.Intent != nil {
		t.Errorf("state = %s/%v, want initial without intent", st.Step, st.Intent)
	}
	if len(st.Wallets) != 3 {
		t.Errorf("wallets = %d, want 3", len(st.Wallets))
	}
}

func TestCancelDuringRunningTurn(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeSwapper)
		wantOut []string
	}{
		{
			name:  "failed submit is discarded",
			setup: func(f *fakeSwapper) { f.submitErr = apperr.New(apperr.KindExternalEngine, "Swap failed: nonce already used") },
		},
		{
			name: "created order is still reported",
			setup: func(f *fakeSwapper) {
				f.result = &swap.Result{OrderID: "order-2", DepositAddress: "tb1qdeposit", AwaitingFunding: true}
			},
			wantOut: []string{"Order order-2 created", "tb1qdeposit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.registerWithWallets()
			h.toConfirm()

			tt.setup(h.swaps)
			h.swaps.entered = make(chan struct{}, 1)
			h.swaps.release = make(chan struct{})

			done := make(chan *Response, 1)
			go func() {
				done <- h.send(optConfirm)
			}()

			select {
			case <-h.swaps.entered:
			case <-time.After(5 * time.Second):
				t.Fatal("submit never started")
			}

			h.expect("/cancel", "Cancelled")
			close(h.swaps.release)

			select {
			case resp := <-done:
				if len(resp.Replies) != len(tt.wantOut) {
					t.Fatalf("cancelled turn replied %q, want %d replies", rendered(resp), len(tt.wantOut))
				}
				out := rendered(resp)
				for _, want := range tt.wantOut {
					if !strings.Contains(out, want) {
						t.Errorf("reply = %q, want %q", out, want)
					}
				}
			case <-time.After(5 * time.Second):
				t.Fatal("turn did not finish")
			}
			if h.state().Step != session.StepInitial {
				t.Errorf("step = %s, want initial", h.state().Step)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, &Config{MessagesPerSecond: 0.001, Burst: 2})
	h.send("/help")
	h.send("/help")
	h.expect("/help", "too fast")
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()
	h.swaps.panicOnQuote = true

	h.send("/swap")
	h.send("Arbitrum Sepolia")
	h.send("ETH on Ethereum Sepolia")
	h.send("BTC on Bitcoin Testnet")
	h.send("0.01")
	h.expect(optUseWallet, "Something went wrong")
	if h.state().Step != session.StepInitial {
		t.Errorf("step = %s, want initial", h.state().Step)
	}

	h.swaps.panicOnQuote = false
	h.expect("/help", "/register")
}

func TestWalletMenu(t *testing.T) {
	h := newHarness(t, nil)
	h.send("/register " + testPassword)
	h.send(optImportWallet)
	h.send(optPrivateKey)
	h.send("Ethereum (EVM)")
	h.send(testEVMKey)

	h.expect("/wallet", "Ethereum (EVM): ")
	resp := h.expect("1", optSignMessage)
	if strings.Contains(rendered(resp), optRevealPhrase) {
		t.Error("a key import has no recovery phrase to reveal")
	}

	h.expect(optDetails, "Arbitrum Sepolia: 1 ETH, 0.0015 WBTC")

	resp = h.expect(optRevealKey, testEVMKey)
	if !resp.Replies[0].Sensitive {
		t.Error("revealed key should be marked sensitive")
	}

	h.expect(optSignMessage, "Send the message to sign.")
	resp = h.expect("hello", "Signature:\n0x")
	sig := strings.TrimPrefix(resp.Replies[0].Text, "Signature:\n")
	if len(sig) != 132 {
		t.Errorf("signature length = %d, want 132", len(sig))
	}

	h.expect(optRemoveWallet, optConfirmRemove)
	h.expect(optConfirmRemove, "wallet was removed")
	if h.state().HasWallets() || h.wallets.count(testUser) != 0 {
		t.Error("wallet should be removed from session and store")
	}
}

func TestBitcoinBalance(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeBitcoin
		want string
	}{
		{"pending spend", &fakeBitcoin{info: &backend.AddressInfo{Balance: 150000, MempoolBalance: -20000}}, "Balance: 0.0015 BTC (-0.0002 BTC pending)"},
		{"confirmed only", &fakeBitcoin{info: &backend.AddressInfo{Balance: 100000000}}, "Balance: 1 BTC"},
		{"fresh address", &fakeBitcoin{err: backend.ErrAddressNotFound}, "Balance: 0 BTC"},
		{"explorer down", &fakeBitcoin{err: errors.New("502")}, "Balance: unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.bot.deps.Bitcoin = tt.src
			h.registerWithWallets()

			resp := h.send("/wallet")
			var label string
			for _, r := range resp.Replies {
				for _, o := range r.Options {
					if strings.HasPrefix(o, familyLabel(chain.FamilyUTXO)+": ") {
						label = o
					}
				}
			}
			if label == "" {
				t.Fatalf("no Bitcoin wallet listed in %q", rendered(resp))
			}
			h.expect(label, optDetails)
			h.expect(optDetails, tt.want)
		})
	}
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t, nil)
	h.registerWithWallets()

	const newPassword = "Battery-Staple-7"
	resp := h.expect("/password "+testPassword+" "+newPassword, "Password changed")
	if !resp.RedactInput {
		t.Error("password change should be redacted")
	}
	auth, ok := h.sessions.Auth(testUser)
	if !ok || auth.Password != newPassword {
		t.Fatal("session should hold the new password")
	}

	h.expect("/password wrong-Old-1 Another-Pass-2", "Current password is incorrect.")
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.expect("/bogus", "Unknown command /bogus")
}

func TestPick(t *testing.T) {
	options := []string{"Alpha", "Beta"}
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"1", "Alpha", true},
		{" 2 ", "Beta", true},
		{"beta", "Beta", true},
		{"3", "", false},
		{"0", "", false},
		{"gamma", "", false},
	}
	for _, tt := range tests {
		got, ok := pick(options, tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("pick(%q) = %q, %v, want %q, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestReplyRender(t *testing.T) {
	r := Reply{Text: "Pick one:", Options: []string{"A", "B"}}
	want := "Pick one:\n\n1. A\n2. B"
	if got := r.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
	if got := (Reply{Text: "plain"}).Render(); got != "plain" {
		t.Errorf("Render() = %q, want plain", got)
	}
}
