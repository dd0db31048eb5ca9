package bot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/klingon-exchange/swapbot/internal/apperr"
	"github.com/klingon-exchange/swapbot/internal/backend"
	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/session"
	"github.com/klingon-exchange/swapbot/internal/wallet"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

const (
	allHeldPrompt    = "You already have a wallet for every chain. Remove one under My wallets to replace it."
	keyWarning       = "⚠️ Anyone who sees this controls the wallet. Never share it, and delete this message once you have a backup."
	undeployedNotice = "No account contract is deployed at this Starknet address yet. It can receive funds, but deploy the account before sending from it."
)

// missingFamilies lists the families the user holds no wallet for. The
// store keeps one wallet per family, so only these can be added. Stored
// wallets count even when the conversation has not loaded them.
func (b *Bot) missingFamilies(ctx context.Context, st *session.State) ([]chain.Family, error) {
	stored, err := b.deps.Wallets.List(ctx, st.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to list wallets", err)
	}
	held := make(map[chain.Family]bool, len(stored))
	for _, w := range stored {
		held[w.Family] = true
	}

	var out []chain.Family
	for _, f := range chain.Families {
		if _, ok := st.WalletFor(f); ok || held[f] {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (b *Bot) startCreate(ctx context.Context, st *session.State) *Response {
	if _, resp := b.requireAuth(st); resp != nil {
		return resp
	}
	missing, err := b.missingFamilies(ctx, st)
	if err != nil {
		return b.fail(st, err)
	}
	if len(missing) == 0 {
		return respond(mainMenu(st, allHeldPrompt))
	}
	if err := b.deps.Machine.Advance(st, session.StepWalletCreate); err != nil {
		return b.fail(st, err)
	}

	options := []string{optAllChains}
	for _, f := range missing {
		options = append(options, familyLabel(f))
	}
	return respond(menu(st, "", "Which wallets should I create?", options...))
}

func (b *Bot) onCreate(ctx context.Context, st *session.State, input string) *Response {
	auth, resp := b.requireAuth(st)
	if resp != nil {
		st.Cancel()
		return resp
	}
	choice, ok := choose(st, input)
	if !ok {
		return respond(Reply{Text: "Please pick one of the options.", Options: st.Scratch.Options})
	}

	families, err := b.missingFamilies(ctx, st)
	if err != nil {
		st.Cancel()
		return b.fail(st, err)
	}
	if choice != optAllChains {
		f, ok := familyFromLabel(choice)
		if !ok {
			return respond(Reply{Text: "Please pick one of the options.", Options: st.Scratch.Options})
		}
		if !slices.Contains(families, f) {
			st.Cancel()
			return respond(mainMenu(st, allHeldPrompt))
		}
		families = []chain.Family{f}
	}
	if len(families) == 0 {
		st.Cancel()
		return respond(mainMenu(st, allHeldPrompt))
	}

	bundle, err := b.deps.Custody.Create(families)
	if err != nil {
		st.Cancel()
		return b.fail(st, err)
	}

	var lines []string
	for _, rec := range bundle.Records {
		if err := b.deps.Wallets.Save(ctx, st.UserID, rec, auth.Password); err != nil {
			st.Cancel()
			return b.fail(st, err)
		}
		st.AddWallet(rec)
		line := fmt.Sprintf("%s: %s", familyLabel(rec.Family), rec.Address)
		if rec.Family == chain.FamilyStarknet {
			line += "\n" + undeployedNotice
		}
		lines = append(lines, line)
	}
	if err := b.deps.Machine.Advance(st, session.StepWalletImported); err != nil {
		return b.fail(st, err)
	}
	st.Scratch.Clear()
	b.log.Info("Wallets created", "user", st.UserID, "count", len(bundle.Records))

	replies := []Reply{text("Your new wallets:\n\n" + strings.Join(lines, "\n\n"))}
	if bundle.Mnemonic != "" {
		replies = append(replies, Reply{
			Text:      "Your recovery phrase for the Ethereum and Bitcoin wallets:\n\n" + bundle.Mnemonic + "\n\n" + keyWarning,
			Sensitive: true,
		})
	}
	replies = append(replies, afterWalletMenu(st))
	return respond(replies...)
}

func afterWalletMenu(st *session.State) Reply {
	return menu(st, menuAfterWallet, "What next?", optStartSwap, optMyWallets, optMainMenu)
}

func (b *Bot) startImport(ctx context.Context, st *session.State) *Response {
	if _, resp := b.requireAuth(st); resp != nil {
		return resp
	}
	missing, err := b.missingFamilies(ctx, st)
	if err != nil {
		return b.fail(st, err)
	}
	if len(missing) == 0 {
		return respond(mainMenu(st, allHeldPrompt))
	}
	if err := b.deps.Machine.Advance(st, session.StepWalletImportFlow); err != nil {
		return b.fail(st, err)
	}
	st.Scratch.Clear()
	return respond(menu(st, "", "How would you like to import?", optPrivateKey, optMnemonic))
}

// onImport walks the import flow: type, family, secret and, for Starknet
// private keys, the account address.
func (b *Bot) onImport(ctx context.Context, st *session.State, input string) *Response {
	auth, resp := b.requireAuth(st)
	if resp != nil {
		st.Cancel()
		resp.RedactInput = true
		return resp
	}
	sc := &st.Scratch

	switch {
	case sc.ImportType == "":
		choice, ok := choose(st, input)
		if !ok {
			return respond(Reply{Text: "Please pick one of the options.", Options: sc.Options})
		}
		sc.ImportType = session.ImportPrivateKey
		if choice == optMnemonic {
			sc.ImportType = session.ImportMnemonic
		}

		missing, err := b.missingFamilies(ctx, st)
		if err != nil {
			st.Cancel()
			return b.fail(st, err)
		}
		var options []string
		for _, f := range missing {
			if sc.ImportType == session.ImportMnemonic && f == chain.FamilyStarknet {
				continue
			}
			options = append(options, familyLabel(f))
		}
		if len(options) == 0 {
			st.Cancel()
			return respond(mainMenu(st, "Starknet accounts can only be imported with a private key and address."))
		}
		return respond(menu(st, "", "Which chain is the wallet for?", options...))

	case sc.ImportFamily == "":
		choice, ok := choose(st, input)
		if !ok {
			return respond(Reply{Text: "Please pick one of the options.", Options: sc.Options})
		}
		f, _ := familyFromLabel(choice)
		sc.ImportFamily = f
		sc.Options = nil
		if sc.ImportType == session.ImportMnemonic {
			return respond(text("Send your 12 or 24 word recovery phrase. I will delete your message right away."))
		}
		return respond(text(fmt.Sprintf("Send the %s private key in hex. I will delete your message right away.", familyLabel(f))))

	case sc.ImportWaitingAddress:
		rec, err := b.deps.Custody.ImportFromPrivateKey(ctx, sc.PendingStarknetKey, chain.FamilyStarknet, &wallet.ImportOptions{Address: input})
		if err != nil {
			if errors.Is(err, wallet.ErrInvalidKeyFormat) {
				st.Cancel()
			}
			return b.fail(st, err)
		}
		return b.finishImport(ctx, st, auth, rec)
	}

	var (
		rec *wallet.Record
		err error
	)
	switch {
	case sc.ImportType == session.ImportMnemonic:
		rec, err = b.deps.Custody.ImportFromMnemonic(input, sc.ImportFamily)
	case sc.ImportFamily == chain.FamilyStarknet:
		sc.PendingStarknetKey = input
		sc.ImportWaitingAddress = true
		if err := b.deps.Machine.Advance(st, session.StepWalletImportFlow); err != nil {
			return b.fail(st, err)
		}
		return &Response{
			Replies:     []Reply{text("Now send the Starknet account address (0x...).")},
			RedactInput: true,
		}
	default:
		rec, err = b.deps.Custody.ImportFromPrivateKey(ctx, input, sc.ImportFamily, nil)
	}
	if err != nil {
		resp := b.fail(st, err)
		resp.RedactInput = true
		return resp
	}
	resp = b.finishImport(ctx, st, auth, rec)
	resp.RedactInput = true
	return resp
}

func (b *Bot) finishImport(ctx context.Context, st *session.State, auth *session.Auth, rec *wallet.Record) *Response {
	if err := b.deps.Wallets.Save(ctx, st.UserID, rec, auth.Password); err != nil {
		st.Cancel()
		return b.fail(st, err)
	}
	st.AddWallet(rec)
	st.Scratch.Clear()
	if err := b.deps.Machine.Advance(st, session.StepWalletImported); err != nil {
		return b.fail(st, err)
	}
	b.log.Info("Wallet imported", "user", st.UserID, "family", rec.Family)

	replies := []Reply{text(fmt.Sprintf("Imported your %s wallet: %s", familyLabel(rec.Family), rec.Address))}
	if rec.ContractDeployed != nil && !*rec.ContractDeployed {
		replies = append(replies, text(undeployedNotice))
	}
	replies = append(replies, afterWalletMenu(st))
	return respond(replies...)
}

func walletLabel(rec *wallet.Record) string {
	return fmt.Sprintf("%s: %s", familyLabel(rec.Family), helpers.ShortenAddress(rec.Address))
}

func (b *Bot) showWallets(st *session.State) *Response {
	if _, resp := b.requireAuth(st); resp != nil {
		return resp
	}
	if st.Step != session.StepInitial && st.Step != session.StepWalletImported {
		st.Cancel()
	}
	if !st.HasWallets() {
		return respond(mainMenu(st, "You have no wallets yet. Create or import one."))
	}

	var options []string
	for _, rec := range st.WalletList() {
		options = append(options, walletLabel(rec))
	}
	options = append(options, optBack)
	return respond(menu(st, menuWallets, "Your wallets:", options...))
}

func (b *Bot) onWalletPicked(st *session.State, choice string) *Response {
	if choice == optBack {
		return respond(mainMenu(st, ""))
	}
	for _, rec := range st.WalletList() {
		if walletLabel(rec) == choice {
			st.Scratch.WalletAddress = rec.Address
			return respond(walletMenu(st, rec))
		}
	}
	return b.showWallets(st)
}

func walletMenu(st *session.State, rec *wallet.Record) Reply {
	options := []string{optDetails, optRevealKey}
	if rec.HasMnemonic() {
		options = append(options, optRevealPhrase)
	}
	if rec.Family == chain.FamilyEVM || rec.Family == chain.FamilyUTXO {
		options = append(options, optSignMessage)
	}
	options = append(options, optRemoveWallet, optBack)
	return menu(st, menuWallet, walletLabel(rec), options...)
}

func (b *Bot) selectedWallet(st *session.State) (*wallet.Record, bool) {
	rec, ok := st.Wallets[st.Scratch.WalletAddress]
	return rec, ok
}

func (b *Bot) onWalletAction(ctx context.Context, st *session.State, choice string) *Response {
	if _, resp := b.requireAuth(st); resp != nil {
		return resp
	}
	rec, ok := b.selectedWallet(st)
	if !ok {
		return b.showWallets(st)
	}

	switch choice {
	case optDetails:
		return respond(text(b.walletDetails(ctx, rec)), walletMenu(st, rec))
	case optRevealKey:
		return respond(Reply{Text: "Private key:\n\n" + rec.PrivateKey + "\n\n" + keyWarning, Sensitive: true}, walletMenu(st, rec))
	case optRevealPhrase:
		return respond(Reply{Text: "Recovery phrase:\n\n" + rec.Mnemonic + "\n\n" + keyWarning, Sensitive: true}, walletMenu(st, rec))
	case optSignMessage:
		st.Scratch.Menu = menuSignMessage
		st.Scratch.Options = nil
		return respond(text("Send the message to sign."))
	case optRemoveWallet:
		prompt := fmt.Sprintf("Remove your %s wallet %s? Its keys will be deleted for good unless you have a backup.",
			familyLabel(rec.Family), rec.Address)
		return respond(menu(st, menuRemoveWallet, prompt, optConfirmRemove, optBack))
	default:
		return b.showWallets(st)
	}
}

func (b *Bot) onRemoveWallet(ctx context.Context, st *session.State, choice string) *Response {
	if _, resp := b.requireAuth(st); resp != nil {
		return resp
	}
	rec, ok := b.selectedWallet(st)
	if !ok {
		return b.showWallets(st)
	}
	if choice != optConfirmRemove {
		return respond(walletMenu(st, rec))
	}

	if err := b.deps.Wallets.Delete(ctx, st.UserID, rec.ID); err != nil {
		return b.fail(st, err)
	}
	b.log.Info("Wallet removed", "user", st.UserID, "family", rec.Family, "wallet_id", rec.ID)
	label := familyLabel(rec.Family)
	st.RemoveWallet(rec.Address)
	st.Scratch.WalletAddress = ""
	return respond(mainMenu(st, fmt.Sprintf("Your %s wallet was removed.", label)))
}

// walletDetails renders address, key and status lines. EVM wallets also
// get a balance line per configured chain.
func (b *Bot) walletDetails(ctx context.Context, rec *wallet.Record) string {
	lines := []string{
		"Chain: " + familyLabel(rec.Family),
		"Address: " + rec.Address,
		"Public key: " + rec.PublicKey,
	}
	if rec.Family == chain.FamilyStarknet {
		status := "unknown"
		if rec.ContractDeployed != nil {
			status = "not deployed"
			if *rec.ContractDeployed {
				status = "deployed"
			}
		}
		lines = append(lines, "Account contract: "+status)
	}

	if rec.Family == chain.FamilyUTXO && b.deps.Bitcoin != nil {
		lines = append(lines, "", b.bitcoinBalance(ctx, rec.Address))
	}

	if rec.Family == chain.FamilyEVM && b.deps.Balances != nil {
		if chains := b.deps.Balances.Chains(); len(chains) > 0 {
			lines = append(lines, "", "Balances:")
		}
		for _, id := range b.deps.Balances.Chains() {
			name := helpers.ChainDisplayName(id)
			if p, ok := chain.Get(id); ok {
				name = p.Name
			}
			balances, err := b.deps.Balances.ForChain(ctx, id, rec.Address)
			if err != nil {
				b.log.Warn("Balance lookup failed", "chain", id, "error", err)
				lines = append(lines, name+": unavailable")
				continue
			}
			parts := make([]string, len(balances))
			for i, bal := range balances {
				parts[i] = bal.Amount + " " + bal.Symbol
			}
			lines = append(lines, name+": "+strings.Join(parts, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) bitcoinBalance(ctx context.Context, address string) string {
	info, err := b.deps.Bitcoin.GetAddressInfo(ctx, address)
	switch {
	case errors.Is(err, backend.ErrAddressNotFound):
		return "Balance: 0 BTC"
	case err != nil:
		b.log.Warn("Bitcoin balance lookup failed", "error", err)
		return "Balance: unavailable"
	}

	line := "Balance: " + helpers.FormatUint(info.Balance, 8) + " BTC"
	if pending := info.MempoolBalance; pending != 0 {
		sign := "+"
		if pending < 0 {
			sign = "-"
			pending = -pending
		}
		line += " (" + sign + helpers.FormatUint(uint64(pending), 8) + " BTC pending)"
	}
	return line
}

func (b *Bot) signMessage(st *session.State, input string) *Response {
	if _, resp := b.requireAuth(st); resp != nil {
		return resp
	}
	rec, ok := b.selectedWallet(st)
	if !ok {
		return b.showWallets(st)
	}
	if input == "" {
		return respond(text("Send the message to sign."))
	}

	acct, err := b.deps.Custody.Account(rec)
	if err != nil {
		return b.fail(st, err)
	}

	var signature string
	switch a := acct.(type) {
	case *wallet.EVMAccount:
		sig, err := a.PersonalSign([]byte(input))
		if err != nil {
			return b.fail(st, fmt.Errorf("failed to sign message: %w", err))
		}
		signature = hexutil.Encode(sig)
	case *wallet.BitcoinAccount:
		sig, err := a.SignMessage([]byte(input))
		if err != nil {
			return b.fail(st, fmt.Errorf("failed to sign message: %w", err))
		}
		signature = base64.StdEncoding.EncodeToString(sig)
	default:
		return respond(text("Message signing is not available for this wallet."), walletMenu(st, rec))
	}
	return respond(text("Signature:\n" + signature), walletMenu(st, rec))
}
