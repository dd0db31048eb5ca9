package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/klingon-exchange/swapbot/internal/apperr"
	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/session"
	"github.com/klingon-exchange/swapbot/internal/swap"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

const pickOption = "Please pick one of the options."

func chainName(id string) string {
	if p, ok := chain.Get(id); ok {
		return p.Name
	}
	return helpers.ChainDisplayName(id)
}

func assetLabels(assets []*chain.Asset) []string {
	labels := make([]string, len(assets))
	for i, a := range assets {
		labels[i] = a.Label()
	}
	return labels
}

func assetByLabel(assets []*chain.Asset, label string) (*chain.Asset, bool) {
	for _, a := range assets {
		if a.Label() == label {
			return a, true
		}
	}
	return nil, false
}

// sourceAssets are the assets the user can send: those of a family they
// hold a wallet for.
func sourceAssets(st *session.State) []*chain.Asset {
	var out []*chain.Asset
	for _, a := range chain.Assets() {
		if _, ok := st.WalletFor(a.Family()); ok {
			out = append(out, a)
		}
	}
	return out
}

func (b *Bot) startSwap(ctx context.Context, st *session.State) *Response {
	if _, resp := b.requireAuth(st); resp != nil {
		return resp
	}
	if st.Step != session.StepInitial && st.Step != session.StepWalletImported {
		st.Cancel()
	}
	if err := b.deps.Machine.Advance(st, session.StepSelectNetwork); err != nil {
		if errors.Is(err, session.ErrNoWallet) {
			return respond(menu(st, menuMain, apperr.UserMessage(err), optCreateWallets, optImportWallet))
		}
		return b.fail(st, err)
	}
	st.Intent = &session.SwapIntent{}
	st.Scratch.Clear()

	var networks []string
	for _, p := range chain.Selectable() {
		networks = append(networks, p.Name)
	}
	return respond(menu(st, "", "Which network should the swap run on?", networks...))
}

func (b *Bot) onNetwork(ctx context.Context, st *session.State, input string) *Response {
	choice, ok := choose(st, input)
	if !ok {
		return respond(Reply{Text: pickOption, Options: st.Scratch.Options})
	}
	var network string
	for _, p := range chain.Selectable() {
		if p.Name == choice {
			network = p.ID
		}
	}
	if network == "" {
		return respond(Reply{Text: pickOption, Options: st.Scratch.Options})
	}

	assets := sourceAssets(st)
	if len(assets) == 0 {
		st.Cancel()
		return respond(mainMenu(st, "None of your wallets can send a supported asset yet. Create or import another wallet."))
	}

	st.Intent.Network = network
	if err := b.deps.Machine.Advance(st, session.StepSelectFromAsset); err != nil {
		return b.fail(st, err)
	}
	return respond(menu(st, "", "Which asset do you want to send?", assetLabels(assets)...))
}

func (b *Bot) onFromAsset(ctx context.Context, st *session.State, input string) *Response {
	choice, ok := choose(st, input)
	if !ok {
		return respond(Reply{Text: pickOption, Options: st.Scratch.Options})
	}
	from, ok := assetByLabel(sourceAssets(st), choice)
	if !ok {
		return respond(Reply{Text: pickOption, Options: st.Scratch.Options})
	}

	st.Intent.FromAsset = from
	if err := b.deps.Machine.Advance(st, session.StepSelectToAsset); err != nil {
		return b.fail(st, err)
	}
	return respond(menu(st, "", "Which asset do you want to receive?", assetLabels(chain.DestinationAssets(from))...))
}

func (b *Bot) onToAsset(ctx context.Context, st *session.State, input string) *Response {
	choice, ok := choose(st, input)
	if !ok {
		return respond(Reply{Text: pickOption, Options: st.Scratch.Options})
	}
	to, ok := assetByLabel(chain.DestinationAssets(st.Intent.FromAsset), choice)
	if !ok {
		return respond(Reply{Text: pickOption, Options: st.Scratch.Options})
	}

	st.Intent.ToAsset = to
	if err := b.deps.Machine.Advance(st, session.StepSwapAmount); err != nil {
		return b.fail(st, err)
	}
	st.Scratch.Options = nil
	return respond(text(b.amountPrompt(ctx, st.Intent)))
}

func (b *Bot) amountPrompt(ctx context.Context, intent *session.SwapIntent) string {
	from := intent.FromAsset
	band := b.deps.Swaps.AmountBand(ctx, intent.Network, from, intent.ToAsset)
	prompt := fmt.Sprintf("How much %s do you want to send?", from.Symbol)
	switch {
	case band.Min != nil && band.Max != nil:
		prompt += fmt.Sprintf(" (min %s, max %s)", helpers.FormatUnits(band.Min, from.Decimals), helpers.FormatUnits(band.Max, from.Decimals))
	case band.Min != nil:
		prompt += fmt.Sprintf(" (min %s)", helpers.FormatUnits(band.Min, from.Decimals))
	case band.Max != nil:
		prompt += fmt.Sprintf(" (max %s)", helpers.FormatUnits(band.Max, from.Decimals))
	}
	return prompt
}

func (b *Bot) onAmount(ctx context.Context, st *session.State, input string) *Response {
	intent := st.Intent
	amount, err := b.deps.Swaps.ValidateAmount(ctx, intent.Network, intent.FromAsset, intent.ToAsset, input)
	if err != nil {
		return b.fail(st, err)
	}
	intent.SendAmount = helpers.FormatUnits(amount, intent.FromAsset.Decimals)

	to := intent.ToAsset
	if rec, ok := st.WalletFor(to.Family()); ok {
		if err := b.deps.Machine.Advance(st, session.StepChooseDestinationMethod); err != nil {
			return b.fail(st, err)
		}
		prompt := fmt.Sprintf("Where should the %s go? Your %s wallet is %s.", to.Symbol, familyLabel(rec.Family), rec.Address)
		return respond(menu(st, "", prompt, optUseWallet, optEnterManually))
	}

	if err := b.deps.Machine.Advance(st, session.StepEnterDestination); err != nil {
		return b.fail(st, err)
	}
	return respond(text(destinationPrompt(to)))
}

func destinationPrompt(to *chain.Asset) string {
	return fmt.Sprintf("Send the address on %s that should receive the %s. It must be %s.",
		chainName(to.Chain), to.Symbol, chain.AddressHint(to.Family()))
}

func (b *Bot) onDestinationMethod(ctx context.Context, st *session.State, input string) *Response {
	choice, ok := choose(st, input)
	if !ok {
		return respond(Reply{Text: pickOption, Options: st.Scratch.Options})
	}
	to := st.Intent.ToAsset

	if choice == optUseWallet {
		if rec, ok := st.WalletFor(to.Family()); ok {
			st.Intent.DestinationAddress = rec.Address
			return b.enterConfirm(ctx, st)
		}
	}

	if err := b.deps.Machine.Advance(st, session.StepEnterDestination); err != nil {
		return b.fail(st, err)
	}
	st.Scratch.Options = nil
	return respond(text(destinationPrompt(to)))
}

func (b *Bot) onDestination(ctx context.Context, st *session.State, input string) *Response {
	to := st.Intent.ToAsset
	if err := chain.ValidateAddress(to.Family(), input, b.deps.Custody.Network()); err != nil {
		return b.fail(st, err)
	}
	st.Intent.DestinationAddress = input
	return b.enterConfirm(ctx, st)
}

// enterConfirm quotes the intent and shows the summary.
func (b *Bot) enterConfirm(ctx context.Context, st *session.State) *Response {
	intent := st.Intent
	intent.Nonce = session.NextNonce()
	intent.StrategyID = ""
	intent.ReceiveAmount = ""
	if err := b.deps.Machine.Advance(st, session.StepConfirmSwap); err != nil {
		return b.fail(st, err)
	}

	quote, err := b.deps.Swaps.Quote(ctx, intent)
	if err != nil {
		return b.resume(ctx, st, err)
	}
	intent.StrategyID = quote.StrategyID
	intent.ReceiveAmount = quote.ReceiveAmount
	return respond(menu(st, "", summary(intent), optConfirm, optCancel))
}

func summary(intent *session.SwapIntent) string {
	from, to := intent.FromAsset, intent.ToAsset
	lines := []string{
		"Please confirm your swap:",
		"",
		"Network: " + chainName(intent.Network),
		fmt.Sprintf("Send: %s %s on %s", intent.SendAmount, from.Symbol, chainName(from.Chain)),
		fmt.Sprintf("Receive: %s on %s", to.Symbol, chainName(to.Chain)),
	}
	if v, ok := new(big.Int).SetString(intent.ReceiveAmount, 10); ok {
		lines = append(lines, fmt.Sprintf("You get about: %s %s", helpers.FormatUnits(v, to.Decimals), to.Symbol))
	}
	lines = append(lines, "Destination: "+intent.DestinationAddress)
	return strings.Join(lines, "\n")
}

func (b *Bot) onConfirm(ctx context.Context, st *session.State, input string) *Response {
	choice, ok := choose(st, input)
	if !ok {
		return respond(Reply{Text: pickOption, Options: st.Scratch.Options})
	}
	if choice == optCancel {
		st.Cancel()
		return respond(mainMenu(st, "Swap cancelled."))
	}
	if _, resp := b.requireAuth(st); resp != nil {
		st.Cancel()
		return resp
	}

	result, err := b.deps.Swaps.Submit(ctx, st.UserID, st)
	if err != nil {
		return b.resume(ctx, st, err)
	}

	intent := st.Intent
	b.log.Info("Swap submitted", "user", st.UserID, "order", result.OrderID,
		"pair", chain.OrderPair(intent.FromAsset, intent.ToAsset), "awaiting_funding", result.AwaitingFunding)

	var msg string
	if result.AwaitingFunding {
		msg = fmt.Sprintf("Order %s created.\n\nSend exactly %s %s to this deposit address:\n%s\n\nThe swap starts once the deposit confirms. I will message you when it completes.",
			result.OrderID, intent.SendAmount, intent.FromAsset.Symbol, result.DepositAddress)
	} else {
		msg = fmt.Sprintf("Order %s submitted.\n\nInitiation: %s\n\nI will message you when it completes.",
			result.OrderID, chain.TxURL(intent.FromAsset.Chain, result.InitTxHash))
	}
	st.Cancel()
	return respond(Reply{Text: msg, Durable: true}, mainMenu(st, ""))
}

// resume reports a quote or submission failure and moves the conversation
// to where the user can fix it.
func (b *Bot) resume(ctx context.Context, st *session.State, err error) *Response {
	resp := b.fail(st, err)

	switch swap.ResumeStep(err) {
	case session.StepSwapAmount:
		intent := st.Intent
		intent.SendAmount = ""
		intent.DestinationAddress = ""
		intent.Nonce = ""
		intent.StrategyID = ""
		intent.ReceiveAmount = ""
		if err := b.deps.Machine.Advance(st, session.StepSwapAmount); err != nil {
			st.Cancel()
			resp.Replies = append(resp.Replies, mainMenu(st, ""))
			return resp
		}
		st.Scratch.Options = nil
		resp.Replies = append(resp.Replies, text(b.amountPrompt(ctx, intent)))
	case session.StepConfirmSwap:
		st.Intent.Nonce = session.NextNonce()
		resp.Replies = append(resp.Replies, menu(st, "", summary(st.Intent), optConfirm, optCancel))
	default:
		st.Cancel()
		resp.Replies = append(resp.Replies, mainMenu(st, ""))
	}
	return resp
}
