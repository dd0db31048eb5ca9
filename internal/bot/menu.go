package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/klingon-exchange/swapbot/internal/session"
)

// Reply is one outbound message: text and, optionally, numbered options.
type Reply struct {
	Text    string
	Options []string
	// Sensitive replies carry secrets such as private keys.
	Sensitive bool
	// Durable replies report something that already happened, such as a
	// created order, and survive /cancel.
	Durable bool
}

// Render formats the reply as plain text with numbered options.
func (r Reply) Render() string {
	if len(r.Options) == 0 {
		return r.Text
	}
	var b strings.Builder
	b.WriteString(r.Text)
	b.WriteString("\n")
	for i, opt := range r.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
	}
	return b.String()
}

// Response is the outcome of one user turn.
type Response struct {
	Replies []Reply
	// RedactInput asks the transport to remove the user's message because
	// it contained a password or key material.
	RedactInput bool
}

func respond(replies ...Reply) *Response {
	return &Response{Replies: replies}
}

func text(s string) Reply {
	return Reply{Text: s}
}

// menu builds a reply with options and remembers them on the state so the
// next message can pick one by number or label.
func menu(st *session.State, name, prompt string, options ...string) Reply {
	st.Scratch.Menu = name
	st.Scratch.Options = options
	return Reply{Text: prompt, Options: options}
}

// choose resolves input against the remembered options.
func choose(st *session.State, input string) (string, bool) {
	return pick(st.Scratch.Options, input)
}

func pick(options []string, input string) (string, bool) {
	input = strings.TrimSpace(input)
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1], true
		}
		return "", false
	}
	for _, opt := range options {
		if strings.EqualFold(opt, input) {
			return opt, true
		}
	}
	return "", false
}

// Menu names.
const (
	menuMain         = "main"
	menuAfterWallet  = "after_wallet"
	menuWallets      = "wallets"
	menuWallet       = "wallet"
	menuSignMessage  = "sign_message"
	menuRemoveWallet = "remove_wallet"
)

// Option labels.
const (
	optCreateWallets = "Create wallets"
	optImportWallet  = "Import wallet"
	optMyWallets     = "My wallets"
	optStartSwap     = "Start swap"
	optMainMenu      = "Main menu"
	optBack          = "Back"

	optAllChains = "All chains"

	optPrivateKey = "Private key"
	optMnemonic   = "Mnemonic phrase"

	optDetails       = "Details"
	optRevealKey     = "Reveal private key"
	optRevealPhrase  = "Reveal mnemonic"
	optSignMessage   = "Sign message"
	optRemoveWallet  = "Remove wallet"
	optConfirmRemove = "Yes, remove it"
	optUseWallet     = "Use my wallet"
	optEnterManually = "Enter address manually"
	optConfirm       = "Confirm"
	optCancel        = "Cancel"
)

func mainMenu(st *session.State, prompt string) Reply {
	if prompt == "" {
		prompt = "What would you like to do?"
	}
	return menu(st, menuMain, prompt, optCreateWallets, optImportWallet, optMyWallets, optStartSwap)
}

// mainChoice accepts a main menu label typed while another menu is shown.
// Numbers always refer to the menu last shown.
func mainChoice(input string) (string, bool) {
	if _, err := strconv.Atoi(strings.TrimSpace(input)); err == nil {
		return "", false
	}
	return pick([]string{optCreateWallets, optImportWallet, optMyWallets, optStartSwap}, input)
}

const helpText = `I can hold wallets for Ethereum-style chains, Bitcoin and Starknet, and swap between them.

Commands:
/register <password> - create your account
/login <password> - unlock your wallets
/logout - lock your wallets
/password <old> <new> - change your password
/wallet - list your wallets
/swap - start a swap
/cancel - abandon the current step
/help - show this message

Reply to a menu with the option number or its text.`
