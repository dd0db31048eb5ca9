package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/klingon-exchange/swapbot/internal/apperr"
	"github.com/klingon-exchange/swapbot/internal/session"
	"github.com/klingon-exchange/swapbot/internal/storage"
	"github.com/klingon-exchange/swapbot/internal/wallet"
)

func (b *Bot) register(ctx context.Context, st *session.State, args []string) *Response {
	if len(args) != 1 {
		return &Response{Replies: []Reply{text("Usage: /register <password>")}, RedactInput: len(args) > 0}
	}
	password := args[0]

	resp := b.doRegister(ctx, st, password)
	resp.RedactInput = true
	return resp
}

func (b *Bot) doRegister(ctx context.Context, st *session.State, password string) *Response {
	if err := wallet.ValidatePassword(password); err != nil {
		return respond(text(fmt.Sprintf("Weak password: %s. Use at least 3 of upper case, lower case, digits and symbols.", err)))
	}
	hash, err := wallet.HashPassword(password)
	if err != nil {
		return b.fail(st, err)
	}

	if err := b.deps.Users.CreateUser(ctx, st.UserID, hash); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return b.fail(st, apperr.Wrap(apperr.KindInvalidInput, "You are already registered. Use /login <password>.", err))
		}
		return b.fail(st, apperr.Wrap(apperr.KindPersistence, "registration failed", err))
	}

	st.Reset()
	b.deps.Sessions.Login(st.UserID, password)
	b.log.Info("User registered", "user", st.UserID)
	return respond(
		text("Account created and logged in. I never store your password, so keep it safe: without it your wallets cannot be unlocked."),
		mainMenu(st, ""),
	)
}

func (b *Bot) login(ctx context.Context, st *session.State, args []string) *Response {
	if len(args) != 1 {
		return &Response{Replies: []Reply{text("Usage: /login <password>")}, RedactInput: len(args) > 0}
	}
	resp := b.doLogin(ctx, st, args[0])
	resp.RedactInput = true
	return resp
}

func (b *Bot) doLogin(ctx context.Context, st *session.State, password string) *Response {
	user, err := b.deps.Users.GetUser(ctx, st.UserID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return respond(text("You don't have an account yet. Create one with /register <password>."))
	}
	if err != nil {
		return b.fail(st, apperr.Wrap(apperr.KindPersistence, "login failed", err))
	}
	if !wallet.VerifyPassword(user.PasswordHash, password) {
		return b.fail(st, apperr.New(apperr.KindAuthentication, "Wrong password."))
	}

	records, err := b.deps.Wallets.LoadAll(ctx, st.UserID, password)
	if err != nil {
		return b.fail(st, err)
	}

	st.Reset()
	for _, rec := range records {
		st.AddWallet(rec)
	}
	b.deps.Sessions.Login(st.UserID, password)
	b.log.Info("User logged in", "user", st.UserID, "wallets", len(records))

	if len(records) == 0 {
		return respond(mainMenu(st, "Logged in. You have no wallets yet."))
	}
	return respond(mainMenu(st, pluralWallets(len(records))))
}

// restoreWallets reloads the wallets of a still logged-in user into a
// conversation that was recreated after it expired.
func (b *Bot) restoreWallets(ctx context.Context, st *session.State) {
	auth, ok := b.deps.Sessions.Auth(st.UserID)
	if !ok {
		return
	}
	records, err := b.deps.Wallets.LoadAll(ctx, st.UserID, auth.Password)
	if err != nil {
		b.log.Warn("Failed to reload wallets", "user", st.UserID, "error", err)
		return
	}
	for _, rec := range records {
		st.AddWallet(rec)
	}
	if len(records) > 0 {
		b.log.Debug("Wallets reloaded", "user", st.UserID, "count", len(records))
	}
}

func pluralWallets(n int) string {
	if n == 1 {
		return "Logged in. 1 wallet unlocked."
	}
	return fmt.Sprintf("Logged in. %d wallets unlocked.", n)
}

func (b *Bot) changePassword(ctx context.Context, st *session.State, args []string) *Response {
	if len(args) != 2 {
		return &Response{Replies: []Reply{text("Usage: /password <old> <new>")}, RedactInput: len(args) > 0}
	}
	resp := b.doChangePassword(ctx, st, args[0], args[1])
	resp.RedactInput = true
	return resp
}

func (b *Bot) doChangePassword(ctx context.Context, st *session.State, oldPassword, newPassword string) *Response {
	if _, resp := b.requireAuth(st); resp != nil {
		return resp
	}
	if err := wallet.ValidatePassword(newPassword); err != nil {
		return respond(text(fmt.Sprintf("Weak password: %s.", err)))
	}
	if oldPassword == newPassword {
		return respond(text("The new password must differ from the old one."))
	}

	if err := b.deps.Wallets.Reencrypt(ctx, st.UserID, oldPassword, newPassword); err != nil {
		return b.fail(st, err)
	}
	b.deps.Sessions.Login(st.UserID, newPassword)
	b.log.Info("Password changed", "user", st.UserID)
	return respond(text("Password changed. All wallets are now encrypted with the new password."))
}
