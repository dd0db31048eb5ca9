package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/swapbot/internal/apperr"
	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/wallet"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// Wallet errors
var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrWalletExists   = errors.New("wallet already stored for this chain family")
)

// StoredWallet is the persisted form of a wallet. Secrets exist only as
// cipher envelopes.
type StoredWallet struct {
	ID               int64
	UserID           string
	Family           chain.Family
	Address          string
	PublicKey        string
	PrivateKeyCipher string
	MnemonicCipher   string
	ContractDeployed *bool
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

// WalletInfo is the listing form of a wallet, readable without a password.
type WalletInfo struct {
	ID               int64
	Family           chain.Family
	Address          string
	PublicKey        string
	HasMnemonic      bool
	ContractDeployed *bool
	CreatedAt        time.Time
}

// Sealer encrypts and decrypts secrets under a password.
type Sealer interface {
	EncryptString(secret, password string) (string, error)
	DecryptString(envelope, password string) (string, error)
}

// WalletStore persists wallets per user with secrets encrypted under the
// user's password.
type WalletStore struct {
	store  *Storage
	sealer Sealer
	log    *logging.Logger
}

// NewWalletStore creates a wallet store on top of s.
func NewWalletStore(s *Storage, sealer Sealer) *WalletStore {
	return &WalletStore{
		store:  s,
		sealer: sealer,
		log:    logging.GetDefault().Component("wallet-store"),
	}
}

// Save encrypts rec's secrets under password and persists it. A user holds
// at most one wallet per family; saving another fails with ErrWalletExists
// until the stored one is deleted. The record's ID is set on success.
func (w *WalletStore) Save(ctx context.Context, userID string, rec *wallet.Record, password string) error {
	if rec == nil || rec.PrivateKey == "" {
		return apperr.InvalidInput("Wallet has no private key to store.")
	}

	keyCipher, err := w.sealer.EncryptString(rec.PrivateKey, password)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to encrypt wallet", err)
	}
	var mnemonicCipher string
	if rec.Mnemonic != "" {
		mnemonicCipher, err = w.sealer.EncryptString(rec.Mnemonic, password)
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, "failed to encrypt wallet", err)
		}
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	var id int64
	err = w.store.db.QueryRowContext(ctx, `
		INSERT INTO wallets (
			user_id, family, address, public_key,
			private_key_cipher, mnemonic_cipher, contract_deployed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		userID, string(rec.Family), rec.Address, nullString(rec.PublicKey),
		keyCipher, nullString(mnemonicCipher), nullBool(rec.ContractDeployed), createdAt.Unix(),
	).Scan(&id)
	if isUniqueConstraintError(err) {
		msg := fmt.Sprintf("You already have a %s wallet. Remove it under My wallets before adding another.", rec.Family.DisplayName())
		return apperr.Wrap(apperr.KindInvalidInput, msg, ErrWalletExists)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to save wallet", err)
	}

	rec.ID = id
	w.log.Info("Wallet saved", "user", userID, "family", rec.Family, "wallet_id", id)
	return nil
}

// Load decrypts one wallet of userID. A wrong password is reported as an
// authentication error.
func (w *WalletStore) Load(ctx context.Context, userID string, walletID int64, password string) (*wallet.Record, error) {
	sw, err := w.get(ctx, userID, walletID)
	if err != nil {
		return nil, err
	}
	return w.open(sw, password)
}

// LoadAll decrypts every wallet of userID.
func (w *WalletStore) LoadAll(ctx context.Context, userID, password string) ([]*wallet.Record, error) {
	stored, err := w.listStored(ctx, userID)
	if err != nil {
		return nil, err
	}

	records := make([]*wallet.Record, 0, len(stored))
	for _, sw := range stored {
		rec, err := w.open(sw, password)
		if err != nil {
			for _, r := range records {
				r.Clear()
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// List returns wallet metadata for userID without decrypting anything.
func (w *WalletStore) List(ctx context.Context, userID string) ([]*WalletInfo, error) {
	stored, err := w.listStored(ctx, userID)
	if err != nil {
		return nil, err
	}

	infos := make([]*WalletInfo, 0, len(stored))
	for _, sw := range stored {
		infos = append(infos, &WalletInfo{
			ID:               sw.ID,
			Family:           sw.Family,
			Address:          sw.Address,
			PublicKey:        sw.PublicKey,
			HasMnemonic:      sw.MnemonicCipher != "",
			ContractDeployed: sw.ContractDeployed,
			CreatedAt:        sw.CreatedAt,
		})
	}
	return infos, nil
}

// SetContractDeployed updates the Starknet deployment flag of a wallet.
func (w *WalletStore) SetContractDeployed(ctx context.Context, userID string, walletID int64, deployed bool) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	result, err := w.store.db.ExecContext(ctx,
		`UPDATE wallets SET contract_deployed = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		nullBool(&deployed), time.Now().Unix(), walletID, userID,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to update wallet", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.KindNotFound, "Wallet not found.", ErrWalletNotFound)
	}
	return nil
}

// Delete removes one wallet of userID.
func (w *WalletStore) Delete(ctx context.Context, userID string, walletID int64) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	result, err := w.store.db.ExecContext(ctx,
		`DELETE FROM wallets WHERE id = ? AND user_id = ?`, walletID, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to delete wallet", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.KindNotFound, "Wallet not found.", ErrWalletNotFound)
	}
	return nil
}

// Reencrypt moves every wallet of userID from oldPassword to newPassword
// and stores the new password hash. All envelopes are prepared before the
// transaction opens; if any wallet fails to decrypt nothing is written.
func (w *WalletStore) Reencrypt(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := w.store.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return apperr.Wrap(apperr.KindNotFound, "You are not registered.", err)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to load user", err)
	}
	if !wallet.VerifyPassword(user.PasswordHash, oldPassword) {
		return apperr.New(apperr.KindAuthentication, "Current password is incorrect.")
	}

	newHash, err := wallet.HashPassword(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to hash password", err)
	}

	stored, err := w.listStored(ctx, userID)
	if err != nil {
		return err
	}

	type rotated struct {
		id       int64
		key      string
		mnemonic string
	}
	staged := make([]rotated, 0, len(stored))
	for _, sw := range stored {
		rec, err := w.open(sw, oldPassword)
		if err != nil {
			return err
		}
		r := rotated{id: sw.ID}
		r.key, err = w.sealer.EncryptString(rec.PrivateKey, newPassword)
		if err == nil && rec.Mnemonic != "" {
			r.mnemonic, err = w.sealer.EncryptString(rec.Mnemonic, newPassword)
		}
		rec.Clear()
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, "failed to encrypt wallet", err)
		}
		staged = append(staged, r)
	}

	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, r := range staged {
		if _, err := tx.ExecContext(ctx,
			`UPDATE wallets SET private_key_cipher = ?, mnemonic_cipher = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
			r.key, nullString(r.mnemonic), now, r.id, userID,
		); err != nil {
			return apperr.Wrap(apperr.KindPersistence, "failed to re-encrypt wallet", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE user_id = ?`,
		newHash, now, userID,
	); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to update password", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "failed to commit re-encryption", err)
	}

	w.log.Info("Wallets re-encrypted", "user", userID, "count", len(staged))
	return nil
}

func (w *WalletStore) open(sw *StoredWallet, password string) (*wallet.Record, error) {
	rec := &wallet.Record{
		ID:               sw.ID,
		Family:           sw.Family,
		Address:          sw.Address,
		PublicKey:        sw.PublicKey,
		ContractDeployed: sw.ContractDeployed,
		CreatedAt:        sw.CreatedAt,
	}

	var err error
	rec.PrivateKey, err = w.sealer.DecryptString(sw.PrivateKeyCipher, password)
	if err != nil {
		return nil, decryptError(err)
	}
	if sw.MnemonicCipher != "" {
		rec.Mnemonic, err = w.sealer.DecryptString(sw.MnemonicCipher, password)
		if err != nil {
			rec.Clear()
			return nil, decryptError(err)
		}
	}
	return rec, nil
}

func decryptError(err error) error {
	if errors.Is(err, wallet.ErrDecrypt) {
		return apperr.Wrap(apperr.KindAuthentication, "Wrong password.", err)
	}
	return apperr.Wrap(apperr.KindPersistence, "failed to decrypt wallet", err)
}

const walletColumns = `id, user_id, family, address, public_key,
	private_key_cipher, mnemonic_cipher, contract_deployed, created_at, updated_at`

func (w *WalletStore) get(ctx context.Context, userID string, walletID int64) (*StoredWallet, error) {
	w.store.mu.RLock()
	defer w.store.mu.RUnlock()

	row := w.store.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = ? AND user_id = ?`, walletID, userID)
	sw, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.KindNotFound, "Wallet not found.", ErrWalletNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to load wallet", err)
	}
	return sw, nil
}

func (w *WalletStore) listStored(ctx context.Context, userID string) ([]*StoredWallet, error) {
	w.store.mu.RLock()
	defer w.store.mu.RUnlock()

	rows, err := w.store.db.QueryContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to list wallets", err)
	}
	defer rows.Close()

	var wallets []*StoredWallet
	for rows.Next() {
		sw, err := scanWallet(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "failed to scan wallet", err)
		}
		wallets = append(wallets, sw)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "failed to list wallets", err)
	}
	return wallets, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(row rowScanner) (*StoredWallet, error) {
	var (
		sw             StoredWallet
		family         string
		publicKey      sql.NullString
		mnemonicCipher sql.NullString
		deployed       sql.NullInt64
		createdAt      int64
		updatedAt      sql.NullInt64
	)
	err := row.Scan(
		&sw.ID, &sw.UserID, &family, &sw.Address, &publicKey,
		&sw.PrivateKeyCipher, &mnemonicCipher, &deployed, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sw.Family = chain.Family(family)
	sw.PublicKey = publicKey.String
	sw.MnemonicCipher = mnemonicCipher.String
	sw.ContractDeployed = boolPtr(deployed)
	sw.CreatedAt = time.Unix(createdAt, 0)
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0)
		sw.UpdatedAt = &t
	}
	return &sw, nil
}

// String implements fmt.Stringer without exposing ciphers.
func (sw *StoredWallet) String() string {
	return fmt.Sprintf("wallet %d (%s %s)", sw.ID, sw.Family, sw.Address)
}
