package session

import (
	"sort"
	"time"

	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/wallet"
)

// SwapIntent is the swap being collected from the user.
type SwapIntent struct {
	// Network is the EVM network the swap engine instance runs against.
	Network   string
	FromAsset *chain.Asset
	ToAsset   *chain.Asset

	// SendAmount is in the from-asset's display units.
	SendAmount         string
	DestinationAddress string
	Nonce              string

	// Quote results, filled before confirmation.
	StrategyID    string
	ReceiveAmount string
}

// Complete reports whether every field needed for submission is set.
func (i *SwapIntent) Complete() bool {
	return i != nil &&
		i.Network != "" &&
		i.FromAsset != nil &&
		i.ToAsset != nil &&
		i.SendAmount != "" &&
		i.DestinationAddress != "" &&
		i.Nonce != ""
}

// ImportType is how a wallet is being imported.
type ImportType string

const (
	ImportPrivateKey ImportType = "private_key"
	ImportMnemonic   ImportType = "mnemonic"
)

// Scratch holds fields used in the middle of a flow.
type Scratch struct {
	ImportType   ImportType
	ImportFamily chain.Family

	// PendingStarknetKey waits here until the account address arrives.
	PendingStarknetKey string

	// ImportWaitingAddress is set after a Starknet key has been accepted.
	ImportWaitingAddress bool

	// Menu names the menu last shown outside the swap flow, and Options
	// the labels it offered, so a numbered reply can be resolved.
	Menu    string
	Options []string

	// WalletAddress is the wallet picked from the wallet list.
	WalletAddress string
}

// Clear wipes scratch fields, including a pending key.
func (s *Scratch) Clear() {
	*s = Scratch{}
}

// State is one user's conversation.
type State struct {
	UserID string
	Step   Step

	// Wallets holds decrypted session-form wallets keyed by address.
	Wallets      map[string]*wallet.Record
	ActiveWallet string

	Intent  *SwapIntent
	Scratch Scratch

	UpdatedAt time.Time
}

// NewState returns a fresh state at the initial step.
func NewState(userID string) *State {
	return &State{
		UserID:    userID,
		Step:      StepInitial,
		Wallets:   make(map[string]*wallet.Record),
		UpdatedAt: time.Now(),
	}
}

// AddWallet puts rec in the session, replacing a wallet of the same family.
// The first wallet added becomes active.
func (s *State) AddWallet(rec *wallet.Record) {
	for addr, w := range s.Wallets {
		if w.Family == rec.Family && addr != rec.Address {
			w.Clear()
			delete(s.Wallets, addr)
			if s.ActiveWallet == addr {
				s.ActiveWallet = ""
			}
		}
	}
	s.Wallets[rec.Address] = rec
	if s.ActiveWallet == "" {
		s.ActiveWallet = rec.Address
	}
}

// RemoveWallet drops a wallet from the session. If it was active, the
// first remaining wallet becomes active.
func (s *State) RemoveWallet(addr string) {
	w, ok := s.Wallets[addr]
	if !ok {
		return
	}
	w.Clear()
	delete(s.Wallets, addr)
	if s.ActiveWallet == addr {
		s.ActiveWallet = ""
		if list := s.WalletList(); len(list) > 0 {
			s.ActiveWallet = list[0].Address
		}
	}
}

// HasWallets reports whether any wallet is loaded.
func (s *State) HasWallets() bool {
	return len(s.Wallets) > 0
}

// WalletFor returns the session wallet of a family.
func (s *State) WalletFor(f chain.Family) (*wallet.Record, bool) {
	for _, w := range s.Wallets {
		if w.Family == f {
			return w, true
		}
	}
	return nil, false
}

// WalletList returns session wallets ordered by family then address.
func (s *State) WalletList() []*wallet.Record {
	list := make([]*wallet.Record, 0, len(s.Wallets))
	for _, w := range s.Wallets {
		list = append(list, w)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Family != list[j].Family {
			return familyOrder(list[i].Family) < familyOrder(list[j].Family)
		}
		return list[i].Address < list[j].Address
	})
	return list
}

func familyOrder(f chain.Family) int {
	for i, fam := range chain.Families {
		if fam == f {
			return i
		}
	}
	return len(chain.Families)
}

// Cancel returns to the initial step, dropping the swap intent and scratch
// fields. Wallets stay loaded.
func (s *State) Cancel() {
	s.Step = StepInitial
	s.Intent = nil
	s.Scratch.Clear()
	s.UpdatedAt = time.Now()
}

// Reset is Cancel plus dropping every wallet from memory.
func (s *State) Reset() {
	s.Cancel()
	for addr, w := range s.Wallets {
		w.Clear()
		delete(s.Wallets, addr)
	}
	s.ActiveWallet = ""
}
