package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/swapbot/internal/apperr"
)

// Transition errors
var (
	ErrIllegalTransition = errors.New("illegal step transition")
	ErrNoWallet          = errors.New("no wallet loaded")
	ErrNoNetwork         = errors.New("network not selected")
	ErrNoFromAsset       = errors.New("source asset not selected")
	ErrNoToAsset         = errors.New("destination asset not selected")
	ErrNoAmount          = errors.New("amount not set")
	ErrNoDestination     = errors.New("destination address not set")
)

// Guard checks that a state carries what a step needs before entering it.
type Guard func(*State) error

// Machine enforces the transition table. Every step may always return to
// StepInitial.
type Machine struct {
	next   map[Step]map[Step]bool
	guards map[Step]Guard
}

// DefaultTransitions is the conversation's transition table.
func DefaultTransitions() map[Step][]Step {
	return map[Step][]Step{
		StepInitial:          {StepWalletCreate, StepWalletImportFlow, StepSelectNetwork},
		StepWalletCreate:     {StepWalletImported},
		StepWalletImportFlow: {StepWalletImportFlow, StepWalletImported},
		StepWalletImported:   {StepSelectNetwork, StepWalletCreate, StepWalletImportFlow},
		StepSelectNetwork:    {StepSelectFromAsset},
		StepSelectFromAsset:  {StepSelectToAsset},
		StepSelectToAsset:    {StepSwapAmount},
		// Out of range amounts re-prompt in place.
		StepSwapAmount:              {StepSwapAmount, StepChooseDestinationMethod, StepEnterDestination},
		StepChooseDestinationMethod: {StepEnterDestination, StepConfirmSwap},
		StepEnterDestination:        {StepEnterDestination, StepConfirmSwap},
		// A failed submission returns to the amount or re-renders the summary.
		StepConfirmSwap: {StepConfirmSwap, StepSwapAmount},
	}
}

// DefaultGuards are the entry requirements per step.
func DefaultGuards() map[Step]Guard {
	return map[Step]Guard{
		StepSelectNetwork:           requireWallet,
		StepSelectFromAsset:         all(requireWallet, requireNetwork),
		StepSelectToAsset:           all(requireWallet, requireNetwork, requireFromAsset),
		StepSwapAmount:              all(requireWallet, requireNetwork, requireFromAsset, requireToAsset),
		StepChooseDestinationMethod: all(requireWallet, requireNetwork, requireFromAsset, requireToAsset, requireAmount),
		StepEnterDestination:        all(requireWallet, requireNetwork, requireFromAsset, requireToAsset, requireAmount),
		StepConfirmSwap:             all(requireWallet, requireNetwork, requireFromAsset, requireToAsset, requireAmount, requireDestination),
	}
}

// NewMachine builds a machine and checks the table is well formed: every
// step is known, and every step other than initial is reachable.
func NewMachine(transitions map[Step][]Step, guards map[Step]Guard) (*Machine, error) {
	m := &Machine{
		next:   make(map[Step]map[Step]bool),
		guards: make(map[Step]Guard),
	}

	reachable := map[Step]bool{StepInitial: true}
	for from, tos := range transitions {
		if !from.Valid() {
			return nil, fmt.Errorf("unknown step %q in transition table", from)
		}
		m.next[from] = make(map[Step]bool)
		for _, to := range tos {
			if !to.Valid() {
				return nil, fmt.Errorf("unknown step %q reachable from %q", to, from)
			}
			m.next[from][to] = true
			reachable[to] = true
		}
	}
	for _, s := range Steps {
		if !reachable[s] {
			return nil, fmt.Errorf("step %q is unreachable", s)
		}
		if _, ok := m.next[s]; !ok && s != StepInitial {
			return nil, fmt.Errorf("step %q has no outgoing transitions", s)
		}
	}

	for step, g := range guards {
		if !step.Valid() {
			return nil, fmt.Errorf("guard for unknown step %q", step)
		}
		m.guards[step] = g
	}
	return m, nil
}

// DefaultMachine returns the machine for the default table.
func DefaultMachine() *Machine {
	m, err := NewMachine(DefaultTransitions(), DefaultGuards())
	if err != nil {
		panic(err)
	}
	return m
}

// CanEnter checks the guard for step without moving.
func (m *Machine) CanEnter(st *State, to Step) error {
	if g, ok := m.guards[to]; ok {
		return g(st)
	}
	return nil
}

// Advance moves st to the next step if the edge exists and its guard
// passes. On error st is unchanged.
func (m *Machine) Advance(st *State, to Step) error {
	if to == StepInitial {
		st.Cancel()
		return nil
	}
	if !m.next[st.Step][to] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, st.Step, to)
	}
	if err := m.CanEnter(st, to); err != nil {
		return err
	}
	st.Step = to
	st.UpdatedAt = time.Now()
	return nil
}

// Allowed lists the steps reachable from st's current step.
func (m *Machine) Allowed(from Step) []Step {
	var out []Step
	for _, s := range Steps {
		if m.next[from][s] {
			out = append(out, s)
		}
	}
	return out
}

func all(guards ...Guard) Guard {
	return func(st *State) error {
		for _, g := range guards {
			if err := g(st); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireWallet(st *State) error {
	if !st.HasWallets() {
		return apperr.Wrap(apperr.KindNotFound, "You need a wallet first. Create or import one.", ErrNoWallet)
	}
	return nil
}

func requireNetwork(st *State) error {
	if st.Intent == nil || st.Intent.Network == "" {
		return apperr.Wrap(apperr.KindInvalidInput, "Please select a network first.", ErrNoNetwork)
	}
	return nil
}

func requireFromAsset(st *State) error {
	if st.Intent == nil || st.Intent.FromAsset == nil {
		return apperr.Wrap(apperr.KindInvalidInput, "Please select the asset to send first.", ErrNoFromAsset)
	}
	return nil
}

func requireToAsset(st *State) error {
	if st.Intent == nil || st.Intent.ToAsset == nil {
		return apperr.Wrap(apperr.KindInvalidInput, "Please select the asset to receive first.", ErrNoToAsset)
	}
	return nil
}

func requireAmount(st *State) error {
	if st.Intent == nil || st.Intent.SendAmount == "" {
		return apperr.Wrap(apperr.KindInvalidInput, "Please enter an amount first.", ErrNoAmount)
	}
	return nil
}

func requireDestination(st *State) error {
	if st.Intent == nil || st.Intent.DestinationAddress == "" {
		return apperr.Wrap(apperr.KindInvalidInput, "Please enter a destination address first.", ErrNoDestination)
	}
	return nil
}
