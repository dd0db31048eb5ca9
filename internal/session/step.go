// Package session holds per-user conversation state and the state machine
// that governs how a swap intent is collected.
package session

// Step is a position in the conversation.
type Step string

const (
	StepInitial                 Step = "initial"
	StepWalletCreate            Step = "wallet_create"
	StepWalletImportFlow        Step = "wallet_import_flow"
	StepWalletImported          Step = "wallet_imported"
	StepSelectNetwork           Step = "select_network"
	StepSelectFromAsset         Step = "select_from_asset"
	StepSelectToAsset           Step = "select_to_asset"
	StepSwapAmount              Step = "swap_amount"
	StepChooseDestinationMethod Step = "choose_destination_method"
	StepEnterDestination        Step = "enter_destination"
	StepConfirmSwap             Step = "confirm_swap"
)

// Steps lists every step in flow order.
var Steps = []Step{
	StepInitial,
	StepWalletCreate,
	StepWalletImportFlow,
	StepWalletImported,
	StepSelectNetwork,
	StepSelectFromAsset,
	StepSelectToAsset,
	StepSwapAmount,
	StepChooseDestinationMethod,
	StepEnterDestination,
	StepConfirmSwap,
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	for _, step := range Steps {
		if s == step {
			return true
		}
	}
	return false
}

// InSwapFlow reports whether s belongs to swap intent collection.
func (s Step) InSwapFlow() bool {
	switch s {
	case StepSelectNetwork, StepSelectFromAsset, StepSelectToAsset, StepSwapAmount,
		StepChooseDestinationMethod, StepEnterDestination, StepConfirmSwap:
		return true
	}
	return false
}
