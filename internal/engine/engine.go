// Package engine is the client for the external cross-chain swap engine:
// quotes, order creation, relay initiation and background settlement.
package engine

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/klingon-exchange/swapbot/internal/chain"
)

// Engine errors
var (
	ErrNoStrategies     = errors.New("no strategies available for this pair")
	ErrOrderNotMatched  = errors.New("order was not matched in time")
	ErrUnknownOrder     = errors.New("order is not tracked by this engine")
	ErrWrongSourceChain = errors.New("order source chain does not match relay")
)

// Engine is the swap engine as seen by the orchestrator.
type Engine interface {
	Strategies(ctx context.Context) (map[string]Strategy, error)
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	SubmitSwap(ctx context.Context, req *SwapRequest) (*Order, error)
	InitiateEVM(ctx context.Context, order *Order, signer TypedDataSigner) (string, error)
	InitiateStarknet(ctx context.Context, order *Order, signer StarkSigner) (string, error)
	RunSettlementLoop(ctx context.Context) error
	OnEvent(handler EventHandler)
}

// TypedDataSigner signs EIP-712 typed data.
type TypedDataSigner interface {
	Address() string
	SignTypedData(td apitypes.TypedData) ([]byte, error)
}

// StarkSigner signs a felt message hash.
type StarkSigner interface {
	Address() string
	SignHash(hash *big.Int) (r, s *big.Int, err error)
}

// Strategy is one route the engine can fill, with its amount band in the
// source asset's smallest units.
type Strategy struct {
	ID                 string   `json:"id"`
	SourceChainAddress string   `json:"source_chain_address"`
	SourceChain        string   `json:"source_chain"`
	DestChain          string   `json:"dest_chain"`
	SourceAsset        string   `json:"source_asset"`
	DestAsset          string   `json:"dest_asset"`
	Makers             []string `json:"makers"`
	MinAmount          string   `json:"min_amount"`
	MaxAmount          string   `json:"max_amount"`
	Fee                uint64   `json:"fee"`
}

// Matches reports whether the strategy serves a swap between two assets.
func (s Strategy) Matches(from, to *chain.Asset) bool {
	return s.SourceChain == from.Chain && s.DestChain == to.Chain &&
		strings.EqualFold(s.SourceAsset, from.AtomicSwapAddress) &&
		strings.EqualFold(s.DestAsset, to.AtomicSwapAddress)
}

// QuoteRequest asks for receive amounts on an order pair.
type QuoteRequest struct {
	OrderPair string
	// Amount is in the source asset's smallest units.
	Amount   *big.Int
	ExactOut bool
}

// Quote maps strategy ids to receive amounts in smallest units.
type Quote struct {
	Quotes           map[string]string `json:"quotes"`
	InputTokenPrice  float64           `json:"input_token_price"`
	OutputTokenPrice float64           `json:"output_token_price"`
}

// SwapRequest is a canonical order submission.
type SwapRequest struct {
	FromAsset *chain.Asset
	ToAsset   *chain.Asset

	// Amounts in smallest units.
	SendAmount    string
	ReceiveAmount string

	// InitiatorSourceAddress funds the swap; DestinationAddress receives.
	InitiatorSourceAddress string
	DestinationAddress     string

	Nonce      string
	StrategyID string

	// BitcoinAddress is the Bitcoin endpoint of the swap, if any.
	BitcoinAddress string
}

// CreateOrder is the order as submitted.
type CreateOrder struct {
	CreateID                    string         `json:"create_id"`
	SourceChain                 string         `json:"source_chain"`
	DestinationChain            string         `json:"destination_chain"`
	SourceAsset                 string         `json:"source_asset"`
	DestinationAsset            string         `json:"destination_asset"`
	InitiatorSourceAddress      string         `json:"initiator_source_address"`
	InitiatorDestinationAddress string         `json:"initiator_destination_address"`
	SourceAmount                string         `json:"source_amount"`
	DestinationAmount           string         `json:"destination_amount"`
	Nonce                       string         `json:"nonce"`
	SecretHash                  string         `json:"secret_hash"`
	AdditionalData              AdditionalData `json:"additional_data"`
}

// AdditionalData carries strategy specific order fields.
type AdditionalData struct {
	Strategy                 string  `json:"strategy_id"`
	BitcoinOptionalRecipient string  `json:"bitcoin_optional_recipient,omitempty"`
	InputTokenPrice          float64 `json:"input_token_price,omitempty"`
	OutputTokenPrice         float64 `json:"output_token_price,omitempty"`
	Deadline                 int64   `json:"deadline,omitempty"`
}

// Swap is one leg of a matched order.
type Swap struct {
	SwapID         string `json:"swap_id"`
	Chain          string `json:"chain"`
	Asset          string `json:"asset"`
	Initiator      string `json:"initiator"`
	Redeemer       string `json:"redeemer"`
	Timelock       int64  `json:"timelock"`
	Amount         string `json:"amount"`
	SecretHash     string `json:"secret_hash"`
	InitiateTxHash string `json:"initiate_tx_hash"`
	RedeemTxHash   string `json:"redeem_tx_hash"`
	RefundTxHash   string `json:"refund_tx_hash"`
}

// Order is a matched order.
type Order struct {
	CreateOrder     CreateOrder `json:"create_order"`
	SourceSwap      Swap        `json:"source_swap"`
	DestinationSwap Swap        `json:"destination_swap"`
}

// ID returns the order's create id.
func (o *Order) ID() string {
	if o == nil {
		return ""
	}
	return o.CreateOrder.CreateID
}

// EventType is the kind of engine event.
type EventType string

const (
	EventError   EventType = "error"
	EventLog     EventType = "log"
	EventSuccess EventType = "success"
)

// Settlement actions reported with success events.
const (
	ActionInit   = "Init"
	ActionRedeem = "Redeem"
	ActionRefund = "Refund"
)

// Event is emitted by the settlement loop.
type Event struct {
	Type    EventType
	OrderID string
	Order   *Order
	Action  string
	TxHash  string
	Message string
	Err     error
}

// EventHandler handles engine events.
type EventHandler func(Event)
