package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/klingon-exchange/swapbot/internal/apperr"
	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/engine"
	"github.com/klingon-exchange/swapbot/internal/session"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

// ErrAmountOutOfRange is matched by errors.Is for band violations.
var ErrAmountOutOfRange = errors.New("amount outside acceptable range")

// Error is a failed quote or submission together with the step the
// conversation should resume at.
type Error struct {
	Resume session.Step
	Err    error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// ResumeStep returns where the conversation continues after err.
func ResumeStep(err error) session.Step {
	var e *Error
	if errors.As(err, &e) {
		return e.Resume
	}
	return session.StepInitial
}

const unavailableMessage = "The swap service is unavailable right now. Please try again later."

// Engine error texts with dedicated guidance.
var rangeErrors = []string{
	"amount outside acceptable range",
	"exact output quote error",
}

// translate turns an engine failure into user-facing guidance. Range errors
// send the user back to the amount step with the accepted bounds. Other
// engine-reported errors at submission are shown as the engine worded them.
func (o *Orchestrator) translate(ctx context.Context, err error, intent *session.SwapIntent, stage session.Step, verbatim bool) error {
	msg := strings.ToLower(err.Error())
	for _, known := range rangeErrors {
		if strings.Contains(msg, known) {
			band := o.AmountBand(ctx, intent.Network, intent.FromAsset, intent.ToAsset)
			return &Error{Resume: session.StepSwapAmount, Err: outOfRange(intent.FromAsset, band, err)}
		}
	}

	switch {
	case errors.Is(err, engine.ErrNoStrategies):
		return &Error{Resume: session.StepInitial, Err: apperr.Wrap(apperr.KindExternalEngine,
			"This pair cannot be swapped right now. Please pick different assets.", err)}
	case apperr.KindOf(err) != apperr.KindPersistence:
		// Already classified, e.g. a locked wallet.
		return &Error{Resume: session.StepInitial, Err: err}
	case engine.IsRetryable(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, engine.ErrOrderNotMatched):
		return &Error{Resume: session.StepInitial, Err: apperr.Wrap(apperr.KindExternalEngine, unavailableMessage, err)}
	}

	if apiErr, ok := engine.IsAPIError(err); ok && verbatim && apiErr.Message != "" {
		return &Error{Resume: stage, Err: apperr.Wrap(apperr.KindExternalEngine, "Swap failed: "+apiErr.Message, err)}
	}
	return &Error{Resume: stage, Err: apperr.Wrap(apperr.KindExternalEngine, unavailableMessage, err)}
}

// outOfRange builds the amount band message in display units.
func outOfRange(asset *chain.Asset, band Band, cause error) error {
	if cause == nil {
		cause = ErrAmountOutOfRange
	} else {
		cause = fmt.Errorf("%w: %w", ErrAmountOutOfRange, cause)
	}

	var msg string
	switch {
	case band.Min != nil && band.Max != nil:
		msg = fmt.Sprintf("Amount must be between %s and %s %s.",
			helpers.FormatUnits(band.Min, asset.Decimals), helpers.FormatUnits(band.Max, asset.Decimals), asset.Symbol)
	case band.Min != nil:
		msg = fmt.Sprintf("Amount must be at least %s %s.", helpers.FormatUnits(band.Min, asset.Decimals), asset.Symbol)
	case band.Max != nil:
		msg = fmt.Sprintf("Amount must be at most %s %s.", helpers.FormatUnits(band.Max, asset.Decimals), asset.Symbol)
	default:
		msg = "Amount is outside the accepted range."
	}
	return apperr.Wrap(apperr.KindInvalidInput, msg, cause)
}
