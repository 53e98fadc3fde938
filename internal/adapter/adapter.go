// Package adapter defines the capability contract every payment gateway
// implementation provides: Initiate produces whatever the payer must be
// handed to reach the provider, Verify resolves a provider callback into
// a settled-or-not answer. Adapters are stateless per call; provider
// failures surface as unverified results, never as panics or raw errors
// reaching the payer.
package adapter

import (
	"context"
	"fmt"

	"github.com/yourorg/paygate/internal/gateway"
	"github.com/yourorg/paygate/internal/order"
)

// InitiationPayload is what the caller presents to the payer. Exactly one
// of the three shapes is populated, according to the gateway kind:
// an auto-submit form (FormAction + FormFields), a provider redirect URL,
// or just the correlation id for redirect-free in-app flows.
type InitiationPayload struct {
	Kind          gateway.Kind
	TransactionID string
	RedirectURL   string
	FormAction    string
	FormFields    map[string]string
}

// CallbackData carries the demultiplexed provider callback: the raw
// form fields for bank callbacks, the purchase token for IAP validation.
type CallbackData struct {
	Fields        map[string]string
	PurchaseToken string
}

// Field returns a callback field, empty when absent.
func (c CallbackData) Field(name string) string {
	if c.Fields == nil {
		return ""
	}
	return c.Fields[name]
}

// VerifyResult is the outcome of one verification attempt. RawResponse is
// stored verbatim on the order as the audit log.
type VerifyResult struct {
	Verified          bool
	ProviderReference string
	RawResponse       string
	FailureStage      string // which protocol step declined, for diagnostics
}

// Adapter is the common {initiate, verify} capability set.
type Adapter interface {
	Kind() gateway.Kind
	Initiate(ctx context.Context, ord *order.Order, inst *gateway.Instance) (*InitiationPayload, error)
	// Verify resolves the callback. Provider transport and protocol
	// failures are logged and returned as an unverified result with nil
	// error; a non-nil error means caller-side input was unusable.
	Verify(ctx context.Context, ord *order.Order, inst *gateway.Instance, cb CallbackData) (VerifyResult, error)
}

// ProviderError marks a transport or protocol failure while talking to a
// provider. The orchestrator treats it as non-fatal: the payer may
// resubmit, nothing is retried automatically.
type ProviderError struct {
	Kind gateway.Kind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider %s failed: %v", e.Kind, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
