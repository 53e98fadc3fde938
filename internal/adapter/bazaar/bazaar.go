// Package bazaar implements the OAuth-validated in-app-purchase gateway.
// The payer completes the purchase inside the store client, so initiation
// is redirect-free; verification exchanges the client-supplied purchase
// token for a provider validation call authenticated with a cached access
// token. A verify attempt never leaves an order pending: every failure
// mode resolves to unverified.
package bazaar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/paygate/internal/adapter"
	"github.com/yourorg/paygate/internal/gateway"
	"github.com/yourorg/paygate/internal/order"
	"github.com/yourorg/paygate/internal/token"
)

// DefaultAPIBaseURL is the provider's validation API root; a per-instance
// api_base_url property overrides it.
const DefaultAPIBaseURL = "https://pardakht.cafebazaar.ir/devapi/v2/api"

type Adapter struct {
	tokens *token.Cache
	http   *http.Client
	log    *zap.SugaredLogger
}

func New(tokens *token.Cache, httpClient *http.Client, log *zap.SugaredLogger) *Adapter {
	return &Adapter{tokens: tokens, http: httpClient, log: log}
}

func (a *Adapter) Kind() gateway.Kind { return gateway.KindBazaar }

// Initiate has no provider round-trip and nothing to redirect to; the
// payload carries the correlation id the client echoes back with its
// purchase token.
func (a *Adapter) Initiate(ctx context.Context, ord *order.Order, inst *gateway.Instance) (*adapter.InitiationPayload, error) {
	params, err := ord.Params()
	if err != nil {
		return nil, err
	}
	if params.PackageName == "" || params.SKU == "" {
		return nil, fmt.Errorf("%w: package_name and sku are required for a %s purchase",
			order.ErrValidation, gateway.KindBazaar)
	}
	return &adapter.InitiationPayload{
		Kind:          gateway.KindBazaar,
		TransactionID: ord.TransactionID,
	}, nil
}

// Verify validates the purchase token against the provider. Any
// non-success HTTP status is unverified; transport failures are logged
// and also resolve to unverified.
func (a *Adapter) Verify(ctx context.Context, ord *order.Order, inst *gateway.Instance, cb adapter.CallbackData) (adapter.VerifyResult, error) {
	if cb.PurchaseToken == "" {
		return adapter.VerifyResult{}, fmt.Errorf("%w: purchase_token is required", order.ErrValidation)
	}
	params, err := ord.Params()
	if err != nil {
		return adapter.VerifyResult{}, err
	}
	if params.PackageName == "" || params.SKU == "" {
		return adapter.VerifyResult{}, fmt.Errorf("%w: order %s carries no package_name/sku",
			order.ErrValidation, ord.TransactionID)
	}

	// The purchase token is the provider's reference for this order
	// whether or not validation succeeds.
	result := adapter.VerifyResult{ProviderReference: cb.PurchaseToken}

	accessToken, err := a.tokens.AccessToken(ctx, inst)
	if err != nil {
		a.log.Errorw("bazaar verification failed closed: no access token",
			"transaction_id", ord.TransactionID, "err", err)
		result.FailureStage = "token"
		return result, nil
	}

	cfg, err := gateway.BazaarOf(inst)
	if err != nil {
		return adapter.VerifyResult{}, err
	}
	endpoint := fmt.Sprintf("%s/validate/%s/inapp/%s/purchases/%s/",
		apiBaseURL(cfg), params.PackageName, params.SKU, cb.PurchaseToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		result.FailureStage = "request"
		return result, nil
	}
	req.Header.Set("Authorization", accessToken)

	resp, err := a.http.Do(req)
	if err != nil {
		perr := &adapter.ProviderError{Kind: gateway.KindBazaar, Op: "validate", Err: err}
		a.log.Errorw("bazaar validation call failed", "transaction_id", ord.TransactionID, "err", perr)
		result.FailureStage = "transport"
		return result, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	result.RawResponse = strings.TrimSpace(string(body))

	if resp.StatusCode != http.StatusOK {
		a.log.Warnw("bazaar purchase not verified",
			"transaction_id", ord.TransactionID, "status", resp.StatusCode, "body", result.RawResponse)
		result.FailureStage = "validate"
		return result, nil
	}

	a.log.Infow("bazaar purchase verified", "transaction_id", ord.TransactionID)
	result.Verified = true
	return result, nil
}

func apiBaseURL(cfg gateway.BazaarConfig) string {
	if cfg.APIBaseURL != "" {
		return strings.TrimRight(cfg.APIBaseURL, "/")
	}
	return DefaultAPIBaseURL
}
