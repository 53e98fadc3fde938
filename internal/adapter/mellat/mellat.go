// Package mellat implements the two-phase bank gateway: a pay request
// obtains a session token that builds the redirect, and the callback is
// settled with a verify call followed by a settle call, both of which
// must return a zero result code.
package mellat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/paygate/internal/adapter"
	"github.com/yourorg/paygate/internal/adapter/soap"
	"github.com/yourorg/paygate/internal/gateway"
	"github.com/yourorg/paygate/internal/order"
)

// The provider states amounts in riyal while orders are priced in toman.
const riyalPerToman = 10

const (
	soapNamespace = "http://interfaces.core.sw.bps.com/"
	resultOK      = "0"
)

type Adapter struct {
	soap        *soap.Client
	callbackURL string
	log         *zap.SugaredLogger
	now         func() time.Time
}

func New(soapClient *soap.Client, callbackURL string, log *zap.SugaredLogger) *Adapter {
	return &Adapter{soap: soapClient, callbackURL: callbackURL, log: log, now: time.Now}
}

func (a *Adapter) Kind() gateway.Kind { return gateway.KindMellat }

// providerOrderID buckets the order's last update time to the provider's
// minute granularity; the provider requires a numeric order id and
// dedupes within that bucket.
func providerOrderID(ord *order.Order) string {
	return ord.UpdatedAt.Format("200601021504")
}

// Initiate performs the pay request and stores the returned session token
// on the order. Callers run it under the order row lock because it
// mutates order-scoped reference data.
func (a *Adapter) Initiate(ctx context.Context, ord *order.Order, inst *gateway.Instance) (*adapter.InitiationPayload, error) {
	cfg, err := gateway.MellatOf(inst)
	if err != nil {
		return nil, err
	}
	params, err := ord.Params()
	if err != nil {
		return nil, err
	}
	if params.RedirectURL == "" {
		return nil, fmt.Errorf("%w: redirect_url is required before initiating a %s payment",
			order.ErrValidation, gateway.KindMellat)
	}

	now := a.now()
	res, err := a.soap.Call(ctx, cfg.RequestURL, soapNamespace, "bpPayRequest", []soap.Param{
		{Name: "terminalId", Value: cfg.TerminalID},
		{Name: "userName", Value: cfg.Username},
		{Name: "userPassword", Value: cfg.Password},
		{Name: "orderId", Value: providerOrderID(ord)},
		{Name: "amount", Value: strconv.FormatUint(ord.Price*riyalPerToman, 10)},
		{Name: "localDate", Value: now.Format("20060102")},
		{Name: "localTime", Value: now.Format("150405")},
		{Name: "additionalData", Value: ord.TransactionID},
		{Name: "callBackUrl", Value: a.callbackURL},
		{Name: "payerId", Value: ord.ServiceID},
	})
	if err != nil {
		return nil, &adapter.ProviderError{Kind: gateway.KindMellat, Op: "bpPayRequest", Err: err}
	}

	code, token, _ := strings.Cut(res, ",")
	if code != resultOK || token == "" {
		return nil, &adapter.ProviderError{
			Kind: gateway.KindMellat,
			Op:   "bpPayRequest",
			Err:  fmt.Errorf("pay request declined with result code %s", code),
		}
	}

	params.SessionToken = token
	if err := ord.SetParams(params); err != nil {
		return nil, err
	}
	a.log.Infow("mellat pay request accepted", "transaction_id", ord.TransactionID)
	return &adapter.InitiationPayload{
		Kind:          gateway.KindMellat,
		TransactionID: ord.TransactionID,
		RedirectURL:   cfg.GatewayURL + "?RefId=" + token,
	}, nil
}

// Verify settles the callback: the callback amount must match price×10
// exactly (mismatch short-circuits without contacting the provider), the
// callback result code must be zero, and then both the verify and settle
// operations must return zero.
func (a *Adapter) Verify(ctx context.Context, ord *order.Order, inst *gateway.Instance, cb adapter.CallbackData) (adapter.VerifyResult, error) {
	rawLog, _ := json.Marshal(cb.Fields)
	result := adapter.VerifyResult{
		ProviderReference: cb.Field("SaleReferenceId"),
		RawResponse:       string(rawLog),
	}

	params, err := ord.Params()
	if err != nil {
		return adapter.VerifyResult{}, err
	}
	params.ResultCode = cb.Field("ResCode")
	_ = ord.SetParams(params)

	amount, err := strconv.ParseUint(cb.Field("FinalAmount"), 10, 64)
	if err != nil || amount != ord.Price*riyalPerToman {
		a.log.Warnw("mellat callback amount mismatch",
			"transaction_id", ord.TransactionID, "final_amount", cb.Field("FinalAmount"),
			"expected", ord.Price*riyalPerToman)
		result.FailureStage = "amount"
		return result, nil
	}
	if cb.Field("ResCode") != resultOK {
		result.FailureStage = "callback"
		return result, nil
	}

	cfg, err := gateway.MellatOf(inst)
	if err != nil {
		return adapter.VerifyResult{}, err
	}
	saleOrderID := cb.Field("SaleOrderId")
	saleReferenceID := cb.Field("SaleReferenceId")
	stepParams := []soap.Param{
		{Name: "terminalId", Value: cfg.TerminalID},
		{Name: "userName", Value: cfg.Username},
		{Name: "userPassword", Value: cfg.Password},
		{Name: "orderId", Value: saleOrderID},
		{Name: "saleOrderId", Value: saleOrderID},
		{Name: "saleReferenceId", Value: saleReferenceID},
	}

	if !a.step(ctx, ord, cfg.VerifyURL, "bpVerifyRequest", stepParams) {
		result.FailureStage = "verify"
		return result, nil
	}
	if !a.step(ctx, ord, cfg.VerifyURL, "bpSettleRequest", stepParams) {
		result.FailureStage = "settle"
		return result, nil
	}

	a.log.Infow("mellat payment verified and settled",
		"transaction_id", ord.TransactionID, "sale_reference_id", saleReferenceID)
	result.Verified = true
	return result, nil
}

func (a *Adapter) step(ctx context.Context, ord *order.Order, endpoint, operation string, params []soap.Param) bool {
	res, err := a.soap.Call(ctx, endpoint, soapNamespace, operation, params)
	if err != nil {
		perr := &adapter.ProviderError{Kind: gateway.KindMellat, Op: operation, Err: err}
		a.log.Errorw("mellat settlement step failed", "transaction_id", ord.TransactionID, "err", perr)
		return false
	}
	if res != resultOK {
		a.log.Warnw("mellat settlement step declined",
			"transaction_id", ord.TransactionID, "operation", operation, "result", res)
		return false
	}
	return true
}
