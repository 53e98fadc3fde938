// Package saman implements the direct-redirect bank gateway: initiation
// is a signed form the payer's browser auto-submits to the bank, and the
// callback is confirmed through a single SOAP verifyTransaction call.
package saman

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/yourorg/paygate/internal/adapter"
	"github.com/yourorg/paygate/internal/adapter/soap"
	"github.com/yourorg/paygate/internal/gateway"
	"github.com/yourorg/paygate/internal/order"
)

// The provider states amounts in riyal while orders are priced in toman.
const riyalPerToman = 10

const (
	soapNamespace = "urn:Foo"
	successState  = "OK"
)

type Adapter struct {
	soap        *soap.Client
	callbackURL string // the hub's public bank callback endpoint
	log         *zap.SugaredLogger
}

func New(soapClient *soap.Client, callbackURL string, log *zap.SugaredLogger) *Adapter {
	return &Adapter{soap: soapClient, callbackURL: callbackURL, log: log}
}

func (a *Adapter) Kind() gateway.Kind { return gateway.KindSaman }

// Initiate builds the auto-submit form. No provider round-trip happens
// here; the bank learns about the payment when the form arrives.
func (a *Adapter) Initiate(ctx context.Context, ord *order.Order, inst *gateway.Instance) (*adapter.InitiationPayload, error) {
	cfg, err := gateway.SamanOf(inst)
	if err != nil {
		return nil, err
	}
	params, err := ord.Params()
	if err != nil {
		return nil, err
	}
	if params.RedirectURL == "" {
		return nil, fmt.Errorf("%w: redirect_url is required before initiating a %s payment",
			order.ErrValidation, gateway.KindSaman)
	}

	fields := map[string]string{
		"Amount":      strconv.FormatUint(ord.Price*riyalPerToman, 10),
		"MID":         cfg.MerchantID,
		"ResNum":      ord.TransactionID,
		"RedirectURL": a.callbackURL,
	}
	if params.PhoneNumber != "" {
		fields["CellNumber"] = params.PhoneNumber
	}
	return &adapter.InitiationPayload{
		Kind:          gateway.KindSaman,
		TransactionID: ord.TransactionID,
		FormAction:    cfg.GatewayURL,
		FormFields:    fields,
	}, nil
}

// Verify reads the bank's callback fields. Only a State of "OK" triggers
// the confirmation call; the payment is verified only when the
// confirmation response equals price×10 exactly. Everything else,
// including transport failures, resolves to unverified.
func (a *Adapter) Verify(ctx context.Context, ord *order.Order, inst *gateway.Instance, cb adapter.CallbackData) (adapter.VerifyResult, error) {
	rawLog, _ := json.Marshal(cb.Fields)
	refNum := cb.Field("RefNum")
	result := adapter.VerifyResult{
		ProviderReference: refNum,
		RawResponse:       string(rawLog),
	}

	params, err := ord.Params()
	if err != nil {
		return adapter.VerifyResult{}, err
	}
	state := cb.Field("State")
	params.ResultCode = state

	if state != successState {
		params.UserReference = ""
		_ = ord.SetParams(params)
		result.FailureStage = "state"
		return result, nil
	}

	params.UserReference = cb.Field("TRACENO")
	_ = ord.SetParams(params)

	cfg, err := gateway.SamanOf(inst)
	if err != nil {
		return adapter.VerifyResult{}, err
	}
	res, err := a.soap.Call(ctx, cfg.VerifyURL, soapNamespace, "verifyTransaction", []soap.Param{
		{Name: "String_1", Value: refNum},
		{Name: "String_2", Value: cfg.MerchantID},
	})
	if err != nil {
		perr := &adapter.ProviderError{Kind: gateway.KindSaman, Op: "verifyTransaction", Err: err}
		a.log.Errorw("saman confirmation call failed", "transaction_id", ord.TransactionID, "err", perr)
		result.FailureStage = "confirm"
		return result, nil
	}

	confirmed, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		a.log.Errorw("saman confirmation returned a non-numeric result",
			"transaction_id", ord.TransactionID, "result", res)
		result.FailureStage = "confirm"
		return result, nil
	}
	if confirmed != int64(ord.Price)*riyalPerToman {
		a.log.Warnw("saman confirmation amount mismatch",
			"transaction_id", ord.TransactionID, "confirmed", confirmed, "expected", ord.Price*riyalPerToman)
		result.FailureStage = "amount"
		return result, nil
	}

	a.log.Infow("saman payment verified", "transaction_id", ord.TransactionID, "ref_num", refNum)
	result.Verified = true
	return result, nil
}
