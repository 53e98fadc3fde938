// Package orchestrator drives a payment order through its gateway: it
// resolves which configured gateway instance applies, runs initiation and
// verification under the order row lock, commits the terminal outcome
// through the order state machine, and builds the redirect that carries
// the outcome back to the originating service.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/yourorg/paygate/internal/adapter"
	"github.com/yourorg/paygate/internal/circuitbreaker"
	"github.com/yourorg/paygate/internal/gateway"
	"github.com/yourorg/paygate/internal/order"
)

// CorrelationField is the bank callback field carrying the transaction id
// the payment was initiated with.
const CorrelationField = "ResNum"

type Orchestrator struct {
	orders   order.Repository
	gateways gateway.Repository
	registry *adapter.Registry
	breaker  *circuitbreaker.Breaker
	log      *zap.SugaredLogger
}

func New(orders order.Repository, gateways gateway.Repository, registry *adapter.Registry, breaker *circuitbreaker.Breaker, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		orders:   orders,
		gateways: gateways,
		registry: registry,
		breaker:  breaker,
		log:      log,
	}
}

// Outcome is the result of one settlement attempt, with the outward
// redirect already built for bank flows.
type Outcome struct {
	Verified          bool
	TransactionID     string
	ServiceReference  string
	ProviderReference string
	RedirectURL       string
}

// CreateOrder accepts a purchase intent: it selects an eligible gateway
// instance of the requested kind for the service, binds it, and persists
// the order in the pending state.
func (o *Orchestrator) CreateOrder(ctx context.Context, serviceID string, kind gateway.Kind, reference string, price uint64, props order.Properties) (*order.Order, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Orchestrator.CreateOrder")
	defer span.End()

	if serviceID == "" || reference == "" {
		return nil, fmt.Errorf("%w: service and reference are required", order.ErrValidation)
	}
	if price == 0 {
		return nil, fmt.Errorf("%w: price must be positive", order.ErrValidation)
	}

	instances, err := o.gateways.ListForService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	inst, err := gateway.Select(instances, kind, gateway.RuleParams{"amount": float64(price)})
	if errors.Is(err, gateway.ErrNoEligibleInstance) {
		return nil, fmt.Errorf("%w: no enabled %s gateway for service %s", order.ErrGatewayMismatch, kind, serviceID)
	}
	if err != nil {
		return nil, err
	}

	ord := &order.Order{
		ServiceID:        serviceID,
		ServiceReference: reference,
		TransactionID:    uuid.NewString(),
		Price:            price,
		Status:           order.StatusPending,
	}
	if err := ord.SetParams(props); err != nil {
		return nil, err
	}
	if err := ord.BindInstance(inst); err != nil {
		return nil, err
	}
	if err := o.orders.Create(ctx, ord); err != nil {
		return nil, err
	}

	ordersCreatedTotal.Inc()
	o.log.Infow("order created",
		"service_id", serviceID, "service_reference", reference,
		"transaction_id", ord.TransactionID, "gateway_kind", kind, "price", price)
	return ord, nil
}

// Initiate produces what the payer must be handed to reach the provider.
// The two-phase bank initiation mutates order-scoped reference data, so
// it runs under the order row lock; the other kinds contact no provider
// at this stage and read the order as-is.
func (o *Orchestrator) Initiate(ctx context.Context, serviceID, reference string) (*adapter.InitiationPayload, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Orchestrator.Initiate")
	defer span.End()

	ord, err := o.orders.GetByReference(ctx, serviceID, reference)
	if err != nil {
		return nil, err
	}
	if ord.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %s is %s", order.ErrAlreadyFinalized, ord.TransactionID, ord.Status)
	}
	inst, err := o.instanceFor(ctx, ord)
	if err != nil {
		return nil, err
	}
	ad, err := o.registry.Get(inst.Kind)
	if err != nil {
		return nil, err
	}

	if !initiationContactsProvider(inst.Kind) {
		payload, err := ad.Initiate(ctx, ord, inst)
		if err != nil {
			initiationsTotal.WithLabelValues(string(inst.Kind), "error").Inc()
			return nil, err
		}
		initiationsTotal.WithLabelValues(string(inst.Kind), "ok").Inc()
		return payload, nil
	}

	if !o.breaker.Allow(inst.Kind) {
		initiationsTotal.WithLabelValues(string(inst.Kind), "circuit_open").Inc()
		return nil, &adapter.ProviderError{
			Kind: inst.Kind,
			Op:   "initiate",
			Err:  errors.New("provider temporarily unavailable"),
		}
	}

	var payload *adapter.InitiationPayload
	err = o.orders.WithLock(ctx, ord.TransactionID, func(locked *order.Order) error {
		if locked.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", order.ErrAlreadyFinalized, locked.TransactionID, locked.Status)
		}
		payload, err = ad.Initiate(ctx, locked, inst)
		return err
	})

	var perr *adapter.ProviderError
	if errors.As(err, &perr) {
		o.breaker.RecordFailure(inst.Kind)
		initiationsTotal.WithLabelValues(string(inst.Kind), "provider_error").Inc()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	o.breaker.RecordSuccess(inst.Kind)
	initiationsTotal.WithLabelValues(string(inst.Kind), "ok").Inc()
	return payload, nil
}

// HandleBankCallback settles a bank provider callback. The whole unit
// (re-reading the order, checking it is still pending, the provider
// round-trips, the terminal write) runs under the order row lock; a
// duplicate delivery observes the terminal status and fails with
// ErrAlreadyFinalized, which callers surface as "no such order".
func (o *Orchestrator) HandleBankCallback(ctx context.Context, fields map[string]string) (*Outcome, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Orchestrator.HandleBankCallback")
	defer span.End()

	transactionID := fields[CorrelationField]
	if transactionID == "" {
		return nil, fmt.Errorf("%w: callback carries no %s", order.ErrValidation, CorrelationField)
	}
	return o.verifyLocked(ctx, transactionID, func(ord *order.Order, inst *gateway.Instance) error {
		if !inst.Kind.Bank() {
			return fmt.Errorf("%w: order %s settles through %s, not a bank callback",
				order.ErrGatewayMismatch, ord.TransactionID, inst.Kind)
		}
		return nil
	}, adapter.CallbackData{Fields: fields})
}

// VerifyPurchase settles an in-app purchase with the client-supplied
// purchase token, under the same locked discipline as bank callbacks.
func (o *Orchestrator) VerifyPurchase(ctx context.Context, serviceID, reference, purchaseToken string) (*Outcome, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Orchestrator.VerifyPurchase")
	defer span.End()

	if purchaseToken == "" {
		return nil, fmt.Errorf("%w: purchase_token is required", order.ErrValidation)
	}
	ord, err := o.orders.GetByReference(ctx, serviceID, reference)
	if err != nil {
		return nil, err
	}
	return o.verifyLocked(ctx, ord.TransactionID, func(ord *order.Order, inst *gateway.Instance) error {
		if inst.Kind != gateway.KindBazaar {
			return fmt.Errorf("%w: order %s settles through %s, not purchase validation",
				order.ErrGatewayMismatch, ord.TransactionID, inst.Kind)
		}
		return nil
	}, adapter.CallbackData{PurchaseToken: purchaseToken})
}

// verifyLocked is the single settlement path: every verification goes
// through it so the pending check, the provider round-trips, and the
// terminal write happen inside one locked unit of work.
func (o *Orchestrator) verifyLocked(ctx context.Context, transactionID string, check func(*order.Order, *gateway.Instance) error, cb adapter.CallbackData) (*Outcome, error) {
	var outcome *Outcome
	err := o.orders.WithLock(ctx, transactionID, func(ord *order.Order) error {
		if ord.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", order.ErrAlreadyFinalized, ord.TransactionID, ord.Status)
		}
		inst, err := o.instanceFor(ctx, ord)
		if err != nil {
			return err
		}
		if err := check(ord, inst); err != nil {
			return err
		}
		ad, err := o.registry.Get(inst.Kind)
		if err != nil {
			return err
		}

		start := time.Now()
		res, err := ad.Verify(ctx, ord, inst, cb)
		verificationSeconds.WithLabelValues(string(inst.Kind)).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		if err := ord.Finalize(res.Verified, res.ProviderReference, res.RawResponse); err != nil {
			return err
		}

		outcomeLabel := "failed"
		if res.Verified {
			outcomeLabel = "paid"
		}
		verificationsTotal.WithLabelValues(string(inst.Kind), outcomeLabel).Inc()
		o.log.Infow("order finalized",
			"transaction_id", ord.TransactionID, "status", ord.Status,
			"gateway_kind", inst.Kind, "provider_reference", res.ProviderReference,
			"failure_stage", res.FailureStage)

		outcome = o.buildOutcome(ord, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// instanceFor loads the order's bound instance and re-checks the binding:
// it must belong to the order's service and still be enabled.
func (o *Orchestrator) instanceFor(ctx context.Context, ord *order.Order) (*gateway.Instance, error) {
	inst, err := o.gateways.Get(ctx, ord.GatewayInstanceID)
	if errors.Is(err, gateway.ErrInstanceNotFound) {
		return nil, fmt.Errorf("%w: order %s is bound to a missing gateway instance",
			order.ErrGatewayMismatch, ord.TransactionID)
	}
	if err != nil {
		return nil, err
	}
	if inst.ServiceID != ord.ServiceID {
		return nil, fmt.Errorf("%w: instance %s belongs to service %s",
			order.ErrGatewayMismatch, inst.ID, inst.ServiceID)
	}
	if !inst.Enabled {
		return nil, fmt.Errorf("%w: instance %s is disabled", order.ErrGatewayMismatch, inst.ID)
	}
	return inst, nil
}

func (o *Orchestrator) buildOutcome(ord *order.Order, res adapter.VerifyResult) *Outcome {
	out := &Outcome{
		Verified:          res.Verified,
		TransactionID:     ord.TransactionID,
		ServiceReference:  ord.ServiceReference,
		ProviderReference: res.ProviderReference,
	}
	params, err := ord.Params()
	if err != nil || params.RedirectURL == "" {
		return out
	}
	out.RedirectURL = appendOutcomeParams(params.RedirectURL, res.Verified, ord.TransactionID, res.ProviderReference)
	return out
}

// appendOutcomeParams builds the outward redirect back to the originating
// service, preserving whatever query the service already put on its URL.
func appendOutcomeParams(base string, verified bool, transactionID, providerReference string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("purchase_verified", strconv.FormatBool(verified))
	q.Set("transaction_id", transactionID)
	q.Set("refNum", providerReference)
	u.RawQuery = q.Encode()
	return u.String()
}

func initiationContactsProvider(kind gateway.Kind) bool {
	return kind == gateway.KindMellat
}
