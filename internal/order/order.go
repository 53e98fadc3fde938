// Package order owns the payment order lifecycle: a single pending →
// paid|failed transition per order, enforced through Finalize as the only
// settlement write path.
package order

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/yourorg/paygate/internal/gateway"
)

// Status is the payment state of an order.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusFailed }

// Order is a single payment intent. ServiceReference is the identity the
// owning service knows; TransactionID is the opaque provider-facing
// correlation id. Closed orders are never deleted.
type Order struct {
	ID                uint           `gorm:"primaryKey" json:"-"`
	ServiceID         string         `gorm:"uniqueIndex:ux_orders_service_reference,priority:1;type:varchar(64);not null" json:"service_id"`
	ServiceReference  string         `gorm:"uniqueIndex:ux_orders_service_reference,priority:2;type:varchar(100);not null" json:"service_reference"`
	TransactionID     string         `gorm:"uniqueIndex;type:varchar(64);not null" json:"transaction_id"`
	GatewayInstanceID string         `gorm:"index;type:varchar(64);not null" json:"gateway_instance_id"`
	GatewayKind       gateway.Kind   `gorm:"type:varchar(16);not null" json:"gateway_kind"`
	Price             uint64         `gorm:"not null" json:"price"`
	Status            Status         `gorm:"type:varchar(16);not null;default:pending" json:"status"`
	ReferenceID       string         `gorm:"index;type:varchar(100)" json:"reference_id"`
	Log               string         `gorm:"type:text" json:"-"`
	Properties        datatypes.JSON `gorm:"type:jsonb" json:"-"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Properties is the closed set of gateway-facing order parameters. Every
// field is optional; adapters check for what their protocol requires.
type Properties struct {
	RedirectURL   string `json:"redirect_url,omitempty"`   // bank kinds: where the payer lands after settlement
	PhoneNumber   string `json:"phone_number,omitempty"`   // bank kinds: optional payer hint shown on the bank page
	PackageName   string `json:"package_name,omitempty"`   // IAP kind
	SKU           string `json:"sku,omitempty"`            // IAP kind
	SessionToken  string `json:"session_token,omitempty"`  // two-phase kind: provider session token from initiation
	ResultCode    string `json:"result_code,omitempty"`    // last provider result code seen on callback
	UserReference string `json:"user_reference,omitempty"` // provider trace number shown to the payer
}

// Params decodes the order's properties. A missing document decodes to
// the zero value.
func (o *Order) Params() (Properties, error) {
	var p Properties
	if len(o.Properties) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(o.Properties, &p); err != nil {
		return Properties{}, fmt.Errorf("decoding properties of order %s: %w", o.TransactionID, err)
	}
	return p, nil
}

// SetParams replaces the order's properties document.
func (o *Order) SetParams(p Properties) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	o.Properties = datatypes.JSON(raw)
	return nil
}

// BindInstance attaches the gateway instance that will settle this order.
// The instance must belong to the order's service and be enabled.
func (o *Order) BindInstance(inst *gateway.Instance) error {
	if inst.ServiceID != o.ServiceID {
		return fmt.Errorf("%w: instance %s belongs to service %s", ErrGatewayMismatch, inst.ID, inst.ServiceID)
	}
	if !inst.Enabled {
		return fmt.Errorf("%w: instance %s is disabled", ErrGatewayMismatch, inst.ID)
	}
	o.GatewayInstanceID = inst.ID
	o.GatewayKind = inst.Kind
	return nil
}

// Finalize commits the settlement outcome. It is the single write path
// for the terminal status; callers must hold the order row lock so the
// terminal check is race-free.
func (o *Order) Finalize(verified bool, providerReference, rawResponse string) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: order %s is %s", ErrAlreadyFinalized, o.TransactionID, o.Status)
	}
	if verified {
		o.Status = StatusPaid
	} else {
		o.Status = StatusFailed
	}
	o.ReferenceID = providerReference
	o.Log = rawResponse
	return nil
}
