// Package gateway holds the tenant-scoped payment gateway configuration:
// which provider protocol an instance speaks, the credentials it needs,
// and how an instance is selected for an order.
package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Kind discriminates which adapter protocol a gateway instance speaks.
type Kind string

const (
	// KindSaman is the direct-redirect bank gateway (signed form post,
	// single SOAP confirmation call on the way back).
	KindSaman Kind = "saman"
	// KindMellat is the two-phase bank gateway (pay request for a session
	// token, then verify + settle on callback).
	KindMellat Kind = "mellat"
	// KindBazaar is the OAuth-validated in-app-purchase gateway.
	KindBazaar Kind = "bazaar"
)

// ParseKind maps a wire discriminator to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSaman, KindMellat, KindBazaar:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown gateway kind %q", s)
}

// Bank reports whether the kind settles through a browser redirect to a
// bank page (as opposed to an in-app purchase flow).
func (k Kind) Bank() bool {
	return k == KindSaman || k == KindMellat
}

// Instance is one tenant's configured credentials for one provider.
// Properties is the provider credential set, validated against the
// per-kind schema before save; for the bazaar kind it also carries the
// durable copy of the token cache under the TokenPropertyKey.
type Instance struct {
	ID            string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ServiceID     string         `gorm:"index:idx_gateway_service;type:varchar(64);not null" json:"service_id"`
	Kind          Kind           `gorm:"type:varchar(16);not null" json:"kind"`
	DisplayName   string         `gorm:"type:varchar(120)" json:"display_name"`
	Enabled       bool           `gorm:"not null;default:true" json:"enabled"`
	Priority      int            `gorm:"not null;default:100" json:"priority"`
	SelectionRule string         `gorm:"type:text" json:"selection_rule,omitempty"`
	Properties    datatypes.JSON `gorm:"type:jsonb" json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (Instance) TableName() string { return "gateway_instances" }

// TokenPropertyKey is the reserved properties key holding the durable
// token material for OAuth-validated instances.
const TokenPropertyKey = "bazaar_token"

// SamanConfig is the credential set of a direct-redirect instance.
type SamanConfig struct {
	MerchantID string `json:"merchant_id"`
	GatewayURL string `json:"gateway_url"`
	VerifyURL  string `json:"verify_url"`
}

// MellatConfig is the credential set of a two-phase instance.
type MellatConfig struct {
	TerminalID string `json:"merchant_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	RequestURL string `json:"request_url"`
	VerifyURL  string `json:"verify_url"`
	GatewayURL string `json:"gateway_url"`
}

// BazaarConfig is the credential set of an OAuth-validated instance.
// TokenURL and APIBaseURL default to the provider endpoints when empty.
type BazaarConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AuthCode     string `json:"auth_code"`
	RedirectURI  string `json:"redirect_uri"`
	TokenURL     string `json:"token_url,omitempty"`
	APIBaseURL   string `json:"api_base_url,omitempty"`
}

// SamanOf decodes the instance properties as a SamanConfig.
func SamanOf(inst *Instance) (SamanConfig, error) {
	var cfg SamanConfig
	if err := decodeConfig(inst, KindSaman, &cfg); err != nil {
		return SamanConfig{}, err
	}
	return cfg, nil
}

// MellatOf decodes the instance properties as a MellatConfig.
func MellatOf(inst *Instance) (MellatConfig, error) {
	var cfg MellatConfig
	if err := decodeConfig(inst, KindMellat, &cfg); err != nil {
		return MellatConfig{}, err
	}
	return cfg, nil
}

// BazaarOf decodes the instance properties as a BazaarConfig.
func BazaarOf(inst *Instance) (BazaarConfig, error) {
	var cfg BazaarConfig
	if err := decodeConfig(inst, KindBazaar, &cfg); err != nil {
		return BazaarConfig{}, err
	}
	return cfg, nil
}

func decodeConfig(inst *Instance, want Kind, out interface{}) error {
	if inst.Kind != want {
		return fmt.Errorf("gateway %s is %s, not %s", inst.ID, inst.Kind, want)
	}
	if len(inst.Properties) == 0 {
		return fmt.Errorf("gateway %s has no properties", inst.ID)
	}
	if err := json.Unmarshal(inst.Properties, out); err != nil {
		return fmt.Errorf("decoding %s properties for gateway %s: %w", want, inst.ID, err)
	}
	return nil
}

// Property reads a single raw value from the instance properties map.
// Used for keys outside the closed config structs (the token material).
func (i *Instance) Property(key string) (json.RawMessage, bool) {
	if len(i.Properties) == 0 {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(i.Properties, &m); err != nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// SetProperty writes a single value into the instance properties map,
// preserving every other key. A nil value deletes the key.
func (i *Instance) SetProperty(key string, value interface{}) error {
	m := map[string]json.RawMessage{}
	if len(i.Properties) > 0 {
		if err := json.Unmarshal(i.Properties, &m); err != nil {
			return fmt.Errorf("decoding properties for gateway %s: %w", i.ID, err)
		}
	}
	if value == nil {
		delete(m, key)
	} else {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		m[key] = raw
	}
	out, err := json.Marshal(m)
	if err != nil {
		return err
	}
	i.Properties = datatypes.JSON(out)
	return nil
}
