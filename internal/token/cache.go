// Package token caches the OAuth access tokens the in-app-purchase
// validator authenticates with. The fast copy lives in process memory
// with the provider-declared expiry; the full token response, refresh
// token included, is persisted into the gateway instance's properties so
// it survives restarts.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/paygate/internal/gateway"
)

// DefaultTokenURL is the provider's token endpoint; a per-instance
// token_url property overrides it.
const DefaultTokenURL = "https://pardakht.cafebazaar.ir/devapi/v2/auth/token/"

const defaultExpirySeconds = 3600

// ErrNoToken is returned when no access token could be obtained; callers
// fail closed (the verification resolves to unverified).
var ErrNoToken = errors.New("no access token available")

// Response is the provider's token grant response, persisted verbatim as
// the durable copy.
type Response struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type entry struct {
	accessToken string
	expiresAt   time.Time
}

// Cache refreshes and serves access tokens per gateway instance. All
// token work for one instance is serialized through a per-instance lock:
// concurrent refreshes would otherwise both hit the provider and the
// loser's write would clobber the winner's refresh token.
type Cache struct {
	gateways gateway.Repository
	http     *http.Client
	log      *zap.SugaredLogger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	locks   map[string]*sync.Mutex
}

func NewCache(gateways gateway.Repository, httpClient *http.Client, log *zap.SugaredLogger) *Cache {
	return &Cache{
		gateways: gateways,
		http:     httpClient,
		log:      log,
		now:      time.Now,
		entries:  make(map[string]*entry),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (c *Cache) lockFor(instanceID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[instanceID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[instanceID] = l
	}
	return l
}

// AccessToken returns a usable access token for the instance: the cached
// unexpired one when present, otherwise one obtained through a
// refresh-token grant (when a refresh token is on record) or the
// instance's configured one-time authorization code. Exchange failures
// clear all cached token material and return an error so the caller's
// verification fails closed.
func (c *Cache) AccessToken(ctx context.Context, inst *gateway.Instance) (string, error) {
	l := c.lockFor(inst.ID)
	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	e, ok := c.entries[inst.ID]
	c.mu.Unlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.accessToken, nil
	}

	cfg, err := gateway.BazaarOf(inst)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	if refresh := c.durableRefreshToken(inst); refresh != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refresh)
	} else {
		form.Set("grant_type", "authorization_code")
		form.Set("code", cfg.AuthCode)
		form.Set("redirect_uri", cfg.RedirectURI)
	}

	res, err := c.exchange(ctx, tokenURL(cfg), form)
	if err != nil {
		c.clear(ctx, inst)
		c.log.Errorw("token exchange failed", "instance_id", inst.ID, "grant_type", form.Get("grant_type"), "err", err)
		return "", fmt.Errorf("%w: %v", ErrNoToken, err)
	}

	expiry := res.ExpiresIn
	if expiry <= 0 {
		expiry = defaultExpirySeconds
	}
	c.mu.Lock()
	c.entries[inst.ID] = &entry{
		accessToken: res.AccessToken,
		expiresAt:   c.now().Add(time.Duration(expiry) * time.Second),
	}
	c.mu.Unlock()

	if err := inst.SetProperty(gateway.TokenPropertyKey, res); err == nil {
		if err := c.gateways.Update(ctx, inst); err != nil {
			c.log.Errorw("persisting refreshed token failed", "instance_id", inst.ID, "err", err)
		}
	}
	c.log.Infow("access token refreshed", "instance_id", inst.ID, "grant_type", form.Get("grant_type"))
	return res.AccessToken, nil
}

// Invalidate drops the fast-cache entry, forcing the next AccessToken
// call to exchange again. Used when an operator supplies a new
// authorization code.
func (c *Cache) Invalidate(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, instanceID)
}

func (c *Cache) durableRefreshToken(inst *gateway.Instance) string {
	raw, ok := inst.Property(gateway.TokenPropertyKey)
	if !ok {
		return ""
	}
	var res Response
	if err := json.Unmarshal(raw, &res); err != nil {
		return ""
	}
	return res.RefreshToken
}

func (c *Cache) clear(ctx context.Context, inst *gateway.Instance) {
	c.mu.Lock()
	delete(c.entries, inst.ID)
	c.mu.Unlock()
	if err := inst.SetProperty(gateway.TokenPropertyKey, nil); err != nil {
		return
	}
	if err := c.gateways.Update(ctx, inst); err != nil {
		c.log.Errorw("clearing durable token failed", "instance_id", inst.ID, "err", err)
	}
}

func (c *Cache) exchange(ctx context.Context, endpoint string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var res Response
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if res.AccessToken == "" {
		return nil, errors.New("token response carried no access token")
	}
	return &res, nil
}

func tokenURL(cfg gateway.BazaarConfig) string {
	if cfg.TokenURL != "" {
		return cfg.TokenURL
	}
	return DefaultTokenURL
}
