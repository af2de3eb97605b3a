// Package vault reads the encryption passphrase from HashiCorp Vault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"

	// DefaultField is the secret key holding the passphrase.
	DefaultField = "passphrase"
)

var (
	// ErrClientInit indicates failure to initialize the Vault API client.
	ErrClientInit = errors.New("vault client initialization failed")
	// ErrSecret means the secret or the requested field is missing.
	ErrSecret = errors.New("vault secret unavailable")
)

type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
}

type Client struct {
	api    *vault.Client
	config *config
}

func WithAddress(address string) Option {
	return func(c *config) {
		if address != "" {
			c.address = address
		}
	}
}

func WithToken(token string) Option {
	return func(c *config) {
		if token != "" {
			c.token = token
		}
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It will perform AppRole login if roleID and roleName are both set, otherwise
// a static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}
	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("%w: AppRole login failed: %v", ErrClientInit, err)
		}
	}

	return client, nil
}

// loginAppRole performs AppRole login using the configured roleID and roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("empty response from %s", path)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp == nil || loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// GetPassphrase reads field from the KV secret at path. Both KV v1 and KV v2
// (path including "data/") layouts are accepted.
func (c *Client) GetPassphrase(ctx context.Context, path, field string) (string, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrSecret, path, err)
	}
	if secret == nil {
		return "", fmt.Errorf("%w: no data found at path: %s", ErrSecret, path)
	}
	return passphraseFrom(secret.Data, field)
}

func passphraseFrom(data map[string]any, field string) (string, error) {
	if field == "" {
		field = DefaultField
	}
	fields, err := decodeFields(unwrapKV2(data))
	if err != nil {
		return "", err
	}
	value := fields[field]
	if value == "" {
		return "", fmt.Errorf("%w: field %q is missing or empty", ErrSecret, field)
	}
	return value, nil
}

// unwrapKV2 returns the inner "data" map of a KV v2 response.
func unwrapKV2(data map[string]any) map[string]any {
	inner, ok := data["data"].(map[string]any)
	if !ok {
		return data
	}
	if _, hasMeta := data["metadata"]; hasMeta {
		return inner
	}
	return data
}

func decodeFields(data map[string]any) (map[string]string, error) {
	fields := map[string]string{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &fields,
	})
	if err != nil {
		return nil, err
	}
	flat := make(map[string]any, len(data))
	for k, v := range data {
		switch v.(type) {
		case map[string]any, []any:
			// nested values cannot hold a passphrase
		default:
			flat[k] = v
		}
	}
	if err := decoder.Decode(flat); err != nil {
		return nil, fmt.Errorf("%w: decode secret data: %v", ErrSecret, err)
	}
	return fields, nil
}
