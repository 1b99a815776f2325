package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/vault/api"

	"sr-zone-engine/config"
)

// FeedCredentials holds the credentials presented to the market data feed
// when the endpoint requires authentication.
type FeedCredentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Client wraps the HashiCorp Vault client for feed credential lookup.
// With Vault disabled it serves environment-seeded values so development
// and tests need no Vault instance.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache *FeedCredentials
}

// NewClient creates a Vault client, or a cache-only client when Vault is
// disabled in config.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{config: cfg}

	if !cfg.Enabled {
		c.seedFromEnv()
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// NewMockClient creates a disabled-mode client pre-seeded with creds.
func NewMockClient(creds FeedCredentials) *Client {
	return &Client{
		config: config.VaultConfig{Enabled: false},
		cache:  &creds,
	}
}

// FeedCredentials returns the feed credentials, from cache when present,
// otherwise from the configured KV v2 secret.
func (c *Client) FeedCredentials(ctx context.Context) (*FeedCredentials, error) {
	c.mu.RLock()
	if c.cache != nil {
		cached := *c.cache
		c.mu.RUnlock()
		return &cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("feed credentials not found and vault is disabled")
	}

	path := c.secretPath()
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("feed credentials not found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	creds := &FeedCredentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}

	c.mu.Lock()
	c.cache = creds
	c.mu.Unlock()

	out := *creds
	return &out, nil
}

// Store writes credentials to Vault and updates the cache. Disabled mode
// updates the cache only.
func (c *Client) Store(ctx context.Context, creds FeedCredentials) error {
	c.mu.Lock()
	c.cache = &creds
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(), secretData); err != nil {
		return fmt.Errorf("failed to store feed credentials in vault: %w", err)
	}
	return nil
}

// ClearCache drops the cached credentials, forcing a re-read.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// secretPath returns the KV v2 data path for the feed secret.
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func (c *Client) seedFromEnv() {
	apiKey := os.Getenv("FEED_API_KEY")
	secretKey := os.Getenv("FEED_SECRET_KEY")
	if apiKey == "" && secretKey == "" {
		return
	}
	c.cache = &FeedCredentials{APIKey: apiKey, SecretKey: secretKey}
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
