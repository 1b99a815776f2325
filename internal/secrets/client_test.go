package secrets

import (
	"context"
	"testing"

	"sr-zone-engine/config"
)

// TestMockClientServesCredentials tests the pre-seeded disabled-mode client
func TestMockClientServesCredentials(t *testing.T) {
	client := NewMockClient(FeedCredentials{APIKey: "key-123", SecretKey: "secret-456"})

	creds, err := client.FeedCredentials(context.Background())
	if err != nil {
		t.Fatalf("FeedCredentials failed: %v", err)
	}
	if creds.APIKey != "key-123" || creds.SecretKey != "secret-456" {
		t.Errorf("creds = %+v, want seeded values", creds)
	}
	if client.IsEnabled() {
		t.Error("mock client should report vault disabled")
	}
}

// TestFeedCredentialsReturnsCopy tests that callers cannot poison the cache
func TestFeedCredentialsReturnsCopy(t *testing.T) {
	client := NewMockClient(FeedCredentials{APIKey: "key-123"})

	first, err := client.FeedCredentials(context.Background())
	if err != nil {
		t.Fatalf("FeedCredentials failed: %v", err)
	}
	first.APIKey = "tampered"

	second, err := client.FeedCredentials(context.Background())
	if err != nil {
		t.Fatalf("FeedCredentials failed: %v", err)
	}
	if second.APIKey != "key-123" {
		t.Errorf("cache mutated through returned pointer: %q", second.APIKey)
	}
}

// TestDisabledClientSeedsFromEnv tests environment seeding without Vault
func TestDisabledClientSeedsFromEnv(t *testing.T) {
	t.Setenv("FEED_API_KEY", "env-key")
	t.Setenv("FEED_SECRET_KEY", "env-secret")

	client, err := NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	creds, err := client.FeedCredentials(context.Background())
	if err != nil {
		t.Fatalf("FeedCredentials failed: %v", err)
	}
	if creds.APIKey != "env-key" || creds.SecretKey != "env-secret" {
		t.Errorf("creds = %+v, want environment values", creds)
	}
}

// TestDisabledClientWithoutSeed tests the error when nothing is available
func TestDisabledClientWithoutSeed(t *testing.T) {
	t.Setenv("FEED_API_KEY", "")
	t.Setenv("FEED_SECRET_KEY", "")

	client, err := NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.FeedCredentials(context.Background()); err == nil {
		t.Error("unseeded disabled client should fail credential lookup")
	}
}

// TestStoreAndClearCache tests the disabled-mode cache lifecycle
func TestStoreAndClearCache(t *testing.T) {
	t.Setenv("FEED_API_KEY", "")
	t.Setenv("FEED_SECRET_KEY", "")

	client, err := NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if err := client.Store(context.Background(), FeedCredentials{APIKey: "stored"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	creds, err := client.FeedCredentials(context.Background())
	if err != nil {
		t.Fatalf("FeedCredentials failed: %v", err)
	}
	if creds.APIKey != "stored" {
		t.Errorf("APIKey = %q, want stored", creds.APIKey)
	}

	client.ClearCache()
	if _, err := client.FeedCredentials(context.Background()); err == nil {
		t.Error("cleared cache should fail lookup with vault disabled")
	}
}

// TestDisabledHealthAlwaysOk tests that health is a no-op without Vault
func TestDisabledHealthAlwaysOk(t *testing.T) {
	client := NewMockClient(FeedCredentials{})
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("disabled health check failed: %v", err)
	}
}
