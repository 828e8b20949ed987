package config

import (
	"context"
	"fmt"
	"os"
)

// SecretStore reads credentials that should not live in config files.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from process environment variables.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("secret %s not set", key)
	}
	return v, nil
}

func (s EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// Secret keys consulted by ApplySecrets.
const (
	SecretSQLDSN        = "LOYALTYKIT_SECRET_SQL_DSN"
	SecretRedisPassword = "LOYALTYKIT_SECRET_REDIS_PASSWORD"
	SecretAPIKeys       = "LOYALTYKIT_SECRET_API_KEYS"
	SecretMintToken     = "LOYALTYKIT_SECRET_MINT_TOKEN"
	SecretWebhookSecret = "LOYALTYKIT_SECRET_WEBHOOK_SECRET"
)

// ApplySecrets overwrites credential fields with values found in store. Keys
// that are absent leave the current value in place.
func (c *Config) ApplySecrets(ctx context.Context, store SecretStore) error {
	if store == nil {
		return fmt.Errorf("nil secret store")
	}
	c.Storage.SQL.DSN = store.GetWithDefault(ctx, SecretSQLDSN, c.Storage.SQL.DSN)
	c.Storage.Redis.Password = store.GetWithDefault(ctx, SecretRedisPassword, c.Storage.Redis.Password)
	c.Integrations.Mint.Token = store.GetWithDefault(ctx, SecretMintToken, c.Integrations.Mint.Token)
	c.Integrations.Webhook.Secret = store.GetWithDefault(ctx, SecretWebhookSecret, c.Integrations.Webhook.Secret)
	if keys, err := store.Get(ctx, SecretAPIKeys); err == nil {
		c.Security.APIKeys = splitList(keys)
	}
	return nil
}
