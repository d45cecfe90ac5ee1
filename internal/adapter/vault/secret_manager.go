package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/pkg/config"
)

type SecretManager struct {
	client *api.Client
	log    *zap.Logger
}

func NewSecretManager(address, token string, log *zap.Logger) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client, log: log}, nil
}

// Read returns the string values of a KV v2 secret.
func (sm *SecretManager) Read(ctx context.Context, path string) (map[string]string, error) {
	secret, err := sm.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault read %s: secret not found", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("vault read %s: not a KV v2 secret", path)
	}

	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}

// ResolveSecrets fills the credentials cfg leaves empty from the secret at
// cfg.Vault.Path. Values already set in config or the environment win.
func (sm *SecretManager) ResolveSecrets(ctx context.Context, cfg *config.Config) error {
	secrets, err := sm.Read(ctx, cfg.Vault.Path)
	if err != nil {
		return err
	}

	targets := map[string]*string{
		"jwt_secret":     &cfg.JWT.Secret,
		"database_url":   &cfg.Database.URL,
		"redis_url":      &cfg.Redis.URL,
		"stt_api_key":    &cfg.Providers.STT.APIKey,
		"tts_api_key":    &cfg.Providers.TTS.APIKey,
		"gemini_api_key": &cfg.Providers.LLM.APIKey,
	}
	resolved := 0
	for key, dst := range targets {
		if v, ok := secrets[key]; ok && v != "" && *dst == "" {
			*dst = v
			resolved++
		}
	}

	sm.log.Info("Secrets resolved from Vault",
		zap.String("path", cfg.Vault.Path),
		zap.Int("resolved", resolved),
	)
	return nil
}
