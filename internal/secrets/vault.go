package secrets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
)

// Secret data keys expected in the KV v2 payload.
const (
	keyClientID       = "client_id"
	keyClientSecret   = "client_secret"
	keyRefreshToken   = "refresh_token"
	keyAccessToken    = "access_token"
	keyDeveloperToken = "developer_token"
)

// VaultManager implements the SecretManager interface for HashiCorp Vault.
type VaultManager struct {
	client *vault.Client
	cfg    *config.Config
	logger *zap.Logger
}

func NewVaultManager(cfg *config.Config, baseLogger *zap.Logger) (*VaultManager, error) {
	log := baseLogger.Named("vault-manager")
	if !cfg.VaultEnabled {
		log.Info("Vault secret manager is disabled via configuration.")
		return &VaultManager{cfg: cfg, logger: log}, nil
	}

	log.Info("Initializing Vault secret manager", zap.String("address", cfg.VaultAddr))

	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.VaultAddr
	vConfig.Timeout = 10 * time.Second

	tlsConfig := &vault.TLSConfig{
		CACert:   cfg.VaultCACert,
		Insecure: cfg.VaultSkipVerify,
	}
	if err := vConfig.ConfigureTLS(tlsConfig); err != nil {
		return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.VaultToken != "" {
		log.Info("Using Vault token authentication")
		client.SetToken(cfg.VaultToken)
	} else {
		log.Warn("Vault is enabled, but no VAULT_TOKEN provided and other auth methods are not implemented yet.")
	}

	return &VaultManager{
		client: client,
		cfg:    cfg,
		logger: log,
	}, nil
}

func (m *VaultManager) IsEnabled() bool {
	return m.cfg != nil && m.cfg.VaultEnabled && m.client != nil
}

// GetAPICredentials retrieves platform API credentials from the Vault KV v2
// engine. Only the access/refresh token pair is strictly required; the
// remaining keys are optional and platform-dependent.
func (m *VaultManager) GetAPICredentials(ctx context.Context, path string) (*APICredentials, error) {
	if !m.IsEnabled() {
		return nil, fmt.Errorf("Vault manager is not enabled or not initialized")
	}
	if path == "" {
		return nil, fmt.Errorf("Vault secret path cannot be empty")
	}

	log := m.logger.With(zap.String("vault_path", path))
	log.Info("Attempting to read API credentials from Vault KV v2")

	secret, err := m.client.KVv2("secret").Get(ctx, path)
	if err != nil {
		if vaultErr, ok := err.(*vault.ResponseError); ok && vaultErr.StatusCode == http.StatusNotFound {
			log.Error("Secret not found in Vault", zap.Error(err))
			return nil, fmt.Errorf("secret '%s' not found in Vault: %w", path, err)
		}
		log.Error("Failed to read secret from Vault", zap.Error(err))
		return nil, fmt.Errorf("failed to read secret '%s' from Vault: %w", path, err)
	}

	if secret == nil || secret.Data == nil {
		log.Error("Vault secret data is empty or malformed (expected KV v2 format)")
		return nil, fmt.Errorf("secret data for '%s' is empty or not in expected KV v2 format", path)
	}

	str := func(key string) string {
		if v, ok := secret.Data[key]; ok && v != nil {
			if s, sOk := v.(string); sOk {
				return s
			}
		}
		return ""
	}

	creds := &APICredentials{
		ClientID:       str(keyClientID),
		ClientSecret:   str(keyClientSecret),
		RefreshToken:   str(keyRefreshToken),
		AccessToken:    str(keyAccessToken),
		DeveloperToken: str(keyDeveloperToken),
	}

	if creds.AccessToken == "" && creds.RefreshToken == "" {
		log.Error("Neither access_token nor refresh_token present in Vault secret data")
		return nil, fmt.Errorf("secret '%s' carries neither %s nor %s", path, keyAccessToken, keyRefreshToken)
	}

	log.Info("Successfully retrieved API credentials from Vault")
	return creds, nil
}
