package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
)

// EnvManager serves credentials straight from the process configuration.
// It is the fallback when Vault is disabled; pathOrID is ignored because
// the process carries exactly one credential set.
type EnvManager struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewEnvManager(cfg *config.Config, baseLogger *zap.Logger) *EnvManager {
	return &EnvManager{cfg: cfg, logger: baseLogger.Named("env-secrets")}
}

func (m *EnvManager) IsEnabled() bool {
	return m.cfg != nil && (m.cfg.APIAccessToken != "" || m.cfg.APIRefreshToken != "")
}

func (m *EnvManager) GetAPICredentials(ctx context.Context, pathOrID string) (*APICredentials, error) {
	if !m.IsEnabled() {
		return nil, fmt.Errorf("no API credentials in environment: set API_ACCESS_TOKEN or API_REFRESH_TOKEN")
	}
	m.logger.Info("Using API credentials from environment configuration.")
	return &APICredentials{
		ClientID:       m.cfg.APIClientID,
		ClientSecret:   m.cfg.APIClientSecret,
		RefreshToken:   m.cfg.APIRefreshToken,
		AccessToken:    m.cfg.APIAccessToken,
		DeveloperToken: m.cfg.APIDeveloperToken,
	}, nil
}
