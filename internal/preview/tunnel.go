package preview

import (
	"context"
	"fmt"

	"gameshelf/internal/config"

	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok/v2"
)

// Tunnel shares the preview server through an ngrok endpoint
type Tunnel struct {
	cfg    config.TunnelConfig
	agent  ngrok.Agent
	fwd    ngrok.EndpointForwarder
	logger *logrus.Logger
}

// NewTunnel creates an ngrok agent. The token comes from the [tunnel]
// section or NGROK_AUTHTOKEN.
func NewTunnel(cfg config.TunnelConfig, logger *logrus.Logger) (*Tunnel, error) {
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("ngrok auth token not found, set %s or tunnel.auth_token", config.EnvNgrokToken)
	}
	if logger == nil {
		logger = logrus.New()
	}

	agent, err := ngrok.NewAgent(ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create ngrok agent: %w", err)
	}
	return &Tunnel{cfg: cfg, agent: agent, logger: logger}, nil
}

func (t *Tunnel) endpointOptions() []ngrok.EndpointOption {
	var opts []ngrok.EndpointOption
	if t.cfg.Domain != "" {
		opts = append(opts, ngrok.WithURL(t.cfg.Domain))
	}
	if t.cfg.OAuthProvider != "" {
		opts = append(opts, ngrok.WithTrafficPolicy(oauthPolicy(t.cfg.OAuthProvider)))
	}
	return opts
}

func oauthPolicy(provider string) string {
	return fmt.Sprintf(`
on_http_request:
  - actions:
      - type: oauth
        config:
          provider: %s
`, provider)
}

// Start forwards the public endpoint to upstream and returns its URL
func (t *Tunnel) Start(ctx context.Context, upstream string) (string, error) {
	fwd, err := t.agent.Forward(ctx, ngrok.WithUpstream(upstream), t.endpointOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to create ngrok tunnel: %w", err)
	}
	t.fwd = fwd

	url := fwd.URL().String()
	t.logger.WithFields(logrus.Fields{
		"url":      url,
		"upstream": upstream,
		"oauth":    t.cfg.OAuthProvider,
	}).Info("Preview shared through ngrok")
	return url, nil
}

// Stop closes the endpoint if one was started
func (t *Tunnel) Stop() error {
	if t == nil || t.fwd == nil {
		return nil
	}
	t.logger.Info("Stopping ngrok tunnel")
	return t.fwd.Close()
}
