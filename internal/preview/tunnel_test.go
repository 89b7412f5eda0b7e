package preview

import (
	"testing"

	"gameshelf/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestNewTunnel_RequiresToken(t *testing.T) {
	_, err := NewTunnel(config.TunnelConfig{}, nil)
	assert.ErrorContains(t, err, config.EnvNgrokToken)
}

func TestTunnel_EndpointOptions(t *testing.T) {
	plain := &Tunnel{}
	assert.Empty(t, plain.endpointOptions())

	full := &Tunnel{cfg: config.TunnelConfig{Domain: "shelf.ngrok.app", OAuthProvider: "github"}}
	assert.Len(t, full.endpointOptions(), 2)
	assert.Contains(t, oauthPolicy("github"), "provider: github")
}

func TestTunnel_StopWithoutStart(t *testing.T) {
	var missing *Tunnel
	assert.NoError(t, missing.Stop())
	assert.NoError(t, (&Tunnel{}).Stop())
}
