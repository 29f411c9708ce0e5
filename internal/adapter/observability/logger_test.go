package observability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/internal/config"
)

func TestSetupLogger(t *testing.T) {
	lg := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "trawl"})
	require.NotNil(t, lg)
	lg.Info("logger configured")
}

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(config.Config{})
	require.NoError(t, err)
	require.Nil(t, shutdown)
}
