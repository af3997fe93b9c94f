package provider_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-sika/internal/provider"
)

func TestParseID(t *testing.T) {
	t.Parallel()

	id, err := provider.ParseID("  MOOLRE ", "")
	require.NoError(t, err)
	require.Equal(t, provider.Moolre, id)

	id, err = provider.ParseID("", provider.Moolre)
	require.NoError(t, err)
	require.Equal(t, provider.Moolre, id)

	_, err = provider.ParseID("paystack", provider.Moolre)
	require.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry(provider.Moolre)
	reg.Register(provider.Moolre, provider.MoolreClient{})

	id, client, err := reg.Resolve("")
	require.NoError(t, err)
	require.Equal(t, provider.Moolre, id)
	require.NotNil(t, client)

	_, _, err = reg.Resolve("stripe")
	require.Error(t, err)
}

func TestRegistryUnconfiguredProvider(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry(provider.Moolre)
	_, _, err := reg.Resolve("moolre")
	require.ErrorContains(t, err, "not configured")
}
