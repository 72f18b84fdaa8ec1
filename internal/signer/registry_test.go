package signer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineltrust/controlplane/internal/config"
)

func mustLocalDevSigner(t *testing.T, kid string) *LocalDevSigner {
	t.Helper()
	s, err := NewLocalDevSigner(config.Development, []byte("key"), kid)
	require.NoError(t, err)
	return s
}

func TestRegistrySignUsesPrimaryBackend(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(mustLocalDevSigner(t, "dev-1"))

	digest := [32]byte{9}
	sig, kid, err := reg.Sign(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", kid)
	assert.NotEmpty(t, sig)
}

func TestRegistrySignFailsWithNoBackends(t *testing.T) {
	reg := NewRegistry(nil)
	_, _, err := reg.Sign(context.Background(), [32]byte{})
	assert.Error(t, err)
}

func TestRegistryVerifyResolvesByKid(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(mustLocalDevSigner(t, "dev-1"))

	digest := [32]byte{9}
	sig, kid, err := reg.Sign(context.Background(), digest)
	require.NoError(t, err)

	valid, err := reg.Verify(context.Background(), kid, digest, sig)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestRegistryVerifyUnknownKidErrors(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Verify(context.Background(), "nonexistent", [32]byte{}, nil)
	assert.Error(t, err)
}

func TestRegistryProbeAggregatesReadiness(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(mustLocalDevSigner(t, "dev-1"))

	report := reg.Probe(context.Background())
	assert.True(t, report.Ready)
	assert.Contains(t, report.Backends, "local-dev")
}

func TestRequireAsymmetricBackendSkippedOutsideProductionWithoutFlag(t *testing.T) {
	reg := NewRegistry(nil)
	err := reg.RequireAsymmetricBackend(context.Background(), config.Development, false)
	assert.NoError(t, err)
}

func TestRequireAsymmetricBackendFailsWhenOnlyHMACRegistered(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(mustLocalDevSigner(t, "dev-1"))

	err := reg.RequireAsymmetricBackend(context.Background(), config.Development, true)
	assert.Error(t, err)
}
