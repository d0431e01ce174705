package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyEndpointDisablesExport(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "ashiato-test", "dev", false)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()), "the no-op shutdown must not fail")
}

func TestMeter_UsableBeforeInit(t *testing.T) {
	m := Meter("ashiato-test")
	ctr, err := m.Int64Counter("ashiato.test.events")
	require.NoError(t, err)
	ctr.Add(context.Background(), 1)
}
