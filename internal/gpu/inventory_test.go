package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestInventory(t *testing.T) {
	t.Run("emulated", func(t *testing.T) {
		inv, err := Inventory(NewEmulatedBackend(EmulatedConfig{Workers: 3, MaxWorkGroupSize: 128}, zaptest.NewLogger(t)))
		require.NoError(t, err)
		require.Len(t, inv, 1)
		assert.Equal(t, 0, inv[0].Index)
		assert.NoError(t, inv[0].Err)
		require.Len(t, inv[0].Devices, 1)
		d := inv[0].Devices[0]
		assert.Equal(t, DeviceTypeGPU, d.Type)
		assert.Equal(t, 3, d.ComputeUnits)
		assert.Equal(t, 128, d.MaxWorkGroupSize)
	})

	t.Run("platform failure", func(t *testing.T) {
		_, err := Inventory(fakeBackend{&recorder{failOn: "Platforms"}})
		assert.True(t, errors.Is(err, ErrPlatformEnumeration))
	})

	t.Run("device failure is kept per platform", func(t *testing.T) {
		inv, err := Inventory(fakeBackend{&recorder{failOn: "Devices"}})
		require.NoError(t, err)
		require.Len(t, inv, 1)
		assert.True(t, errors.Is(inv[0].Err, ErrDeviceEnumeration))
		assert.Empty(t, inv[0].Devices)
	})
}
