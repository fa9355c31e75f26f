package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadPercentage(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		capacity int
		want     float64
	}{
		{"empty", 0, 4, 0},
		{"quarter", 1, 4, 25},
		{"full", 4, 4, 100},
		{"over capacity is capped", 6, 4, 100},
		{"no capacity, no users", 0, 0, 0},
		{"no capacity, users bound", 2, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, LoadPercentage(tt.count, tt.capacity))
		})
	}
}

func TestDevice(t *testing.T) {
	d := Device{ID: "dcom1", Status: DeviceStatusActive}

	require.True(t, d.IsActive())
	require.Equal(t, "dcom1", d.DisplayName())
	require.False(t, d.HasPublicAddress())
	require.NoError(t, d.Validate())

	for _, address := range []string{"", UnknownAddress, "N/A"} {
		d.PublicAddress = address
		require.False(t, d.HasPublicAddress(), address)
	}
	d.PublicAddress = "27.72.1.10"
	require.True(t, d.HasPublicAddress())

	d.Name = "Viettel 1"
	require.Equal(t, "Viettel 1", d.DisplayName())

	require.Error(t, (&Device{Status: DeviceStatusActive}).Validate())
	require.Error(t, (&Device{ID: "x", Status: "broken"}).Validate())
	require.Error(t, (&Device{ID: "x", Status: DeviceStatusInactive, MaxUsers: -1}).Validate())
}
