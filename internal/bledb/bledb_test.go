package bledb

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"180d", "180d"},
		{"0x180D", "180d"},
		{"0000180d-0000-1000-8000-00805f9b34fb", "180d"},
		{"0000180d00001000800000805f9b34fb", "180d"},
		{"{0000180d-0000-1000-8000-00805f9b34fb}", "180d"},
		{"00002A19", "2a19"},
		{"6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400001b5a3f393e0a9e50e24dcca9e"},
		{"battery", ""},
		{"18", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}

	assert.Equal(t, []string{"2a19", ""}, NormalizeUUIDs([]string{"0x2A19", "zz"}))
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name     string
		lookup   func(string) string
		uuid     string
		expected string
	}{
		{"service short", LookupService, "180f", "Battery Service"},
		{"service full", LookupService, "0000180f-0000-1000-8000-00805f9b34fb", "Battery Service"},
		{"service unknown", LookupService, "ffff", ""},
		{"characteristic", LookupCharacteristic, "0x2A37", "Heart Rate Measurement"},
		{"characteristic full", LookupCharacteristic, "00002a19-0000-1000-8000-00805f9b34fb", "Battery Level"},
		{"characteristic is not a service", LookupService, "2a19", ""},
		{"descriptor", LookupDescriptor, "2902", "Client Characteristic Configuration"},
		{"descriptor full", LookupDescriptor, "00002901-0000-1000-8000-00805f9b34fb", "Characteristic User Descriptor"},
		{"declaration", Lookup, "2800", "Primary Service"},
		{"any category", Lookup, "2A01", "Appearance"},
		{"vendor service", Lookup, "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", "Nordic UART Service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.lookup(tt.uuid))
		})
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "Battery Level", Name(ble.UUID16(0x2a19)))
	assert.Equal(t, "Heart Rate", Name(ble.MustParse("0000180d-0000-1000-8000-00805f9b34fb")))
	assert.Equal(t, "Reference Time Update Service", Name(ble.UUID16(0x1806)), "MUST fall back to go-ble names")
	assert.Empty(t, Name(ble.UUID16(0xfff0)))
}
