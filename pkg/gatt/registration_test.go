package gatt

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	uartServiceUUID = ble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	uartRxUUID      = ble.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	uartTxUUID      = ble.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

// genericAccess registers the GAP service with a writable device name and a readable appearance.
func genericAccess(t *testing.T) *Registration[string] {
	t.Helper()
	r := NewRegistration[string]()
	require.NoError(t, r.AddPrimaryService(GenericAccessUUID))
	require.NoError(t, r.AddCharacteristicWithToken("name", DeviceNameUUID, []byte("gattsrv"), PropWrite))
	require.NoError(t, r.AddCharacteristic(AppearanceUUID, []byte{0xC0, 0x03}, PropRead))
	return r
}

// fullProfile registers three services of mixed UUID widths.
func fullProfile(t *testing.T) *Registration[string] {
	t.Helper()
	r := genericAccess(t)
	require.NoError(t, r.AddPrimaryService(BatteryServiceUUID))
	require.NoError(t, r.AddCharacteristicWithToken("battery", BatteryLevelUUID, []byte{100}, PropRead|PropNotify))
	require.NoError(t, r.AddDescriptor(UserDescriptionUUID, []byte("Battery"), false))
	require.NoError(t, r.AddPrimaryService(uartServiceUUID))
	require.NoError(t, r.AddCharacteristicWithToken("rx", uartRxUUID, nil, PropWrite|PropWriteWithoutResponse))
	require.NoError(t, r.AddCharacteristicWithToken("tx", uartTxUUID, nil, PropNotify|PropIndicate))
	return r
}

func TestRegistration_HandleLayout(t *testing.T) {
	db, tokens := genericAccess(t).Build()

	require.Equal(t, 5, db.Len())

	expected := []struct {
		kind  Kind
		typ   ble.UUID
		perm  Permission
		value []byte
	}{
		{KindPrimaryService, PrimaryServiceUUID, PermRead, []byte{0x00, 0x18}},
		{KindCharacteristic, CharacteristicUUID, PermRead, []byte{0x08, 0x03, 0x00, 0x00, 0x2A}},
		{KindValue, DeviceNameUUID, PermWrite, []byte("gattsrv")},
		{KindCharacteristic, CharacteristicUUID, PermRead, []byte{0x02, 0x05, 0x00, 0x01, 0x2A}},
		{KindValue, AppearanceUUID, PermRead, []byte{0xC0, 0x03}},
	}
	for i, e := range expected {
		h := uint16(i + 1)
		a, ok := db.At(h)
		require.True(t, ok)
		assert.Equal(t, h, a.Handle)
		assert.Equal(t, e.kind, a.Kind, "handle %d kind", h)
		assert.True(t, e.typ.Equal(a.Type), "handle %d type", h)
		assert.Equal(t, e.perm, a.Perm, "handle %d permissions", h)
		v, _ := db.Value(h)
		assert.Equal(t, e.value, v, "handle %d value", h)
	}

	h, ok := tokens.Handle("name")
	assert.True(t, ok)
	assert.Equal(t, uint16(3), h, "token MUST map to the value handle")
}

func TestRegistration_Deterministic(t *testing.T) {
	first, _ := fullProfile(t).Build()
	second, _ := fullProfile(t).Build()

	assert.Equal(t, first.Attributes(), second.Attributes(), "same calls MUST yield the same handles")
}

func TestRegistration_ServiceRanges(t *testing.T) {
	db, _ := fullProfile(t).Build()
	services := db.Services()
	require.Len(t, services, 3)

	assert.Equal(t, uint16(1), services[0].Handle)
	for i, s := range services {
		assert.GreaterOrEqual(t, s.EndHandle, s.Handle, "service %d end MUST not precede its declaration", i)
		if i > 0 {
			assert.Equal(t, services[i-1].EndHandle+1, s.Handle, "service %d MUST start right after the previous one", i)
		}
	}
	assert.Equal(t, uint16(db.Len()), services[2].EndHandle, "last service MUST end at the last handle")
	assert.True(t, services[2].UUID.Equal(uartServiceUUID))
}

func TestRegistration_AutomaticDescriptors(t *testing.T) {
	r := NewRegistration[int]()
	require.NoError(t, r.AddPrimaryService(BatteryServiceUUID))
	require.NoError(t, r.AddCharacteristic(BatteryLevelUUID, []byte{1},
		PropBroadcast|PropRead|PropWrite|PropNotify|PropIndicate|PropReliableWrite))
	require.NoError(t, r.AddDescriptor(PresentationFormatUUID, []byte{4, 0, 0xAD, 0x27, 1, 0, 0}, false))
	db, _ := r.Build()

	require.Equal(t, 7, db.Len())

	decl, _ := db.Value(2)
	assert.Equal(t, byte(0x01|0x02|0x08|0x10|0x20|0x80), decl[0], "declaration MUST flag extended properties")

	kinds := []Kind{KindPrimaryService, KindCharacteristic, KindValue, KindExtendedProperties, KindCCCD, KindSCCD, KindDescriptor}
	for i, k := range kinds {
		a, _ := db.At(uint16(i + 1))
		assert.Equal(t, k, a.Kind, "handle %d", i+1)
		if i >= 3 {
			assert.Equal(t, uint16(3), a.Owner, "descriptor %d MUST point at the value handle", i+1)
		}
	}

	ext, _ := db.Value(4)
	assert.Equal(t, []byte{0x01, 0x00}, ext, "extended properties MUST carry the reliable write bit")
	cccd, _ := db.Value(5)
	assert.Equal(t, []byte{0x00, 0x00}, cccd, "CCCD MUST start cleared")

	a, _ := db.At(5)
	assert.Equal(t, PermRead|PermWrite, a.Perm)
}

func TestRegistration_ExtendedBitFollowsDescriptor(t *testing.T) {
	r := NewRegistration[string]()
	require.NoError(t, r.AddPrimaryService(BatteryServiceUUID))
	require.NoError(t, r.AddCharacteristic(BatteryLevelUUID, []byte{1}, PropRead|PropExtendedProperties))
	db, _ := r.Build()

	require.Equal(t, 3, db.Len(), "no extended property MUST mean no 0x2900 descriptor")
	decl, _ := db.Value(2)
	assert.Equal(t, byte(0x02), decl[0], "declaration MUST not announce a descriptor that does not exist")
}

func TestRegistration_NotifyOnlyValueIsNotPeerAccessible(t *testing.T) {
	r := NewRegistration[string]()
	require.NoError(t, r.AddPrimaryService(uartServiceUUID))
	require.NoError(t, r.AddCharacteristic(uartTxUUID, nil, PropNotify))
	db, _ := r.Build()

	a, _ := db.At(3)
	assert.Equal(t, Permission(0), a.Perm)
}

func TestRegistration_Errors(t *testing.T) {
	t.Run("characteristic before service", func(t *testing.T) {
		r := NewRegistration[string]()
		assert.ErrorIs(t, r.AddCharacteristic(BatteryLevelUUID, nil, PropRead), ErrNoService)
	})

	t.Run("descriptor before characteristic", func(t *testing.T) {
		r := NewRegistration[string]()
		require.NoError(t, r.AddPrimaryService(BatteryServiceUUID))
		assert.ErrorIs(t, r.AddDescriptor(UserDescriptionUUID, nil, false), ErrNoCharacteristic)
	})

	t.Run("duplicate token", func(t *testing.T) {
		r := genericAccess(t)
		err := r.AddCharacteristicWithToken("name", BatteryLevelUUID, nil, PropRead)
		assert.ErrorIs(t, err, ErrDuplicateToken)

		var tokenErr *TokenError[string]
		require.ErrorAs(t, err, &tokenErr)
		assert.Equal(t, "name", tokenErr.Token)

		db, _ := r.Build()
		assert.Equal(t, 5, db.Len(), "a rejected characteristic MUST not allocate handles")
	})

	t.Run("invalid uuid", func(t *testing.T) {
		r := NewRegistration[string]()
		assert.ErrorIs(t, r.AddPrimaryService(ble.UUID{1, 2, 3}), ErrInvalidUUID)
	})

	t.Run("value too long", func(t *testing.T) {
		r := NewRegistration[string]()
		require.NoError(t, r.AddPrimaryService(BatteryServiceUUID))
		assert.ErrorIs(t, r.AddCharacteristic(BatteryLevelUUID, make([]byte, 513), PropRead), ErrValueTooLong)
	})

	t.Run("after build", func(t *testing.T) {
		r := genericAccess(t)
		db, tokens := r.Build()

		assert.ErrorIs(t, r.AddPrimaryService(BatteryServiceUUID), ErrRegistrationFinished)
		assert.ErrorIs(t, r.AddCharacteristic(BatteryLevelUUID, nil, PropRead), ErrRegistrationFinished)
		assert.ErrorIs(t, r.AddCharacteristicWithToken("x", BatteryLevelUUID, nil, PropRead), ErrRegistrationFinished)
		assert.ErrorIs(t, r.AddDescriptor(UserDescriptionUUID, nil, false), ErrRegistrationFinished)

		again, tokensAgain := r.Build()
		assert.Same(t, db, again, "Build MUST be idempotent")
		assert.Same(t, tokens, tokensAgain)
	})
}

func TestTokens(t *testing.T) {
	_, tokens := fullProfile(t).Build()

	assert.Equal(t, 4, tokens.Len())

	var order []string
	for token, h := range tokens.All() {
		order = append(order, token)
		back, ok := tokens.Token(h)
		assert.True(t, ok)
		assert.Equal(t, token, back, "mapping MUST be one-to-one")
	}
	assert.Equal(t, []string{"name", "battery", "rx", "tx"}, order, "tokens MUST iterate in registration order")

	_, ok := tokens.Handle("missing")
	assert.False(t, ok)
}

func TestParseProperties(t *testing.T) {
	tests := []struct {
		input    string
		expected Property
		wantErr  bool
	}{
		{"read", PropRead, false},
		{"read,notify", PropRead | PropNotify, false},
		{"Read | Write | Indicate", PropRead | PropWrite | PropIndicate, false},
		{"write-without-response", PropWriteWithoutResponse, false},
		{"writenr,reliable_write", PropWriteWithoutResponse | PropReliableWrite, false},
		{"", 0, false},
		{"read,teleport", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParseProperties(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}

	assert.Equal(t, "read|notify", (PropRead | PropNotify).String())
	assert.Equal(t, "none", Property(0).String())
}
