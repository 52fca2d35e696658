package gatt

import "github.com/go-ble/ble"

// Attribute types defined by GATT.
var (
	PrimaryServiceUUID             = ble.UUID16(0x2800)
	SecondaryServiceUUID           = ble.UUID16(0x2801)
	IncludeUUID                    = ble.UUID16(0x2802)
	CharacteristicUUID             = ble.UUID16(0x2803)
	ExtendedPropertiesUUID         = ble.UUID16(0x2900)
	UserDescriptionUUID            = ble.UUID16(0x2901)
	ClientCharacteristicConfigUUID = ble.UUID16(0x2902)
	ServerCharacteristicConfigUUID = ble.UUID16(0x2903)
	PresentationFormatUUID         = ble.UUID16(0x2904)
	AggregateFormatUUID            = ble.UUID16(0x2905)
)

// Well-known services and characteristics.
var (
	GenericAccessUUID     = ble.UUID16(0x1800)
	GenericAttributeUUID  = ble.UUID16(0x1801)
	DeviceInformationUUID = ble.UUID16(0x180A)
	BatteryServiceUUID    = ble.UUID16(0x180F)

	DeviceNameUUID       = ble.UUID16(0x2A00)
	AppearanceUUID       = ble.UUID16(0x2A01)
	ServiceChangedUUID   = ble.UUID16(0x2A05)
	BatteryLevelUUID     = ble.UUID16(0x2A19)
	ModelNumberUUID      = ble.UUID16(0x2A24)
	SerialNumberUUID     = ble.UUID16(0x2A25)
	ManufacturerNameUUID = ble.UUID16(0x2A29)
)

// baseUUID is the Bluetooth Base UUID 00000000-0000-1000-8000-00805F9B34FB in little-endian order.
var baseUUID = ble.UUID{
	0xFB, 0x34, 0x9B, 0x5F, 0x80, 0x00, 0x00, 0x80,
	0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// sameUUID compares UUIDs across widths: a 16-bit UUID equals its 128-bit expansion
// over the Bluetooth Base UUID.
func sameUUID(a, b ble.UUID) bool {
	if a.Len() == b.Len() {
		return a.Equal(b)
	}
	return expand(a).Equal(expand(b))
}

func expand(u ble.UUID) ble.UUID {
	if u.Len() != 2 {
		return u
	}
	full := append(ble.UUID(nil), baseUUID...)
	full[12], full[13] = u[0], u[1]
	return full
}
