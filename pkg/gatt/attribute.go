package gatt

import (
	"strings"

	"github.com/go-ble/ble"
)

// Permission is the access a peer has to an attribute value.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
)

func (p Permission) String() string {
	var s []string
	if p&PermRead != 0 {
		s = append(s, "read")
	}
	if p&PermWrite != 0 {
		s = append(s, "write")
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, "|")
}

// Kind tells what role an attribute plays in the GATT hierarchy.
type Kind uint8

const (
	KindPrimaryService Kind = iota + 1
	KindSecondaryService
	KindCharacteristic
	KindValue
	KindDescriptor
	KindCCCD
	KindSCCD
	KindExtendedProperties
)

var kindNames = map[Kind]string{
	KindPrimaryService:     "primary service",
	KindSecondaryService:   "secondary service",
	KindCharacteristic:     "characteristic",
	KindValue:              "value",
	KindDescriptor:         "descriptor",
	KindCCCD:               "cccd",
	KindSCCD:               "sccd",
	KindExtendedProperties: "extended properties",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsService reports whether the attribute opens a service group.
func (k Kind) IsService() bool {
	return k == KindPrimaryService || k == KindSecondaryService
}

// Attribute describes one database entry. The structure never changes after registration;
// values live in the owning Database.
type Attribute struct {
	Handle uint16
	Type   ble.UUID
	Kind   Kind
	Perm   Permission

	// Props is set on characteristic declarations, values and their configuration descriptors.
	Props Property

	// Owner links related attributes: a declaration to its value handle, a value to its
	// declaration handle, a descriptor to its characteristic value handle.
	Owner uint16

	// EndGroup is the last handle of a service group; for other attributes it equals Handle.
	EndGroup uint16
}

// Service is a service group as reported by Database.Services.
type Service struct {
	Handle    uint16
	EndHandle uint16
	UUID      ble.UUID
	Primary   bool
}
