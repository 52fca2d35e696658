package gatt

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Property is a characteristic property bit set. The low octet is the properties field of the
// characteristic declaration; the high octet carries the extended properties.
type Property uint16

const (
	PropBroadcast                 = Property(ble.CharBroadcast)
	PropRead                      = Property(ble.CharRead)
	PropWriteWithoutResponse      = Property(ble.CharWriteNR)
	PropWrite                     = Property(ble.CharWrite)
	PropNotify                    = Property(ble.CharNotify)
	PropIndicate                  = Property(ble.CharIndicate)
	PropAuthenticatedSignedWrites = Property(ble.CharSignedWrite)
	PropExtendedProperties        = Property(ble.CharExtended)

	PropReliableWrite       Property = 0x0100
	PropWritableAuxiliaries Property = 0x0200
)

var propertyNames = []struct {
	prop Property
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "signed-write"},
	{PropExtendedProperties, "extended"},
	{PropReliableWrite, "reliable-write"},
	{PropWritableAuxiliaries, "writable-auxiliaries"},
}

// propertyAliases accepts the spellings used by other tools.
var propertyAliases = map[string]Property{
	"writenr":                PropWriteWithoutResponse,
	"write_without_response": PropWriteWithoutResponse,
	"writewithoutresponse":   PropWriteWithoutResponse,
	"signed_write":           PropAuthenticatedSignedWrites,
	"reliable_write":         PropReliableWrite,
	"writable_auxiliaries":   PropWritableAuxiliaries,
}

func (p Property) String() string {
	var names []string
	for _, pn := range propertyNames {
		if p&pn.prop != 0 {
			names = append(names, pn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Has reports whether all bits of q are set.
func (p Property) Has(q Property) bool {
	return p&q == q
}

// ParseProperties parses a comma or pipe separated property list such as "read,notify".
func ParseProperties(s string) (Property, error) {
	var p Property
	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == ' ' }) {
		q, err := parseProperty(field)
		if err != nil {
			return 0, err
		}
		p |= q
	}
	return p, nil
}

func parseProperty(name string) (Property, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, pn := range propertyNames {
		if pn.name == name {
			return pn.prop, nil
		}
	}
	if p, ok := propertyAliases[name]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("unknown characteristic property %q", name)
}

// declaration is the properties octet of the characteristic declaration.
// EXTENDED is set exactly when an extended property is present, since it announces the
// Characteristic Extended Properties descriptor.
func (p Property) declaration() byte {
	b := byte(p&0xFF) &^ byte(PropExtendedProperties)
	if p.extended() != 0 {
		b |= byte(PropExtendedProperties)
	}
	return b
}

// extended is the value of the Characteristic Extended Properties descriptor.
func (p Property) extended() uint16 {
	return uint16(p>>8) & 0x03
}

// permission derives the value attribute permissions. NOTIFY and INDICATE grant neither.
func (p Property) permission() Permission {
	var perm Permission
	if p&PropRead != 0 {
		perm |= PermRead
	}
	if p&(PropWrite|PropWriteWithoutResponse|PropReliableWrite) != 0 {
		perm |= PermWrite
	}
	return perm
}
