// Package bledb resolves Bluetooth SIG assigned UUIDs to their names.
//
// UUID strings are accepted in any common spelling (upper or lower case, with or without
// dashes, braces or a 0x prefix) and normalised with NormalizeUUID before lookup.
package bledb

import (
	"strings"

	"github.com/go-ble/ble"
)

// sigBaseSuffix is the tail of the Bluetooth Base UUID 0000xxxx-0000-1000-8000-00805f9b34fb.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to lowercase hex without separators.
// UUIDs built on the Bluetooth Base UUID collapse to their 16-bit short form.
// It returns "" when the input is not 16, 32 or 128 bits of hex.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.Trim(s, "{}")
	s = strings.ReplaceAll(s, "-", "")

	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return ""
		}
	}

	switch len(s) {
	case 4:
		return s
	case 8:
		if strings.HasPrefix(s, "0000") {
			return s[4:]
		}
		return s
	case 32:
		if strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
			return s[4:8]
		}
		return s
	}
	return ""
}

// NormalizeUUIDs normalises every element of uuids.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, NormalizeUUID(u))
	}
	return out
}

// LookupService returns the name of a SIG service, or "" when unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the name of a SIG characteristic, or "" when unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the name of a SIG descriptor, or "" when unknown.
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}

// Lookup searches declarations, services, characteristics and descriptors in that order.
func Lookup(uuid string) string {
	key := NormalizeUUID(uuid)
	for _, table := range []map[string]string{declarations, services, characteristics, descriptors} {
		if name, ok := table[key]; ok {
			return name
		}
	}
	return ""
}

// Name resolves a go-ble UUID, falling back to go-ble's own table.
func Name(u ble.UUID) string {
	if name := Lookup(u.String()); name != "" {
		return name
	}
	return ble.Name(u)
}
