package gatt

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-ble/ble"

	"github.com/srg/gattsrv/internal/bledb"
)

// Dump writes the attribute table, one attribute per line:
//
//	0x0003  characteristic  read        2A01 Appearance props=read value=0x0004
func (db *Database) Dump(w io.Writer) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for i := range db.attrs {
		a := &db.attrs[i]
		if _, err := fmt.Fprintf(w, "0x%04X  %-19s %-11s %s\n", a.Handle, a.Kind, a.Perm, describe(a, db.values[i])); err != nil {
			return err
		}
	}
	return nil
}

func describe(a *Attribute, v []byte) string {
	switch a.Kind {
	case KindPrimaryService, KindSecondaryService:
		return fmt.Sprintf("%s end=0x%04X", label(ble.UUID(v)), a.EndGroup)
	case KindCharacteristic:
		if len(v) < 5 {
			return hexValue(v)
		}
		return fmt.Sprintf("%s props=%s value=0x%04X", label(ble.UUID(v[3:])), a.Props, binary.LittleEndian.Uint16(v[1:]))
	default:
		return fmt.Sprintf("%s = %s", label(a.Type), hexValue(v))
	}
}

// label renders a UUID in big-endian hex followed by its SIG name when known.
func label(u ble.UUID) string {
	s := fmt.Sprintf("%X", []byte(ble.Reverse(u)))
	if name := bledb.Name(u); name != "" {
		return s + " " + name
	}
	return s
}

func hexValue(v []byte) string {
	if len(v) == 0 {
		return "-"
	}
	return fmt.Sprintf("% X", v)
}
