package gatt

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/go-ble/ble"

	"github.com/srg/gattsrv/pkg/att"
)

// Database is an attribute arena indexed by handle-1. The attribute structure is fixed at
// registration and shared between clones; each clone owns its values.
//
// Handles coming from the peer are never trusted: every lookup goes through index, so
// handle 0 and handles past the end resolve to Invalid Handle instead of panicking.
type Database struct {
	attrs []Attribute

	mu     sync.RWMutex
	values [][]byte
}

// PreparedWrite is one queued part of a long or reliable write.
type PreparedWrite struct {
	Handle uint16
	Offset uint16
	Value  []byte
}

// Clone returns a database sharing the structure with its own copy of every value.
func (db *Database) Clone() *Database {
	db.mu.RLock()
	defer db.mu.RUnlock()

	values := make([][]byte, len(db.values))
	for i, v := range db.values {
		values[i] = cloneBytes(v)
	}
	return &Database{attrs: db.attrs, values: values}
}

// Len returns the number of attributes, which is also the highest allocated handle.
func (db *Database) Len() int {
	return len(db.attrs)
}

// At returns the attribute stored at handle h.
func (db *Database) At(h uint16) (Attribute, bool) {
	i, ok := db.index(h)
	if !ok {
		return Attribute{}, false
	}
	return db.attrs[i], true
}

// Attributes returns every attribute in handle order.
func (db *Database) Attributes() []Attribute {
	return append([]Attribute(nil), db.attrs...)
}

// Services returns the service groups in handle order.
func (db *Database) Services() []Service {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var services []Service
	for i := range db.attrs {
		a := &db.attrs[i]
		if !a.Kind.IsService() {
			continue
		}
		services = append(services, Service{
			Handle:    a.Handle,
			EndHandle: a.EndGroup,
			UUID:      ble.UUID(cloneBytes(db.values[i])),
			Primary:   a.Kind == KindPrimaryService,
		})
	}
	return services
}

// Value returns a copy of the value at h without any permission check.
func (db *Database) Value(h uint16) ([]byte, bool) {
	i, ok := db.index(h)
	if !ok {
		return nil, false
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return cloneBytes(db.values[i]), true
}

// SetValue replaces the value at h on behalf of the application, bypassing peer permissions.
func (db *Database) SetValue(h uint16, v []byte) error {
	i, ok := db.index(h)
	if !ok {
		return att.NewError(att.ErrInvalidHandle, h)
	}
	if len(v) > att.MaxValueLength {
		return ErrValueTooLong
	}
	db.mu.Lock()
	db.values[i] = cloneBytes(v)
	db.mu.Unlock()
	return nil
}

// Read serves a Read Request: at most limit octets from the start of the value.
func (db *Database) Read(h uint16, limit int) ([]byte, error) {
	return db.read(h, 0, limit)
}

// ReadBlob serves a Read Blob Request: at most limit octets starting at offset.
func (db *Database) ReadBlob(h, offset uint16, limit int) ([]byte, error) {
	return db.read(h, int(offset), limit)
}

func (db *Database) read(h uint16, offset, limit int) ([]byte, error) {
	i, err := db.readable(h)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	v := db.values[i]
	if offset > len(v) {
		return nil, att.NewError(att.ErrInvalidOffset, h)
	}
	return cloneBytes(truncate(v[offset:], limit)), nil
}

// ReadMultiple concatenates the values of handles, stopping once limit octets are filled.
// The first handle that cannot be read fails the whole request.
func (db *Database) ReadMultiple(handles []uint16, limit int) ([]byte, error) {
	var out []byte
	for _, h := range handles {
		v, err := db.Read(h, limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
	}
	return out, nil
}

// Write serves Write Requests and Write Commands: the value is replaced as a whole.
func (db *Database) Write(h uint16, v []byte) error {
	i, err := db.writable(h)
	if err != nil {
		return err
	}
	if err := db.validate(&db.attrs[i], v); err != nil {
		return err
	}

	db.mu.Lock()
	db.values[i] = cloneBytes(v)
	db.mu.Unlock()
	return nil
}

// CheckWrite reports whether the peer may write h at all.
func (db *Database) CheckWrite(h uint16) error {
	_, err := db.writable(h)
	return err
}

// ExecuteWrites applies queued writes in order. Every write is validated before any value
// changes, so a failure leaves the database untouched. It returns the written handles in the
// order they were first touched.
func (db *Database) ExecuteWrites(writes []PreparedWrite) ([]uint16, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	staged := make(map[uint16][]byte, len(writes))
	var order []uint16
	for _, w := range writes {
		i, err := db.writable(w.Handle)
		if err != nil {
			return nil, err
		}
		cur, ok := staged[w.Handle]
		if !ok {
			cur = db.values[i]
			order = append(order, w.Handle)
		}
		if int(w.Offset) > len(cur) {
			return nil, att.NewError(att.ErrInvalidOffset, w.Handle)
		}
		next := append(cloneBytes(cur[:w.Offset]), w.Value...)
		if len(next) > att.MaxValueLength {
			return nil, att.NewError(att.ErrInvalidAttributeValueLength, w.Handle)
		}
		staged[w.Handle] = next
	}

	for _, h := range order {
		if err := db.validate(&db.attrs[h-1], staged[h]); err != nil {
			return nil, err
		}
	}
	for _, h := range order {
		db.values[h-1] = staged[h]
	}
	return order, nil
}

// ReadByGroupType lists service groups of type typ within [start, end]. Entries share one
// length: the batch stops at the first service whose UUID width differs, or when limit octets
// are used.
func (db *Database) ReadByGroupType(start, end uint16, typ ble.UUID, limit int) ([]att.GroupValue, error) {
	lo, hi, err := db.span(start, end)
	if err != nil {
		return nil, err
	}
	if !sameUUID(typ, PrimaryServiceUUID) && !sameUUID(typ, SecondaryServiceUUID) {
		return nil, att.NewError(att.ErrUnsupportedGroupType, start)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		out  []att.GroupValue
		size int
	)
	for i := lo; i < hi; i++ {
		a := &db.attrs[i]
		if !a.Kind.IsService() || !sameUUID(a.Type, typ) {
			continue
		}
		v := db.values[i]
		n := 4 + len(v)
		if size == 0 {
			size = n
		} else if n != size {
			break
		}
		if (len(out)+1)*size > limit {
			break
		}
		out = append(out, att.GroupValue{Handle: a.Handle, EndGroup: a.EndGroup, Value: cloneBytes(v)})
	}
	if len(out) == 0 {
		return nil, att.NewError(att.ErrAttributeNotFound, start)
	}
	return out, nil
}

// ReadByType lists readable attributes of type typ within [start, end], such as
// characteristic declarations. An unreadable first match fails the request; a later one ends
// the batch.
func (db *Database) ReadByType(start, end uint16, typ ble.UUID, limit int) ([]att.HandleValue, error) {
	lo, hi, err := db.span(start, end)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		out  []att.HandleValue
		size int
	)
	// An entry is handle + value and its length must fit the one-octet length field.
	maxValue := min(limit-2, 0xFF-2)
	for i := lo; i < hi; i++ {
		a := &db.attrs[i]
		if !sameUUID(a.Type, typ) {
			continue
		}
		if a.Perm&PermRead == 0 {
			if len(out) == 0 {
				return nil, att.NewError(att.ErrReadNotPermitted, a.Handle)
			}
			break
		}
		v := truncate(db.values[i], maxValue)
		n := 2 + len(v)
		if size == 0 {
			size = n
		} else if n != size {
			break
		}
		if (len(out)+1)*size > limit {
			break
		}
		out = append(out, att.HandleValue{Handle: a.Handle, Value: cloneBytes(v)})
	}
	if len(out) == 0 {
		return nil, att.NewError(att.ErrAttributeNotFound, start)
	}
	return out, nil
}

// FindInformation lists handle/type pairs within [start, end]; all entries share the UUID
// width of the first one.
func (db *Database) FindInformation(start, end uint16, limit int) ([]att.HandleUUID, error) {
	lo, hi, err := db.span(start, end)
	if err != nil {
		return nil, err
	}

	var (
		out   []att.HandleUUID
		width int
	)
	for i := lo; i < hi; i++ {
		a := &db.attrs[i]
		if width == 0 {
			width = a.Type.Len()
		} else if a.Type.Len() != width {
			break
		}
		if (len(out)+1)*(2+width) > limit {
			break
		}
		out = append(out, att.HandleUUID{Handle: a.Handle, Type: a.Type})
	}
	if len(out) == 0 {
		return nil, att.NewError(att.ErrAttributeNotFound, start)
	}
	return out, nil
}

// FindByTypeValue lists attributes of type typ whose value equals value, with the end of the
// group each one opens.
func (db *Database) FindByTypeValue(start, end uint16, typ ble.UUID, value []byte, limit int) ([]att.HandleRange, error) {
	lo, hi, err := db.span(start, end)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []att.HandleRange
	for i := lo; i < hi; i++ {
		a := &db.attrs[i]
		if !sameUUID(a.Type, typ) || !bytes.Equal(db.values[i], value) {
			continue
		}
		if (len(out)+1)*4 > limit {
			break
		}
		out = append(out, att.HandleRange{Found: a.Handle, GroupEnd: a.EndGroup})
	}
	if len(out) == 0 {
		return nil, att.NewError(att.ErrAttributeNotFound, start)
	}
	return out, nil
}

// span maps a peer supplied handle range onto arena indexes [lo, hi).
func (db *Database) span(start, end uint16) (int, int, error) {
	if start == 0 || start > end {
		return 0, 0, att.NewError(att.ErrInvalidHandle, start)
	}
	return int(start) - 1, min(int(end), len(db.attrs)), nil
}

func (db *Database) index(h uint16) (int, bool) {
	if h == 0 || int(h) > len(db.attrs) {
		return 0, false
	}
	return int(h) - 1, true
}

func (db *Database) readable(h uint16) (int, error) {
	i, ok := db.index(h)
	if !ok {
		return 0, att.NewError(att.ErrInvalidHandle, h)
	}
	if db.attrs[i].Perm&PermRead == 0 {
		return 0, att.NewError(att.ErrReadNotPermitted, h)
	}
	return i, nil
}

func (db *Database) writable(h uint16) (int, error) {
	i, ok := db.index(h)
	if !ok {
		return 0, att.NewError(att.ErrInvalidHandle, h)
	}
	if db.attrs[i].Perm&PermWrite == 0 {
		return 0, att.NewError(att.ErrWriteNotPermitted, h)
	}
	return i, nil
}

// validate applies the per-kind value rules to a peer write.
func (db *Database) validate(a *Attribute, v []byte) error {
	if len(v) > att.MaxValueLength {
		return att.NewError(att.ErrInvalidAttributeValueLength, a.Handle)
	}
	switch a.Kind {
	case KindCCCD:
		if len(v) != 2 {
			return att.NewError(att.ErrInvalidAttributeValueLength, a.Handle)
		}
		cfg := binary.LittleEndian.Uint16(v)
		if cfg&^cccdMask != 0 ||
			cfg&cccdNotify != 0 && a.Props&PropNotify == 0 ||
			cfg&cccdIndicate != 0 && a.Props&PropIndicate == 0 {
			return att.NewError(att.ErrCCCDImproperlyConfigured, a.Handle)
		}
	case KindSCCD:
		if len(v) != 2 {
			return att.NewError(att.ErrInvalidAttributeValueLength, a.Handle)
		}
	}
	return nil
}

// Client Characteristic Configuration bits.
const (
	cccdNotify   uint16 = 0x0001
	cccdIndicate uint16 = 0x0002
	cccdMask            = cccdNotify | cccdIndicate
)

func truncate(b []byte, n int) []byte {
	if n < 0 {
		n = 0
	}
	if len(b) > n {
		return b[:n]
	}
	return b
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
