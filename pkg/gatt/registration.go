package gatt

import (
	"encoding/binary"
	"math"

	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattsrv/pkg/att"
)

// Registration builds an attribute database in declaration order. Handles are allocated
// contiguously from 1, so the same sequence of calls always yields the same handles.
//
// T is the application's token type; tokens address characteristic values in
// Outgoing.Notify and Outgoing.Indicate and tag write events.
type Registration[T comparable] struct {
	attrs  []Attribute
	values [][]byte
	tokens *orderedmap.OrderedMap[T, uint16]
	owners map[uint16]T

	// service is the arena index of the open service declaration, value the index of the
	// last characteristic value; -1 when none is open.
	service int
	value   int

	db    *Database
	built *Tokens[T]
}

// NewRegistration returns an empty registration.
func NewRegistration[T comparable]() *Registration[T] {
	return &Registration[T]{
		tokens:  orderedmap.New[T, uint16](),
		owners:  make(map[uint16]T),
		service: -1,
		value:   -1,
	}
}

// AddPrimaryService closes the open service and starts a primary service group.
func (r *Registration[T]) AddPrimaryService(uuid ble.UUID) error {
	return r.addService(uuid, KindPrimaryService, PrimaryServiceUUID)
}

// AddSecondaryService closes the open service and starts a secondary service group.
func (r *Registration[T]) AddSecondaryService(uuid ble.UUID) error {
	return r.addService(uuid, KindSecondaryService, SecondaryServiceUUID)
}

// AddCharacteristic appends a characteristic declaration and its value to the open service,
// followed by the descriptors its properties require.
func (r *Registration[T]) AddCharacteristic(uuid ble.UUID, value []byte, props Property) error {
	_, err := r.addCharacteristic(uuid, value, props)
	return err
}

// AddCharacteristicWithToken is AddCharacteristic that also binds token to the value handle.
// A token can be bound only once.
func (r *Registration[T]) AddCharacteristicWithToken(token T, uuid ble.UUID, value []byte, props Property) error {
	if r.db != nil {
		return ErrRegistrationFinished
	}
	if _, dup := r.tokens.Get(token); dup {
		return &TokenError[T]{Token: token, Err: ErrDuplicateToken}
	}
	h, err := r.addCharacteristic(uuid, value, props)
	if err != nil {
		return err
	}
	r.tokens.Set(token, h)
	r.owners[h] = token
	return nil
}

// AddDescriptor appends a descriptor to the last characteristic. Descriptors are always
// readable; writable also lets the peer write them.
func (r *Registration[T]) AddDescriptor(uuid ble.UUID, value []byte, writable bool) error {
	if r.db != nil {
		return ErrRegistrationFinished
	}
	if r.value < 0 {
		return ErrNoCharacteristic
	}
	if err := checkUUID(uuid); err != nil {
		return err
	}
	if len(value) > att.MaxValueLength {
		return ErrValueTooLong
	}
	perm := PermRead
	if writable {
		perm |= PermWrite
	}
	_, err := r.append(Attribute{
		Type:  uuid,
		Kind:  KindDescriptor,
		Perm:  perm,
		Owner: r.attrs[r.value].Handle,
	}, value)
	return err
}

// Build finishes the registration. Later calls return the same database and tokens, and
// every Add method fails with ErrRegistrationFinished afterwards.
func (r *Registration[T]) Build() (*Database, *Tokens[T]) {
	if r.db == nil {
		r.db = &Database{attrs: r.attrs, values: r.values}
		r.built = &Tokens[T]{handles: r.tokens, owners: r.owners}
	}
	return r.db, r.built
}

func (r *Registration[T]) addService(uuid ble.UUID, kind Kind, typ ble.UUID) error {
	if r.db != nil {
		return ErrRegistrationFinished
	}
	if err := checkUUID(uuid); err != nil {
		return err
	}
	h, err := r.append(Attribute{Type: typ, Kind: kind, Perm: PermRead}, uuid)
	if err != nil {
		return err
	}
	r.service = int(h) - 1
	r.value = -1
	return nil
}

func (r *Registration[T]) addCharacteristic(uuid ble.UUID, value []byte, props Property) (uint16, error) {
	if r.db != nil {
		return 0, ErrRegistrationFinished
	}
	if r.service < 0 {
		return 0, ErrNoService
	}
	if err := checkUUID(uuid); err != nil {
		return 0, err
	}
	if len(value) > att.MaxValueLength {
		return 0, ErrValueTooLong
	}

	// Reserve every handle up front so a characteristic is never left half registered.
	need := 2
	if props.extended() != 0 {
		need++
	}
	if props&(PropNotify|PropIndicate) != 0 {
		need++
	}
	if props&PropBroadcast != 0 {
		need++
	}
	if len(r.attrs)+need > math.MaxUint16 {
		return 0, ErrHandlesExhausted
	}

	declHandle := uint16(len(r.attrs) + 1)
	valueHandle := declHandle + 1

	decl := make([]byte, 3, 3+uuid.Len())
	decl[0] = props.declaration()
	binary.LittleEndian.PutUint16(decl[1:], valueHandle)
	decl = append(decl, uuid...)

	r.mustAppend(Attribute{Type: CharacteristicUUID, Kind: KindCharacteristic, Perm: PermRead, Props: props, Owner: valueHandle}, decl)
	r.mustAppend(Attribute{Type: uuid, Kind: KindValue, Perm: props.permission(), Props: props, Owner: declHandle}, value)

	if ext := props.extended(); ext != 0 {
		v := binary.LittleEndian.AppendUint16(nil, ext)
		r.mustAppend(Attribute{Type: ExtendedPropertiesUUID, Kind: KindExtendedProperties, Perm: PermRead, Props: props, Owner: valueHandle}, v)
	}
	if props&(PropNotify|PropIndicate) != 0 {
		r.mustAppend(Attribute{Type: ClientCharacteristicConfigUUID, Kind: KindCCCD, Perm: PermRead | PermWrite, Props: props, Owner: valueHandle}, []byte{0, 0})
	}
	if props&PropBroadcast != 0 {
		r.mustAppend(Attribute{Type: ServerCharacteristicConfigUUID, Kind: KindSCCD, Perm: PermRead | PermWrite, Props: props, Owner: valueHandle}, []byte{0, 0})
	}

	r.value = int(valueHandle) - 1
	return valueHandle, nil
}

// append allocates the next handle. Non-service attributes extend the open service group.
func (r *Registration[T]) append(a Attribute, value []byte) (uint16, error) {
	if len(r.attrs) >= math.MaxUint16 {
		return 0, ErrHandlesExhausted
	}
	h := uint16(len(r.attrs) + 1)
	a.Handle = h
	a.EndGroup = h
	r.attrs = append(r.attrs, a)
	r.values = append(r.values, cloneBytes(value))
	if r.service >= 0 && !a.Kind.IsService() {
		r.attrs[r.service].EndGroup = h
	}
	return h, nil
}

// mustAppend is append for handles that were reserved in advance.
func (r *Registration[T]) mustAppend(a Attribute, value []byte) {
	if _, err := r.append(a, value); err != nil {
		panic(err)
	}
}

func checkUUID(u ble.UUID) error {
	if n := u.Len(); n != 2 && n != 16 {
		return ErrInvalidUUID
	}
	return nil
}
