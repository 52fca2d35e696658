package att

import (
	"encoding/binary"
	"fmt"

	"github.com/go-ble/ble"
)

// PDU is one ATT protocol data unit. The set is closed: every implementation lives in this
// package and Decode dispatches on the opcode to exactly one of them.
type PDU interface {
	Opcode() Opcode

	// size is the encoded length including the opcode octet.
	size() int
	// marshal writes the parameters (everything after the opcode) into b, len(b) == size()-1.
	marshal(b []byte) error
	// unmarshal parses the parameters (everything after the opcode).
	unmarshal(b []byte) error
}

var le = binary.LittleEndian

// HandleUUID is one Find Information Response entry.
type HandleUUID struct {
	Handle uint16
	Type   ble.UUID
}

// HandleRange is one Find By Type Value Response entry.
type HandleRange struct {
	Found    uint16
	GroupEnd uint16
}

// HandleValue is one Read By Type Response entry.
type HandleValue struct {
	Handle uint16
	Value  []byte
}

// GroupValue is one Read By Group Type Response entry.
type GroupValue struct {
	Handle   uint16
	EndGroup uint16
	Value    []byte
}

// ExecuteFlag is the flags parameter of an Execute Write Request.
type ExecuteFlag uint8

const (
	ExecuteCancel ExecuteFlag = 0x00
	ExecuteWrite  ExecuteFlag = 0x01
)

// Find Information Response formats.
const (
	FormatUUID16  uint8 = 0x01
	FormatUUID128 uint8 = 0x02
)

type ErrorResponse struct {
	RequestOpcode Opcode
	Handle        uint16
	Code          ErrorCode
}

func (*ErrorResponse) Opcode() Opcode { return OpErrorResponse }
func (*ErrorResponse) size() int      { return 5 }

func (p *ErrorResponse) marshal(b []byte) error {
	b[0] = byte(p.RequestOpcode)
	le.PutUint16(b[1:], p.Handle)
	b[3] = byte(p.Code)
	return nil
}

func (p *ErrorResponse) unmarshal(b []byte) error {
	if len(b) != 4 {
		return ErrMalformedPDU
	}
	p.RequestOpcode = Opcode(b[0])
	p.Handle = le.Uint16(b[1:])
	p.Code = ErrorCode(b[3])
	return nil
}

type ExchangeMTURequest struct {
	ClientRxMTU uint16
}

func (*ExchangeMTURequest) Opcode() Opcode { return OpExchangeMTURequest }
func (*ExchangeMTURequest) size() int      { return 3 }

func (p *ExchangeMTURequest) marshal(b []byte) error {
	le.PutUint16(b, p.ClientRxMTU)
	return nil
}

func (p *ExchangeMTURequest) unmarshal(b []byte) error {
	if len(b) != 2 {
		return ErrMalformedPDU
	}
	p.ClientRxMTU = le.Uint16(b)
	return nil
}

type ExchangeMTUResponse struct {
	ServerRxMTU uint16
}

func (*ExchangeMTUResponse) Opcode() Opcode { return OpExchangeMTUResponse }
func (*ExchangeMTUResponse) size() int      { return 3 }

func (p *ExchangeMTUResponse) marshal(b []byte) error {
	le.PutUint16(b, p.ServerRxMTU)
	return nil
}

func (p *ExchangeMTUResponse) unmarshal(b []byte) error {
	if len(b) != 2 {
		return ErrMalformedPDU
	}
	p.ServerRxMTU = le.Uint16(b)
	return nil
}

type FindInformationRequest struct {
	StartHandle uint16
	EndHandle   uint16
}

func (*FindInformationRequest) Opcode() Opcode { return OpFindInformationRequest }
func (*FindInformationRequest) size() int      { return 5 }

func (p *FindInformationRequest) marshal(b []byte) error {
	putRange(b, p.StartHandle, p.EndHandle)
	return nil
}

func (p *FindInformationRequest) unmarshal(b []byte) error {
	if len(b) != 4 {
		return ErrMalformedPDU
	}
	p.StartHandle, p.EndHandle = getRange(b)
	return nil
}

// FindInformationResponse lists handle/type pairs. All entries must share one UUID width,
// which selects the format octet.
type FindInformationResponse struct {
	Entries []HandleUUID
}

func (*FindInformationResponse) Opcode() Opcode { return OpFindInformationResponse }

func (p *FindInformationResponse) size() int {
	if len(p.Entries) == 0 {
		return 2
	}
	return 2 + len(p.Entries)*(2+p.Entries[0].Type.Len())
}

func (p *FindInformationResponse) marshal(b []byte) error {
	if len(p.Entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrMalformedPDU)
	}
	width := p.Entries[0].Type.Len()
	switch width {
	case 2:
		b[0] = FormatUUID16
	case 16:
		b[0] = FormatUUID128
	default:
		return fmt.Errorf("%w: uuid width %d", ErrMalformedPDU, width)
	}
	off := 1
	for _, e := range p.Entries {
		if e.Type.Len() != width {
			return fmt.Errorf("%w: mixed uuid widths", ErrMalformedPDU)
		}
		le.PutUint16(b[off:], e.Handle)
		copy(b[off+2:], e.Type)
		off += 2 + width
	}
	return nil
}

func (p *FindInformationResponse) unmarshal(b []byte) error {
	if len(b) < 1 {
		return ErrMalformedPDU
	}
	var width int
	switch b[0] {
	case FormatUUID16:
		width = 2
	case FormatUUID128:
		width = 16
	default:
		return ErrMalformedPDU
	}
	b = b[1:]
	if len(b) == 0 || len(b)%(2+width) != 0 {
		return ErrMalformedPDU
	}
	p.Entries = nil
	for ; len(b) > 0; b = b[2+width:] {
		p.Entries = append(p.Entries, HandleUUID{
			Handle: le.Uint16(b),
			Type:   ble.UUID(clone(b[2 : 2+width])),
		})
	}
	return nil
}

// FindByTypeValueRequest searches for attributes of a 16-bit type holding a given value.
type FindByTypeValueRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        ble.UUID
	Value       []byte
}

func (*FindByTypeValueRequest) Opcode() Opcode { return OpFindByTypeValueRequest }
func (p *FindByTypeValueRequest) size() int   { return 7 + len(p.Value) }

func (p *FindByTypeValueRequest) marshal(b []byte) error {
	if p.Type.Len() != 2 {
		return fmt.Errorf("%w: attribute type must be a 16-bit UUID", ErrMalformedPDU)
	}
	putRange(b, p.StartHandle, p.EndHandle)
	copy(b[4:], p.Type)
	copy(b[6:], p.Value)
	return nil
}

func (p *FindByTypeValueRequest) unmarshal(b []byte) error {
	if len(b) < 6 {
		return ErrMalformedPDU
	}
	p.StartHandle, p.EndHandle = getRange(b)
	p.Type = ble.UUID(clone(b[4:6]))
	p.Value = clone(b[6:])
	return nil
}

type FindByTypeValueResponse struct {
	Ranges []HandleRange
}

func (*FindByTypeValueResponse) Opcode() Opcode { return OpFindByTypeValueResponse }
func (p *FindByTypeValueResponse) size() int   { return 1 + 4*len(p.Ranges) }

func (p *FindByTypeValueResponse) marshal(b []byte) error {
	if len(p.Ranges) == 0 {
		return fmt.Errorf("%w: no entries", ErrMalformedPDU)
	}
	for i, r := range p.Ranges {
		putRange(b[4*i:], r.Found, r.GroupEnd)
	}
	return nil
}

func (p *FindByTypeValueResponse) unmarshal(b []byte) error {
	if len(b) == 0 || len(b)%4 != 0 {
		return ErrMalformedPDU
	}
	p.Ranges = make([]HandleRange, 0, len(b)/4)
	for ; len(b) > 0; b = b[4:] {
		found, end := getRange(b)
		p.Ranges = append(p.Ranges, HandleRange{Found: found, GroupEnd: end})
	}
	return nil
}

type ReadByTypeRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        ble.UUID
}

func (*ReadByTypeRequest) Opcode() Opcode { return OpReadByTypeRequest }
func (p *ReadByTypeRequest) size() int   { return 5 + p.Type.Len() }

func (p *ReadByTypeRequest) marshal(b []byte) error {
	return marshalTypedRange(b, p.StartHandle, p.EndHandle, p.Type)
}

func (p *ReadByTypeRequest) unmarshal(b []byte) error {
	var err error
	p.StartHandle, p.EndHandle, p.Type, err = unmarshalTypedRange(b)
	return err
}

// ReadByTypeResponse carries handle/value pairs of one common length.
type ReadByTypeResponse struct {
	Entries []HandleValue
}

func (*ReadByTypeResponse) Opcode() Opcode { return OpReadByTypeResponse }

func (p *ReadByTypeResponse) size() int {
	if len(p.Entries) == 0 {
		return 2
	}
	return 2 + len(p.Entries)*(2+len(p.Entries[0].Value))
}

func (p *ReadByTypeResponse) marshal(b []byte) error {
	if len(p.Entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrMalformedPDU)
	}
	n := 2 + len(p.Entries[0].Value)
	if n > 0xFF {
		return fmt.Errorf("%w: entry length %d", ErrMalformedPDU, n)
	}
	b[0] = byte(n)
	off := 1
	for _, e := range p.Entries {
		if 2+len(e.Value) != n {
			return fmt.Errorf("%w: mixed entry lengths", ErrMalformedPDU)
		}
		le.PutUint16(b[off:], e.Handle)
		copy(b[off+2:], e.Value)
		off += n
	}
	return nil
}

func (p *ReadByTypeResponse) unmarshal(b []byte) error {
	if len(b) < 1 {
		return ErrMalformedPDU
	}
	n := int(b[0])
	b = b[1:]
	if n < 2 || len(b) == 0 || len(b)%n != 0 {
		return ErrMalformedPDU
	}
	p.Entries = make([]HandleValue, 0, len(b)/n)
	for ; len(b) > 0; b = b[n:] {
		p.Entries = append(p.Entries, HandleValue{Handle: le.Uint16(b), Value: clone(b[2:n])})
	}
	return nil
}

type ReadRequest struct {
	Handle uint16
}

func (*ReadRequest) Opcode() Opcode { return OpReadRequest }
func (*ReadRequest) size() int      { return 3 }

func (p *ReadRequest) marshal(b []byte) error {
	le.PutUint16(b, p.Handle)
	return nil
}

func (p *ReadRequest) unmarshal(b []byte) error {
	if len(b) != 2 {
		return ErrMalformedPDU
	}
	p.Handle = le.Uint16(b)
	return nil
}

type ReadResponse struct {
	Value []byte
}

func (*ReadResponse) Opcode() Opcode            { return OpReadResponse }
func (p *ReadResponse) size() int               { return 1 + len(p.Value) }
func (p *ReadResponse) marshal(b []byte) error   { copy(b, p.Value); return nil }
func (p *ReadResponse) unmarshal(b []byte) error { p.Value = clone(b); return nil }

type ReadBlobRequest struct {
	Handle uint16
	Offset uint16
}

func (*ReadBlobRequest) Opcode() Opcode { return OpReadBlobRequest }
func (*ReadBlobRequest) size() int      { return 5 }

func (p *ReadBlobRequest) marshal(b []byte) error {
	putRange(b, p.Handle, p.Offset)
	return nil
}

func (p *ReadBlobRequest) unmarshal(b []byte) error {
	if len(b) != 4 {
		return ErrMalformedPDU
	}
	p.Handle, p.Offset = getRange(b)
	return nil
}

type ReadBlobResponse struct {
	Value []byte
}

func (*ReadBlobResponse) Opcode() Opcode            { return OpReadBlobResponse }
func (p *ReadBlobResponse) size() int               { return 1 + len(p.Value) }
func (p *ReadBlobResponse) marshal(b []byte) error   { copy(b, p.Value); return nil }
func (p *ReadBlobResponse) unmarshal(b []byte) error { p.Value = clone(b); return nil }

// ReadMultipleRequest names two or more handles whose values are returned concatenated.
type ReadMultipleRequest struct {
	Handles []uint16
}

func (*ReadMultipleRequest) Opcode() Opcode { return OpReadMultipleRequest }
func (p *ReadMultipleRequest) size() int   { return 1 + 2*len(p.Handles) }

func (p *ReadMultipleRequest) marshal(b []byte) error {
	if len(p.Handles) < 2 {
		return fmt.Errorf("%w: at least two handles required", ErrMalformedPDU)
	}
	for i, h := range p.Handles {
		le.PutUint16(b[2*i:], h)
	}
	return nil
}

func (p *ReadMultipleRequest) unmarshal(b []byte) error {
	if len(b) < 4 || len(b)%2 != 0 {
		return ErrMalformedPDU
	}
	p.Handles = make([]uint16, 0, len(b)/2)
	for ; len(b) > 0; b = b[2:] {
		p.Handles = append(p.Handles, le.Uint16(b))
	}
	return nil
}

type ReadMultipleResponse struct {
	Values []byte
}

func (*ReadMultipleResponse) Opcode() Opcode            { return OpReadMultipleResponse }
func (p *ReadMultipleResponse) size() int               { return 1 + len(p.Values) }
func (p *ReadMultipleResponse) marshal(b []byte) error   { copy(b, p.Values); return nil }
func (p *ReadMultipleResponse) unmarshal(b []byte) error { p.Values = clone(b); return nil }

type ReadByGroupTypeRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        ble.UUID
}

func (*ReadByGroupTypeRequest) Opcode() Opcode { return OpReadByGroupTypeRequest }
func (p *ReadByGroupTypeRequest) size() int   { return 5 + p.Type.Len() }

func (p *ReadByGroupTypeRequest) marshal(b []byte) error {
	return marshalTypedRange(b, p.StartHandle, p.EndHandle, p.Type)
}

func (p *ReadByGroupTypeRequest) unmarshal(b []byte) error {
	var err error
	p.StartHandle, p.EndHandle, p.Type, err = unmarshalTypedRange(b)
	return err
}

// ReadByGroupTypeResponse carries group entries of one common length.
type ReadByGroupTypeResponse struct {
	Entries []GroupValue
}

func (*ReadByGroupTypeResponse) Opcode() Opcode { return OpReadByGroupTypeResponse }

func (p *ReadByGroupTypeResponse) size() int {
	if len(p.Entries) == 0 {
		return 2
	}
	return 2 + len(p.Entries)*(4+len(p.Entries[0].Value))
}

func (p *ReadByGroupTypeResponse) marshal(b []byte) error {
	if len(p.Entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrMalformedPDU)
	}
	n := 4 + len(p.Entries[0].Value)
	if n > 0xFF {
		return fmt.Errorf("%w: entry length %d", ErrMalformedPDU, n)
	}
	b[0] = byte(n)
	off := 1
	for _, e := range p.Entries {
		if 4+len(e.Value) != n {
			return fmt.Errorf("%w: mixed entry lengths", ErrMalformedPDU)
		}
		putRange(b[off:], e.Handle, e.EndGroup)
		copy(b[off+4:], e.Value)
		off += n
	}
	return nil
}

func (p *ReadByGroupTypeResponse) unmarshal(b []byte) error {
	if len(b) < 1 {
		return ErrMalformedPDU
	}
	n := int(b[0])
	b = b[1:]
	if n < 4 || len(b) == 0 || len(b)%n != 0 {
		return ErrMalformedPDU
	}
	p.Entries = make([]GroupValue, 0, len(b)/n)
	for ; len(b) > 0; b = b[n:] {
		h, end := getRange(b)
		p.Entries = append(p.Entries, GroupValue{Handle: h, EndGroup: end, Value: clone(b[4:n])})
	}
	return nil
}

type WriteRequest struct {
	Handle uint16
	Value  []byte
}

func (*WriteRequest) Opcode() Opcode { return OpWriteRequest }
func (p *WriteRequest) size() int   { return 3 + len(p.Value) }

func (p *WriteRequest) marshal(b []byte) error {
	putHandleValue(b, p.Handle, p.Value)
	return nil
}

func (p *WriteRequest) unmarshal(b []byte) (err error) {
	p.Handle, p.Value, err = getHandleValue(b)
	return err
}

type WriteResponse struct{}

func (*WriteResponse) Opcode() Opcode { return OpWriteResponse }
func (*WriteResponse) size() int      { return 1 }
func (*WriteResponse) marshal([]byte) error {
	return nil
}

func (*WriteResponse) unmarshal(b []byte) error {
	return expectEmpty(b)
}

type WriteCommand struct {
	Handle uint16
	Value  []byte
}

func (*WriteCommand) Opcode() Opcode { return OpWriteCommand }
func (p *WriteCommand) size() int   { return 3 + len(p.Value) }

func (p *WriteCommand) marshal(b []byte) error {
	putHandleValue(b, p.Handle, p.Value)
	return nil
}

func (p *WriteCommand) unmarshal(b []byte) (err error) {
	p.Handle, p.Value, err = getHandleValue(b)
	return err
}

// SignedWriteCommand is a Write Command followed by a 12 octet authentication signature.
type SignedWriteCommand struct {
	Handle    uint16
	Value     []byte
	Signature [12]byte
}

func (*SignedWriteCommand) Opcode() Opcode { return OpSignedWriteCommand }
func (p *SignedWriteCommand) size() int   { return 15 + len(p.Value) }

func (p *SignedWriteCommand) marshal(b []byte) error {
	putHandleValue(b, p.Handle, p.Value)
	copy(b[2+len(p.Value):], p.Signature[:])
	return nil
}

func (p *SignedWriteCommand) unmarshal(b []byte) error {
	if len(b) < 14 {
		return ErrMalformedPDU
	}
	p.Handle = le.Uint16(b)
	p.Value = clone(b[2 : len(b)-12])
	copy(p.Signature[:], b[len(b)-12:])
	return nil
}

type PrepareWriteRequest struct {
	Handle uint16
	Offset uint16
	Value  []byte
}

func (*PrepareWriteRequest) Opcode() Opcode { return OpPrepareWriteRequest }
func (p *PrepareWriteRequest) size() int   { return 5 + len(p.Value) }

func (p *PrepareWriteRequest) marshal(b []byte) error {
	putRange(b, p.Handle, p.Offset)
	copy(b[4:], p.Value)
	return nil
}

func (p *PrepareWriteRequest) unmarshal(b []byte) error {
	if len(b) < 4 {
		return ErrMalformedPDU
	}
	p.Handle, p.Offset = getRange(b)
	p.Value = clone(b[4:])
	return nil
}

// PrepareWriteResponse echoes the request it acknowledges.
type PrepareWriteResponse struct {
	Handle uint16
	Offset uint16
	Value  []byte
}

func (*PrepareWriteResponse) Opcode() Opcode { return OpPrepareWriteResponse }
func (p *PrepareWriteResponse) size() int   { return 5 + len(p.Value) }

func (p *PrepareWriteResponse) marshal(b []byte) error {
	putRange(b, p.Handle, p.Offset)
	copy(b[4:], p.Value)
	return nil
}

func (p *PrepareWriteResponse) unmarshal(b []byte) error {
	if len(b) < 4 {
		return ErrMalformedPDU
	}
	p.Handle, p.Offset = getRange(b)
	p.Value = clone(b[4:])
	return nil
}

type ExecuteWriteRequest struct {
	Flags ExecuteFlag
}

func (*ExecuteWriteRequest) Opcode() Opcode { return OpExecuteWriteRequest }
func (*ExecuteWriteRequest) size() int      { return 2 }

func (p *ExecuteWriteRequest) marshal(b []byte) error {
	b[0] = byte(p.Flags)
	return nil
}

func (p *ExecuteWriteRequest) unmarshal(b []byte) error {
	if len(b) != 1 || ExecuteFlag(b[0]) > ExecuteWrite {
		return ErrMalformedPDU
	}
	p.Flags = ExecuteFlag(b[0])
	return nil
}

type ExecuteWriteResponse struct{}

func (*ExecuteWriteResponse) Opcode() Opcode { return OpExecuteWriteResponse }
func (*ExecuteWriteResponse) size() int      { return 1 }
func (*ExecuteWriteResponse) marshal([]byte) error {
	return nil
}

func (*ExecuteWriteResponse) unmarshal(b []byte) error {
	return expectEmpty(b)
}

type HandleValueNotification struct {
	Handle uint16
	Value  []byte
}

func (*HandleValueNotification) Opcode() Opcode { return OpHandleValueNotification }
func (p *HandleValueNotification) size() int   { return 3 + len(p.Value) }

func (p *HandleValueNotification) marshal(b []byte) error {
	putHandleValue(b, p.Handle, p.Value)
	return nil
}

func (p *HandleValueNotification) unmarshal(b []byte) (err error) {
	p.Handle, p.Value, err = getHandleValue(b)
	return err
}

type HandleValueIndication struct {
	Handle uint16
	Value  []byte
}

func (*HandleValueIndication) Opcode() Opcode { return OpHandleValueIndication }
func (p *HandleValueIndication) size() int   { return 3 + len(p.Value) }

func (p *HandleValueIndication) marshal(b []byte) error {
	putHandleValue(b, p.Handle, p.Value)
	return nil
}

func (p *HandleValueIndication) unmarshal(b []byte) (err error) {
	p.Handle, p.Value, err = getHandleValue(b)
	return err
}

type HandleValueConfirmation struct{}

func (*HandleValueConfirmation) Opcode() Opcode { return OpHandleValueConfirmation }
func (*HandleValueConfirmation) size() int      { return 1 }
func (*HandleValueConfirmation) marshal([]byte) error {
	return nil
}

func (*HandleValueConfirmation) unmarshal(b []byte) error {
	return expectEmpty(b)
}

func putRange(b []byte, a, c uint16) {
	le.PutUint16(b, a)
	le.PutUint16(b[2:], c)
}

func getRange(b []byte) (uint16, uint16) {
	return le.Uint16(b), le.Uint16(b[2:])
}

func putHandleValue(b []byte, h uint16, v []byte) {
	le.PutUint16(b, h)
	copy(b[2:], v)
}

func getHandleValue(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, nil, ErrMalformedPDU
	}
	return le.Uint16(b), clone(b[2:]), nil
}

func marshalTypedRange(b []byte, start, end uint16, typ ble.UUID) error {
	if n := typ.Len(); n != 2 && n != 16 {
		return fmt.Errorf("%w: uuid width %d", ErrMalformedPDU, n)
	}
	putRange(b, start, end)
	copy(b[4:], typ)
	return nil
}

func unmarshalTypedRange(b []byte) (uint16, uint16, ble.UUID, error) {
	if len(b) != 6 && len(b) != 20 {
		return 0, 0, nil, ErrMalformedPDU
	}
	start, end := getRange(b)
	return start, end, ble.UUID(clone(b[4:])), nil
}

func expectEmpty(b []byte) error {
	if len(b) != 0 {
		return ErrMalformedPDU
	}
	return nil
}

// clone copies b; an empty input yields nil so decoded PDUs compare equal to literals.
func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
