// Package att implements the Attribute Protocol PDU codec: opcodes, error codes and the
// mapping between PDUs and their little-endian wire encoding bounded by the connection MTU.
package att

import "fmt"

// Encode serialises p. It fails with ErrExceedsMTU rather than producing a PDU longer than mtu;
// callers are expected to truncate values beforehand.
func Encode(p PDU, mtu int) ([]byte, error) {
	n := p.size()
	if n > mtu {
		return nil, fmt.Errorf("%w: %s needs %d octets, mtu is %d", ErrExceedsMTU, p.Opcode(), n, mtu)
	}
	b := make([]byte, n)
	b[0] = byte(p.Opcode())
	if err := p.marshal(b[1:]); err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Opcode(), err)
	}
	return b, nil
}

// Decode parses one PDU. Failures are reported as *DecodeError wrapping ErrMalformedPDU or
// ErrUnknownOpcode.
func Decode(b []byte) (PDU, error) {
	if len(b) == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("%w: empty", ErrMalformedPDU)}
	}
	op := Opcode(b[0])
	p := newPDU(op)
	if p == nil {
		return nil, &DecodeError{Opcode: op, Err: ErrUnknownOpcode}
	}
	if err := p.unmarshal(b[1:]); err != nil {
		return nil, &DecodeError{Opcode: op, Err: err}
	}
	return p, nil
}

func newPDU(op Opcode) PDU {
	switch op {
	case OpErrorResponse:
		return &ErrorResponse{}
	case OpExchangeMTURequest:
		return &ExchangeMTURequest{}
	case OpExchangeMTUResponse:
		return &ExchangeMTUResponse{}
	case OpFindInformationRequest:
		return &FindInformationRequest{}
	case OpFindInformationResponse:
		return &FindInformationResponse{}
	case OpFindByTypeValueRequest:
		return &FindByTypeValueRequest{}
	case OpFindByTypeValueResponse:
		return &FindByTypeValueResponse{}
	case OpReadByTypeRequest:
		return &ReadByTypeRequest{}
	case OpReadByTypeResponse:
		return &ReadByTypeResponse{}
	case OpReadRequest:
		return &ReadRequest{}
	case OpReadResponse:
		return &ReadResponse{}
	case OpReadBlobRequest:
		return &ReadBlobRequest{}
	case OpReadBlobResponse:
		return &ReadBlobResponse{}
	case OpReadMultipleRequest:
		return &ReadMultipleRequest{}
	case OpReadMultipleResponse:
		return &ReadMultipleResponse{}
	case OpReadByGroupTypeRequest:
		return &ReadByGroupTypeRequest{}
	case OpReadByGroupTypeResponse:
		return &ReadByGroupTypeResponse{}
	case OpWriteRequest:
		return &WriteRequest{}
	case OpWriteResponse:
		return &WriteResponse{}
	case OpWriteCommand:
		return &WriteCommand{}
	case OpSignedWriteCommand:
		return &SignedWriteCommand{}
	case OpPrepareWriteRequest:
		return &PrepareWriteRequest{}
	case OpPrepareWriteResponse:
		return &PrepareWriteResponse{}
	case OpExecuteWriteRequest:
		return &ExecuteWriteRequest{}
	case OpExecuteWriteResponse:
		return &ExecuteWriteResponse{}
	case OpHandleValueNotification:
		return &HandleValueNotification{}
	case OpHandleValueIndication:
		return &HandleValueIndication{}
	case OpHandleValueConfirmation:
		return &HandleValueConfirmation{}
	}
	return nil
}
