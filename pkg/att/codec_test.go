package att

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customUUID = ble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pdu  PDU
		wire []byte
	}{
		{"error response", &ErrorResponse{RequestOpcode: OpReadRequest, Handle: 0x0003, Code: ErrReadNotPermitted},
			[]byte{0x01, 0x0A, 0x03, 0x00, 0x02}},
		{"exchange mtu request", &ExchangeMTURequest{ClientRxMTU: 50}, []byte{0x02, 0x32, 0x00}},
		{"exchange mtu response", &ExchangeMTUResponse{ServerRxMTU: 517}, []byte{0x03, 0x05, 0x02}},
		{"find information request", &FindInformationRequest{StartHandle: 1, EndHandle: 0xFFFF},
			[]byte{0x04, 0x01, 0x00, 0xFF, 0xFF}},
		{"find information response 16-bit", &FindInformationResponse{Entries: []HandleUUID{
			{Handle: 4, Type: ble.UUID16(0x2902)},
			{Handle: 5, Type: ble.UUID16(0x2901)},
		}}, []byte{0x05, 0x01, 0x04, 0x00, 0x02, 0x29, 0x05, 0x00, 0x01, 0x29}},
		{"find information response 128-bit", &FindInformationResponse{Entries: []HandleUUID{
			{Handle: 9, Type: customUUID},
		}}, nil},
		{"find by type value request", &FindByTypeValueRequest{StartHandle: 1, EndHandle: 0xFFFF,
			Type: ble.UUID16(0x2800), Value: []byte{0x0F, 0x18}},
			[]byte{0x06, 0x01, 0x00, 0xFF, 0xFF, 0x00, 0x28, 0x0F, 0x18}},
		{"find by type value response", &FindByTypeValueResponse{Ranges: []HandleRange{{Found: 1, GroupEnd: 5}}},
			[]byte{0x07, 0x01, 0x00, 0x05, 0x00}},
		{"read by type request", &ReadByTypeRequest{StartHandle: 1, EndHandle: 0xFFFF, Type: ble.UUID16(0x2803)},
			[]byte{0x08, 0x01, 0x00, 0xFF, 0xFF, 0x03, 0x28}},
		{"read by type request 128-bit", &ReadByTypeRequest{StartHandle: 1, EndHandle: 10, Type: customUUID}, nil},
		{"read by type response", &ReadByTypeResponse{Entries: []HandleValue{
			{Handle: 2, Value: []byte{0x08, 0x03, 0x00, 0x00, 0x2A}},
			{Handle: 4, Value: []byte{0x02, 0x05, 0x00, 0x01, 0x2A}},
		}}, nil},
		{"read request", &ReadRequest{Handle: 5}, []byte{0x0A, 0x05, 0x00}},
		{"read response", &ReadResponse{Value: []byte{0xC0, 0x03}}, []byte{0x0B, 0xC0, 0x03}},
		{"read response empty", &ReadResponse{}, []byte{0x0B}},
		{"read blob request", &ReadBlobRequest{Handle: 3, Offset: 22}, []byte{0x0C, 0x03, 0x00, 0x16, 0x00}},
		{"read blob response", &ReadBlobResponse{Value: []byte("tail")}, nil},
		{"read multiple request", &ReadMultipleRequest{Handles: []uint16{3, 5, 7}}, nil},
		{"read multiple response", &ReadMultipleResponse{Values: []byte{1, 2, 3}}, nil},
		{"read by group type request", &ReadByGroupTypeRequest{StartHandle: 1, EndHandle: 0xFFFF, Type: ble.UUID16(0x2800)},
			[]byte{0x10, 0x01, 0x00, 0xFF, 0xFF, 0x00, 0x28}},
		{"read by group type response", &ReadByGroupTypeResponse{Entries: []GroupValue{
			{Handle: 1, EndGroup: 5, Value: []byte{0x00, 0x18}},
			{Handle: 6, EndGroup: 9, Value: []byte{0x0F, 0x18}},
		}}, []byte{0x11, 0x06, 0x01, 0x00, 0x05, 0x00, 0x00, 0x18, 0x06, 0x00, 0x09, 0x00, 0x0F, 0x18}},
		{"write request", &WriteRequest{Handle: 4, Value: []byte{0x01, 0x00}}, []byte{0x12, 0x04, 0x00, 0x01, 0x00}},
		{"write response", &WriteResponse{}, []byte{0x13}},
		{"write command", &WriteCommand{Handle: 4, Value: []byte("hi")}, []byte{0x52, 0x04, 0x00, 'h', 'i'}},
		{"signed write command", &SignedWriteCommand{Handle: 4, Value: []byte{7},
			Signature: [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}, nil},
		{"prepare write request", &PrepareWriteRequest{Handle: 3, Offset: 18, Value: []byte("abc")}, nil},
		{"prepare write response", &PrepareWriteResponse{Handle: 3, Offset: 18, Value: []byte("abc")}, nil},
		{"execute write request", &ExecuteWriteRequest{Flags: ExecuteWrite}, []byte{0x18, 0x01}},
		{"execute write response", &ExecuteWriteResponse{}, []byte{0x19}},
		{"notification", &HandleValueNotification{Handle: 3, Value: []byte{0x64}}, []byte{0x1B, 0x03, 0x00, 0x64}},
		{"indication", &HandleValueIndication{Handle: 3, Value: []byte{0x64}}, []byte{0x1D, 0x03, 0x00, 0x64}},
		{"confirmation", &HandleValueConfirmation{}, []byte{0x1E}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.pdu, MaxMTU)
			require.NoError(t, err, "MUST encode")
			if tt.wire != nil {
				assert.Equal(t, tt.wire, b, "MUST match the wire layout")
			}
			assert.Equal(t, byte(tt.pdu.Opcode()), b[0], "MUST lead with the opcode")

			decoded, err := Decode(b)
			require.NoError(t, err, "MUST decode")
			assert.Equal(t, tt.pdu, decoded, "MUST round-trip")
		})
	}
}

func TestEncodeRespectsMTU(t *testing.T) {
	value := bytes.Repeat([]byte{0xAA}, DefaultMTU-1)

	_, err := Encode(&ReadResponse{Value: value}, DefaultMTU)
	assert.NoError(t, err, "MUST accept a PDU of exactly MTU octets")

	_, err = Encode(&ReadResponse{Value: append(value, 0xBB)}, DefaultMTU)
	assert.ErrorIs(t, err, ErrExceedsMTU, "MUST reject a PDU one octet over MTU")
}

func TestEncodeRejectsInconsistentLists(t *testing.T) {
	tests := []struct {
		name string
		pdu  PDU
	}{
		{"empty read by type response", &ReadByTypeResponse{}},
		{"mixed read by type lengths", &ReadByTypeResponse{Entries: []HandleValue{
			{Handle: 1, Value: []byte{1}},
			{Handle: 2, Value: []byte{1, 2}},
		}}},
		{"mixed group lengths", &ReadByGroupTypeResponse{Entries: []GroupValue{
			{Handle: 1, EndGroup: 2, Value: ble.UUID16(0x1800)},
			{Handle: 3, EndGroup: 4, Value: customUUID},
		}}},
		{"mixed uuid widths", &FindInformationResponse{Entries: []HandleUUID{
			{Handle: 1, Type: ble.UUID16(0x2800)},
			{Handle: 2, Type: customUUID},
		}}},
		{"find by type value with 128-bit type", &FindByTypeValueRequest{StartHandle: 1, EndHandle: 2, Type: customUUID}},
		{"read multiple with one handle", &ReadMultipleRequest{Handles: []uint16{1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.pdu, MaxMTU)
			assert.ErrorIs(t, err, ErrMalformedPDU)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		opcode Opcode
		cause  error
	}{
		{"empty buffer", nil, 0, ErrMalformedPDU},
		{"unknown opcode", []byte{0x20, 0x01}, 0x20, ErrUnknownOpcode},
		{"unknown command", []byte{0x7F}, 0x7F, ErrUnknownOpcode},
		{"truncated read request", []byte{0x0A, 0x01}, OpReadRequest, ErrMalformedPDU},
		{"overlong read request", []byte{0x0A, 0x01, 0x00, 0x00}, OpReadRequest, ErrMalformedPDU},
		{"truncated mtu request", []byte{0x02, 0x17}, OpExchangeMTURequest, ErrMalformedPDU},
		{"bad uuid width", []byte{0x08, 0x01, 0x00, 0xFF, 0xFF, 0x03, 0x28, 0x00}, OpReadByTypeRequest, ErrMalformedPDU},
		{"write without handle", []byte{0x12, 0x01}, OpWriteRequest, ErrMalformedPDU},
		{"read multiple with one handle", []byte{0x0E, 0x01, 0x00}, OpReadMultipleRequest, ErrMalformedPDU},
		{"execute with bad flags", []byte{0x18, 0x02}, OpExecuteWriteRequest, ErrMalformedPDU},
		{"confirmation with payload", []byte{0x1E, 0x00}, OpHandleValueConfirmation, ErrMalformedPDU},
		{"short signed write", []byte{0xD2, 0x01, 0x00, 0x01}, OpSignedWriteCommand, ErrMalformedPDU},
		{"ragged find information", []byte{0x05, 0x01, 0x01, 0x00, 0x00}, OpFindInformationResponse, ErrMalformedPDU},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdu, err := Decode(tt.input)
			assert.Nil(t, pdu)

			var de *DecodeError
			require.True(t, errors.As(err, &de), "MUST return a DecodeError")
			assert.Equal(t, tt.opcode, de.Opcode)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestOpcodeClassification(t *testing.T) {
	assert.True(t, OpWriteCommand.IsCommand())
	assert.True(t, OpSignedWriteCommand.IsCommand())
	assert.False(t, OpWriteRequest.IsCommand())

	assert.True(t, OpReadRequest.IsRequest())
	assert.True(t, OpExecuteWriteRequest.IsRequest())
	assert.False(t, OpHandleValueConfirmation.IsRequest())
	assert.False(t, OpWriteCommand.IsRequest())
	assert.True(t, Opcode(0x20).IsRequest(), "unknown non-command opcodes MUST be answered")
	assert.False(t, Opcode(0x7F).IsRequest(), "unknown commands MUST be dropped")

	assert.Equal(t, "ReadByGroupTypeRequest", OpReadByGroupTypeRequest.String())
	assert.Equal(t, "Opcode(0x20)", Opcode(0x20).String())
}

func TestErrorCodes(t *testing.T) {
	err := error(NewError(ErrReadNotPermitted, 0x0003))

	assert.ErrorIs(t, err, ErrReadNotPermitted)
	assert.NotErrorIs(t, err, ErrWriteNotPermitted)
	assert.Equal(t, "read not permitted (handle 0x0003)", err.Error())

	var attErr *Error
	require.True(t, errors.As(err, &attErr))
	assert.Equal(t, uint16(3), attErr.Handle)

	assert.True(t, ErrorCode(0x80).IsApplication())
	assert.Equal(t, "application error 0x85", ErrorCode(0x85).Error())
	assert.False(t, ErrUnlikely.IsApplication())
}
