package ecoproto

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

const (
	BINARY_PROTOCOL_NAME   = "eco-cbor"
	BINARY_MAX_PAYLOAD     = 4096
	BINARY_HEADER_SIZE     = 5
	BINARY_CRC_SIZE        = 2
	BINARY_DEFAULT_VERSION = 1
)

var binarySync = []byte{0xEC, 0x0B}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder mode: %v", err))
	}
}

type binaryPayload struct {
	Seq    uint32            `cbor:"seq"`
	Fields map[string]any    `cbor:"fields,omitempty"`
	Units  map[string]string `cbor:"units,omitempty"`
	Cmd    string            `cbor:"cmd,omitempty"`
}

// BinaryProtocol frames a CBOR payload:
//
//	0xEC 0x0B | version | length (uint16 BE) | payload | crc16 (BE, over version..payload)
type BinaryProtocol struct {
	Version byte
}

func (p BinaryProtocol) Name() string {
	return BINARY_PROTOCOL_NAME
}

func (p BinaryProtocol) SyncMarker() []byte {
	return binarySync
}

func (p BinaryProtocol) MaxFrameSize() int {
	return BINARY_HEADER_SIZE + BINARY_MAX_PAYLOAD + BINARY_CRC_SIZE
}

func (p BinaryProtocol) FrameLength(buf []byte) (int, error) {
	if len(buf) < BINARY_HEADER_SIZE {
		return 0, nil
	}
	length := int(binary.BigEndian.Uint16(buf[3:5]))
	if length > BINARY_MAX_PAYLOAD {
		return 0, decodeErrorf(UnknownFormat, "payload length %d exceeds %d", length, BINARY_MAX_PAYLOAD)
	}
	total := BINARY_HEADER_SIZE + length + BINARY_CRC_SIZE
	if len(buf) < total {
		return 0, nil
	}
	return total, nil
}

func (p BinaryProtocol) Decode(frame []byte) (Frame, error) {
	if len(frame) < BINARY_HEADER_SIZE+BINARY_CRC_SIZE {
		return Frame{}, decodeErrorf(Truncated, "frame of %d bytes", len(frame))
	}
	if frame[0] != binarySync[0] || frame[1] != binarySync[1] {
		return Frame{}, decodeErrorf(UnknownFormat, "missing sync marker")
	}
	length := int(binary.BigEndian.Uint16(frame[3:5]))
	if len(frame) != BINARY_HEADER_SIZE+length+BINARY_CRC_SIZE {
		return Frame{}, decodeErrorf(Truncated, "expected %d payload bytes", length)
	}
	body := frame[2 : BINARY_HEADER_SIZE+length]
	expected := binary.BigEndian.Uint16(frame[BINARY_HEADER_SIZE+length:])
	if actual := crc16(body); expected != actual {
		return Frame{}, decodeErrorf(ChecksumMismatch, "expected %04X, got %04X", expected, actual)
	}

	var payload binaryPayload
	if err := decMode.Unmarshal(frame[BINARY_HEADER_SIZE:BINARY_HEADER_SIZE+length], &payload); err != nil {
		return Frame{}, decodeErrorf(UnknownFormat, "invalid payload: %v", err)
	}

	result := Frame{
		Sequence:        payload.Seq,
		HasSequence:     true,
		ProtocolVersion: strconv.Itoa(int(frame[2])),
	}
	names := make([]string, 0, len(payload.Fields))
	for name := range payload.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		unit := payload.Units[name]
		switch v := payload.Fields[name].(type) {
		case uint64:
			result.Fields = append(result.Fields, NumberField(name, float64(v), unit))
		case int64:
			result.Fields = append(result.Fields, NumberField(name, float64(v), unit))
		case float64:
			result.Fields = append(result.Fields, NumberField(name, v, unit))
		case float32:
			result.Fields = append(result.Fields, NumberField(name, float64(v), unit))
		case bool:
			value := 0.0
			if v {
				value = 1
			}
			result.Fields = append(result.Fields, NumberField(name, value, unit))
		case string:
			result.Fields = append(result.Fields, TextField(name, v))
		default:
			return Frame{}, decodeErrorf(UnknownFormat, "unsupported value type %T for %s", v, name)
		}
	}
	if payload.Cmd != "" {
		result.Fields = append(result.Fields, TextField(FIELD_COMMAND, payload.Cmd))
	}
	return result, nil
}

func (p BinaryProtocol) Encode(cmd Command) ([]byte, error) {
	if err := validCommand(cmd); err != nil {
		return nil, err
	}
	return p.EncodeFrame(Frame{
		Fields:   []Field{TextField(FIELD_COMMAND, cmd.Text())},
		Sequence: cmd.Sequence,
	})
}

func (p BinaryProtocol) EncodeFrame(frame Frame) ([]byte, error) {
	payload := binaryPayload{Seq: frame.Sequence}
	for _, field := range frame.Fields {
		if field.Name == FIELD_COMMAND {
			payload.Cmd = field.Text
			continue
		}
		if payload.Fields == nil {
			payload.Fields = map[string]any{}
		}
		if field.Numeric {
			payload.Fields[field.Name] = field.Value
			if field.Unit != "" {
				if payload.Units == nil {
					payload.Units = map[string]string{}
				}
				payload.Units[field.Name] = field.Unit
			}
		} else {
			payload.Fields[field.Name] = field.Text
		}
	}
	data, err := encMode.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(data) > BINARY_MAX_PAYLOAD {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(data), BINARY_MAX_PAYLOAD)
	}

	version := p.Version
	if version == 0 {
		version = BINARY_DEFAULT_VERSION
	}
	out := make([]byte, 0, BINARY_HEADER_SIZE+len(data)+BINARY_CRC_SIZE)
	out = append(out, binarySync...)
	out = append(out, version)
	out = binary.BigEndian.AppendUint16(out, uint16(len(data)))
	out = append(out, data...)
	out = binary.BigEndian.AppendUint16(out, crc16(out[2:]))
	return out, nil
}
