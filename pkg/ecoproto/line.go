package ecoproto

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	LINE_PROTOCOL_NAME    = "eco-line"
	LINE_MAX_FRAME_SIZE   = 512
	LINE_TALKER_TELEMETRY = "ECOTS"
	LINE_TALKER_COMMAND   = "ECOCMD"
)

// LineProtocol is the sentence based protocol of tank sensors:
//
//	$ECOTS,<seq>,level=500:liters,battery_level=87*HH\r\n
//
// HH is the hex XOR of every byte between '$' and '*'.
type LineProtocol struct{}

func (p LineProtocol) Name() string {
	return LINE_PROTOCOL_NAME
}

func (p LineProtocol) SyncMarker() []byte {
	return []byte{'$'}
}

func (p LineProtocol) MaxFrameSize() int {
	return LINE_MAX_FRAME_SIZE
}

func (p LineProtocol) FrameLength(buf []byte) (int, error) {
	end := bytes.IndexByte(buf, '\n')
	limit := end
	if end < 0 {
		limit = len(buf)
	}
	if next := bytes.IndexByte(buf[1:limit], '$'); next >= 0 {
		return 0, decodeErrorf(Truncated, "sentence interrupted at offset %d", next+1)
	}
	if end < 0 {
		return 0, nil
	}
	return end + 1, nil
}

func (p LineProtocol) Decode(frame []byte) (Frame, error) {
	sentence := strings.TrimRight(string(frame), "\r\n")
	if !strings.HasPrefix(sentence, "$") {
		return Frame{}, decodeErrorf(UnknownFormat, "missing sentence start")
	}
	star := strings.LastIndexByte(sentence, '*')
	if star < 0 || len(sentence)-star != 3 {
		return Frame{}, decodeErrorf(Truncated, "missing sentence checksum")
	}
	body := sentence[1:star]
	expected, err := strconv.ParseUint(sentence[star+1:], 16, 8)
	if err != nil {
		return Frame{}, decodeErrorf(UnknownFormat, "invalid checksum field %q", sentence[star+1:])
	}
	if actual := xorChecksum([]byte(body)); byte(expected) != actual {
		return Frame{}, decodeErrorf(ChecksumMismatch, "expected %02X, got %02X", expected, actual)
	}

	parts := strings.Split(body, ",")
	if len(parts) < 2 {
		return Frame{}, decodeErrorf(UnknownFormat, "sentence without sequence")
	}
	talker := parts[0]
	if talker != LINE_TALKER_TELEMETRY && talker != LINE_TALKER_COMMAND {
		return Frame{}, decodeErrorf(UnknownFormat, "unknown talker %q", talker)
	}
	seq, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Frame{}, decodeErrorf(UnknownFormat, "invalid sequence %q", parts[1])
	}

	result := Frame{Sequence: uint32(seq), HasSequence: true}
	for _, part := range parts[2:] {
		key, raw, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			return Frame{}, decodeErrorf(UnknownFormat, "invalid field %q", part)
		}
		if talker == LINE_TALKER_COMMAND {
			if key == "cmd" {
				result.Fields = append(result.Fields, TextField(FIELD_COMMAND, raw))
			}
			continue
		}
		value, unit, _ := strings.Cut(raw, ":")
		if number, err := strconv.ParseFloat(value, 64); err == nil {
			result.Fields = append(result.Fields, NumberField(key, number, unit))
		} else {
			result.Fields = append(result.Fields, TextField(key, raw))
		}
	}
	return result, nil
}

func (p LineProtocol) Encode(cmd Command) ([]byte, error) {
	if err := validCommand(cmd); err != nil {
		return nil, err
	}
	return p.EncodeFrame(Frame{
		Fields:      []Field{TextField(FIELD_COMMAND, cmd.Text())},
		Sequence:    cmd.Sequence,
		HasSequence: true,
	})
}

func (p LineProtocol) EncodeFrame(frame Frame) ([]byte, error) {
	var b strings.Builder
	if command := frame.Command(); command != "" {
		fmt.Fprintf(&b, "%s,%d,cmd=%s", LINE_TALKER_COMMAND, frame.Sequence, command)
	} else {
		fmt.Fprintf(&b, "%s,%d", LINE_TALKER_TELEMETRY, frame.Sequence)
		for _, field := range frame.Fields {
			if strings.ContainsAny(field.Name, ",=*$\r\n") || strings.ContainsAny(field.Text, ",*$\r\n") {
				return nil, fmt.Errorf("field %q cannot be encoded", field.Name)
			}
			value := field.Text
			if field.Numeric {
				value = strconv.FormatFloat(field.Value, 'f', -1, 64)
				if field.Unit != "" {
					value = value + ":" + field.Unit
				}
			}
			fmt.Fprintf(&b, ",%s=%s", field.Name, value)
		}
	}
	body := b.String()
	return []byte(fmt.Sprintf("$%s*%02X\r\n", body, xorChecksum([]byte(body)))), nil
}
