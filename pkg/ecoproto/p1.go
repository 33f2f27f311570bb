package ecoproto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	P1_PROTOCOL_NAME   = "dsmr-p1"
	P1_MAX_FRAME_SIZE  = 8192
	P1_DEFAULT_HEADER  = "ECO5\\2ECOP1"
	P1_COMMAND_HEADER  = "ECO5\\2CMD"
	p1CRCLength        = 4
	p1TerminatorLength = 2
)

// obis code -> field name
var p1Fields = map[string]string{
	"1-0:1.8.0":   "energy_import",
	"1-0:1.8.1":   "energy_import_t1",
	"1-0:1.8.2":   "energy_import_t2",
	"1-0:1.8.3":   "energy_import_t3",
	"1-0:1.8.4":   "energy_import_t4",
	"1-0:2.8.0":   "energy_export",
	"1-0:2.8.1":   "energy_export_t1",
	"1-0:2.8.2":   "energy_export_t2",
	"1-0:2.8.3":   "energy_export_t3",
	"1-0:2.8.4":   "energy_export_t4",
	"1-0:1.7.0":   "power_import",
	"1-0:2.7.0":   "power_export",
	"1-0:21.7.0":  "power_import_l1",
	"1-0:41.7.0":  "power_import_l2",
	"1-0:61.7.0":  "power_import_l3",
	"1-0:22.7.0":  "power_export_l1",
	"1-0:42.7.0":  "power_export_l2",
	"1-0:62.7.0":  "power_export_l3",
	"1-0:32.7.0":  "voltage_l1",
	"1-0:52.7.0":  "voltage_l2",
	"1-0:72.7.0":  "voltage_l3",
	"1-0:31.7.0":  "current_l1",
	"1-0:51.7.0":  "current_l2",
	"1-0:71.7.0":  "current_l3",
	"1-0:14.7.0":  "frequency",
	"1-0:32.32.0": "voltage_sag_l1",
	"1-0:52.32.0": "voltage_sag_l2",
	"1-0:72.32.0": "voltage_sag_l3",
	"1-0:32.36.0": "voltage_swell_l1",
	"1-0:52.36.0": "voltage_swell_l2",
	"1-0:72.36.0": "voltage_swell_l3",
	"0-0:96.7.21": "any_power_fail_count",
	"0-0:96.7.9":  "long_power_fail_count",
	"0-0:96.14.0": "tariff_indicator",
	"1-3:0.2.8":   "dsmr_version",
	"0-0:96.1.1":  "equipment_id",
	"0-0:1.0.0":   "timestamp",
	"0-1:24.2.1":  "gas_consumed",
	"0-0:96.13.0": "message",
	"0-0:96.13.1": FIELD_COMMAND,
}

var p1Codes = func() map[string]string {
	codes := make(map[string]string, len(p1Fields))
	for code, name := range p1Fields {
		codes[name] = code
	}
	return codes
}()

// fields always transported as text, hex encoded on the wire
var p1HexFields = map[string]bool{
	"equipment_id": true,
	"message":      true,
	FIELD_COMMAND:  true,
}

var p1TextFields = map[string]bool{
	"dsmr_version": true,
	"timestamp":    true,
}

// P1Protocol decodes DSMR telegrams as emitted on the P1 port of smart meters.
type P1Protocol struct {
	Header string
}

func (p P1Protocol) Name() string {
	return P1_PROTOCOL_NAME
}

func (p P1Protocol) SyncMarker() []byte {
	return []byte{'/'}
}

func (p P1Protocol) MaxFrameSize() int {
	return P1_MAX_FRAME_SIZE
}

func (p P1Protocol) FrameLength(buf []byte) (int, error) {
	end := bytes.IndexByte(buf, '!')
	if end < 0 {
		// a new header before the end marker means the previous telegram was cut
		if next := bytes.IndexByte(buf[1:], '/'); next >= 0 {
			return 0, decodeErrorf(Truncated, "telegram interrupted at offset %d", next+1)
		}
		return 0, nil
	}
	if next := bytes.IndexByte(buf[1:end], '/'); next >= 0 {
		return 0, decodeErrorf(Truncated, "telegram interrupted at offset %d", next+1)
	}
	total := end + 1 + p1CRCLength + p1TerminatorLength
	if len(buf) < total {
		return 0, nil
	}
	return total, nil
}

func (p P1Protocol) Decode(frame []byte) (Frame, error) {
	if len(frame) == 0 || frame[0] != '/' {
		return Frame{}, decodeErrorf(UnknownFormat, "missing telegram header")
	}
	end := bytes.IndexByte(frame, '!')
	if end < 0 || len(frame) < end+1+p1CRCLength {
		return Frame{}, decodeErrorf(Truncated, "missing telegram checksum")
	}
	expected, err := strconv.ParseUint(string(frame[end+1:end+1+p1CRCLength]), 16, 16)
	if err != nil {
		return Frame{}, decodeErrorf(UnknownFormat, "invalid checksum field %q", frame[end+1:end+1+p1CRCLength])
	}
	if actual := crc16(frame[:end+1]); uint16(expected) != actual {
		return Frame{}, decodeErrorf(ChecksumMismatch, "expected %04X, got %04X", expected, actual)
	}

	lines := strings.Split(strings.ReplaceAll(string(frame[:end]), "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return Frame{}, decodeErrorf(UnknownFormat, "empty telegram")
	}

	result := Frame{}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		field, ok, err := p.decodeLine(line)
		if err != nil {
			return Frame{}, err
		}
		if ok {
			result.Fields = append(result.Fields, field)
		}
	}
	return result, nil
}

func (p P1Protocol) decodeLine(line string) (Field, bool, error) {
	open := strings.IndexByte(line, '(')
	if open <= 0 || !strings.HasSuffix(line, ")") {
		return Field{}, false, decodeErrorf(UnknownFormat, "invalid cosem line %q", line)
	}
	code := line[:open]
	// power failure event log, not a value
	if code == "1-0:99.97.0" {
		return Field{}, false, nil
	}
	groups := strings.Split(strings.TrimSuffix(line[open+1:], ")"), ")(")
	raw := groups[len(groups)-1]

	name, known := p1Fields[code]
	if !known {
		name = code
	}

	if p1HexFields[name] {
		text, err := hex.DecodeString(raw)
		if err != nil {
			return Field{}, false, decodeErrorf(UnknownFormat, "invalid hex value for %s", code)
		}
		return TextField(name, string(text)), true, nil
	}
	if p1TextFields[name] {
		return TextField(name, raw), true, nil
	}

	value, unit, _ := strings.Cut(raw, "*")
	number, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return TextField(name, raw), true, nil
	}
	return NumberField(name, number, unit), true, nil
}

func (p P1Protocol) Encode(cmd Command) ([]byte, error) {
	if err := validCommand(cmd); err != nil {
		return nil, err
	}
	return P1Protocol{Header: P1_COMMAND_HEADER}.EncodeFrame(Frame{
		Fields: []Field{TextField(FIELD_COMMAND, cmd.Text())},
	})
}

func (p P1Protocol) EncodeFrame(frame Frame) ([]byte, error) {
	header := p.Header
	if header == "" {
		header = P1_DEFAULT_HEADER
	}
	var b strings.Builder
	fmt.Fprintf(&b, "/%s\r\n\r\n", header)

	fields := append([]Field(nil), frame.Fields...)
	sort.SliceStable(fields, func(i, j int) bool {
		return p1CodeFor(fields[i].Name) < p1CodeFor(fields[j].Name)
	})
	for _, field := range fields {
		code := p1CodeFor(field.Name)
		if !strings.Contains(code, ":") {
			return nil, fmt.Errorf("no obis code for field %q", field.Name)
		}
		switch {
		case p1HexFields[field.Name]:
			fmt.Fprintf(&b, "%s(%s)\r\n", code, strings.ToUpper(hex.EncodeToString([]byte(field.Text))))
		case !field.Numeric:
			fmt.Fprintf(&b, "%s(%s)\r\n", code, field.Text)
		case field.Unit != "":
			fmt.Fprintf(&b, "%s(%010.3f*%s)\r\n", code, field.Value, field.Unit)
		default:
			fmt.Fprintf(&b, "%s(%s)\r\n", code, strconv.FormatFloat(field.Value, 'f', -1, 64))
		}
	}
	b.WriteByte('!')

	body := []byte(b.String())
	return append(body, []byte(fmt.Sprintf("%04X\r\n", crc16(body)))...), nil
}

func p1CodeFor(name string) string {
	if code, ok := p1Codes[name]; ok {
		return code
	}
	return name
}
