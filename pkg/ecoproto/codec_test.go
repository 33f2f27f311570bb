package ecoproto

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func p1Telegram(lines ...string) []byte {
	body := "/ISk5\\2MT382-1000\r\n\r\n" + strings.Join(lines, "\r\n") + "\r\n!"
	return []byte(fmt.Sprintf("%s%04X\r\n", body, crc16([]byte(body))))
}

func sampleP1Telegram() []byte {
	return p1Telegram(
		"1-3:0.2.8(50)",
		"0-0:1.0.0(101209113020W)",
		"0-0:96.1.1(4B384547303034303436333935353037)",
		"1-0:1.8.1(123456.789*kWh)",
		"1-0:1.8.2(000010.001*kWh)",
		"1-0:2.8.1(000001.500*kWh)",
		"0-0:96.14.0(0002)",
		"1-0:1.7.0(01.193*kW)",
		"0-0:96.7.21(00004)",
		"1-0:99.97.0(2)(0-0:96.7.19)(101208152415W)(0000000240*s)(101208151004W)(0000000301*s)",
		"1-0:32.32.0(00002)",
		"1-0:32.7.0(220.1*V)",
		"0-1:24.2.1(101209112500W)(12785.123*m3)",
		"1-0:99.1.0(42)",
	)
}

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0xBB3D), crc16([]byte("123456789")))
}

func TestP1Decode(t *testing.T) {

	assert := assert.New(t)

	frame, err := P1Protocol{}.Decode(sampleP1Telegram())
	require.NoError(t, err)

	version, ok := frame.Field("dsmr_version")
	assert.True(ok)
	assert.Equal("50", version.Text)

	equipment, _ := frame.Field("equipment_id")
	assert.Equal("K8EG004046395507", equipment.Text)

	t1, _ := frame.Field("energy_import_t1")
	assert.True(t1.Numeric)
	assert.InDelta(123456.789, t1.Value, 0.0001)
	assert.Equal("kWh", t1.Unit)

	power, _ := frame.Field("power_import")
	assert.InDelta(1.193, power.Value, 0.0001)
	assert.Equal("kW", power.Unit)

	tariff, _ := frame.Field("tariff_indicator")
	assert.Equal(2.0, tariff.Value)

	gas, _ := frame.Field("gas_consumed")
	assert.InDelta(12785.123, gas.Value, 0.0001)
	assert.Equal("m3", gas.Unit)

	unknown, ok := frame.Field("1-0:99.1.0")
	assert.True(ok, "unknown obis codes are kept")
	assert.Equal(42.0, unknown.Value)

	_, ok = frame.Field("1-0:99.97.0")
	assert.False(ok, "event log is skipped")
}

func TestP1ChecksumMismatch(t *testing.T) {

	telegram := sampleP1Telegram()
	corrupted := []byte(strings.Replace(string(telegram), "220.1", "221.1", 1))

	_, err := P1Protocol{}.Decode(corrupted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, ChecksumMismatch, decodeErr.Reason)
}

func TestLineDecode(t *testing.T) {

	assert := assert.New(t)

	data, err := LineProtocol{}.EncodeFrame(Frame{
		Sequence: 7,
		Fields: []Field{
			NumberField("level", 500, "liters"),
			NumberField("battery_level", 87, ""),
			TextField("fw", "1.2.3"),
		},
	})
	require.NoError(t, err)
	assert.True(strings.HasPrefix(string(data), "$ECOTS,7,level=500:liters,battery_level=87,fw=1.2.3*"))

	frame, err := LineProtocol{}.Decode(data)
	require.NoError(t, err)
	assert.True(frame.HasSequence)
	assert.Equal(uint32(7), frame.Sequence)
	assert.Len(frame.Fields, 3)
	assert.Equal(NumberField("level", 500, "liters"), frame.Fields[0])
	assert.Equal(NumberField("battery_level", 87, ""), frame.Fields[1])
	assert.Equal(TextField("fw", "1.2.3"), frame.Fields[2])
}

func TestLineDecodeErrors(t *testing.T) {

	assert := assert.New(t)

	_, err := LineProtocol{}.Decode([]byte("$ECOTS,1,level=5*00\r\n"))
	assert.True(errors.Is(err, ErrChecksumMismatch))

	_, err = LineProtocol{}.Decode([]byte("$ECOTS,1,level=5\r\n"))
	assert.True(errors.Is(err, ErrTruncated))

	body := "GPGGA,1,level=5"
	_, err = LineProtocol{}.Decode([]byte(fmt.Sprintf("$%s*%02X\r\n", body, xorChecksum([]byte(body)))))
	assert.True(errors.Is(err, ErrUnknownFormat))
}

func TestBinaryRoundTrip(t *testing.T) {

	assert := assert.New(t)

	proto := BinaryProtocol{Version: 2}
	data, err := proto.EncodeFrame(Frame{
		Sequence: 42,
		Fields: []Field{
			NumberField("water_consumed", 12.5, "m3"),
			NumberField("water_flow_rate", 3.25, "L/min"),
			TextField("state", "ok"),
		},
	})
	require.NoError(t, err)
	assert.Equal(byte(0xEC), data[0])
	assert.Equal(byte(0x0B), data[1])

	n, err := proto.FrameLength(data)
	require.NoError(t, err)
	assert.Equal(len(data), n)

	frame, err := proto.Decode(data)
	require.NoError(t, err)
	assert.Equal(uint32(42), frame.Sequence)
	assert.Equal("2", frame.ProtocolVersion)

	consumed, ok := frame.Field("water_consumed")
	assert.True(ok)
	assert.Equal(12.5, consumed.Value)
	assert.Equal("m3", consumed.Unit)
	flow, _ := frame.Field("water_flow_rate")
	assert.Equal(3.25, flow.Value)
	state, _ := frame.Field("state")
	assert.Equal("ok", state.Text)

	data[len(data)-1] ^= 0xFF
	_, err = proto.Decode(data)
	assert.True(errors.Is(err, ErrChecksumMismatch))
}

func TestCommandRoundTrip(t *testing.T) {

	protocols := []Protocol{P1Protocol{}, LineProtocol{}, BinaryProtocol{}}

	for _, proto := range protocols {
		t.Run(proto.Name(), func(t *testing.T) {
			data, err := proto.Encode(Command{Name: COMMAND_IDENTIFY, Sequence: 3})
			require.NoError(t, err)

			n, err := proto.FrameLength(data)
			require.NoError(t, err)
			assert.Equal(t, len(data), n)

			frame, err := proto.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, COMMAND_IDENTIFY, frame.Command())
		})
	}
}

func TestSwitchCommandRoundTrip(t *testing.T) {

	protocols := []Protocol{P1Protocol{}, LineProtocol{}, BinaryProtocol{}}
	commands := []Command{
		{Name: COMMAND_SWITCH, Sequence: 4, Target: "power_on", On: true},
		{Name: COMMAND_SWITCH, Sequence: 5, Target: "relay2"},
	}

	for _, proto := range protocols {
		t.Run(proto.Name(), func(t *testing.T) {
			for _, cmd := range commands {
				data, err := proto.Encode(cmd)
				require.NoError(t, err)

				frame, err := proto.Decode(data)
				require.NoError(t, err)
				parsed, err := ParseCommand(frame.Command())
				require.NoError(t, err)
				assert.Equal(t, cmd.Target, parsed.Target)
				assert.Equal(t, cmd.On, parsed.On)
				assert.Equal(t, COMMAND_SWITCH, parsed.Name)
			}
		})
	}
}

func TestCommandText(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("identify", Command{Name: COMMAND_IDENTIFY}.Text())
	assert.Equal("switch:power_on=on", Command{Name: COMMAND_SWITCH, Target: "power_on", On: true}.Text())
	assert.Equal("switch:relay1=off", Command{Name: COMMAND_SWITCH, Target: "relay1"}.Text())

	cmd, err := ParseCommand("identify")
	assert.NoError(err)
	assert.Equal(COMMAND_IDENTIFY, cmd.Name)

	for _, text := range []string{"reboot", "switch", "switch:power_on", "switch:power_on=maybe", "switch:Power On=on", "identify:x=on"} {
		_, err := ParseCommand(text)
		assert.ErrorIs(err, ErrUnknownCommand, text)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := LineProtocol{}.Encode(Command{Name: "reboot"})
	assert.True(t, errors.Is(err, ErrUnknownCommand))

	_, err = LineProtocol{}.Encode(Command{Name: COMMAND_SWITCH})
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestP1EncodeFrame(t *testing.T) {

	assert := assert.New(t)

	data, err := P1Protocol{}.EncodeFrame(Frame{
		Fields: []Field{
			NumberField("energy_import_t1", 100.5, "kWh"),
			TextField("equipment_id", "E0001"),
		},
	})
	require.NoError(t, err)

	frame, err := P1Protocol{}.Decode(data)
	require.NoError(t, err)
	energy, _ := frame.Field("energy_import_t1")
	assert.Equal(100.5, energy.Value)
	assert.Equal("kWh", energy.Unit)
	equipment, _ := frame.Field("equipment_id")
	assert.Equal("E0001", equipment.Text)

	_, err = P1Protocol{}.EncodeFrame(Frame{Fields: []Field{NumberField("level", 1, "")}})
	assert.Error(err)
}
