package ecoproto

// Protocol is the wire definition of one family of devices. Implementations are stateless.
type Protocol interface {
	Name() string
	SyncMarker() []byte
	MaxFrameSize() int
	// FrameLength returns the total length of the frame at the start of buf, or 0 when more
	// bytes are needed.
	FrameLength(buf []byte) (int, error)
	Decode(frame []byte) (Frame, error)
	Encode(cmd Command) ([]byte, error)
}

// FrameEncoder is implemented by protocols able to produce telemetry frames, used by the simulator.
type FrameEncoder interface {
	EncodeFrame(frame Frame) ([]byte, error)
}

var (
	_ Protocol     = P1Protocol{}
	_ Protocol     = LineProtocol{}
	_ Protocol     = BinaryProtocol{}
	_ FrameEncoder = P1Protocol{}
	_ FrameEncoder = LineProtocol{}
	_ FrameEncoder = BinaryProtocol{}
)
