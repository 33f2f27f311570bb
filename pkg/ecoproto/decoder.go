package ecoproto

import (
	"bytes"
	"errors"
	"time"

	"go.uber.org/zap"
)

type DecoderState int

const (
	AwaitingSync DecoderState = iota
	Framing
	Validating
	Emitting
)

func (s DecoderState) String() string {
	switch s {
	case AwaitingSync:
		return "awaiting_sync"
	case Framing:
		return "framing"
	case Validating:
		return "validating"
	case Emitting:
		return "emitting"
	default:
		return "unknown"
	}
}

type DecoderInstrument struct {
	FrameDecoded func(protocol string)
	DecodeFailed func(protocol string, reason DecodeReason)
}

// StreamDecoder delimits and validates frames from a byte stream. It is not safe for concurrent use.
type StreamDecoder struct {
	protocol   Protocol
	state      DecoderState
	buf        []byte
	frameLen   int
	pending    Frame
	instrument []DecoderInstrument
	logger     *zap.Logger
	now        func() time.Time
}

func NewStreamDecoder(protocol Protocol, logger *zap.Logger, instrument ...DecoderInstrument) *StreamDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamDecoder{
		protocol:   protocol,
		state:      AwaitingSync,
		instrument: instrument,
		logger:     logger.With(zap.String("protocol", protocol.Name())),
		now:        time.Now,
	}
}

func (d *StreamDecoder) WithClock(now func() time.Time) *StreamDecoder {
	d.now = now
	return d
}

func (d *StreamDecoder) State() DecoderState {
	return d.state
}

func (d *StreamDecoder) Buffered() int {
	return len(d.buf)
}

func (d *StreamDecoder) Write(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Reset drops any buffered bytes, used when the underlying connection is replaced.
func (d *StreamDecoder) Reset() {
	d.buf = nil
	d.state = AwaitingSync
	d.frameLen = 0
}

// Next runs one decode cycle and returns at most one frame. It returns false when more input
// is needed.
func (d *StreamDecoder) Next() (Frame, bool) {
	marker := d.protocol.SyncMarker()
	for {
		switch d.state {
		case AwaitingSync:
			idx := bytes.Index(d.buf, marker)
			if idx < 0 {
				// keep a tail that may hold the start of a split marker
				keep := len(marker) - 1
				if len(d.buf) > keep {
					d.logger.Debug("decoder@awaiting_sync discarding bytes", zap.Int("count", len(d.buf)-keep))
					d.buf = append(d.buf[:0], d.buf[len(d.buf)-keep:]...)
				}
				return Frame{}, false
			}
			if idx > 0 {
				d.logger.Debug("decoder@awaiting_sync discarding bytes", zap.Int("count", idx))
				d.buf = d.buf[idx:]
			}
			d.state = Framing
		case Framing:
			n, err := d.protocol.FrameLength(d.buf)
			if err != nil {
				d.fail(err, 1)
				continue
			}
			if n == 0 {
				if len(d.buf) > d.protocol.MaxFrameSize() {
					d.fail(decodeErrorf(Truncated, "no frame end within %d bytes", d.protocol.MaxFrameSize()), 1)
					continue
				}
				// a corrupt header may announce a length that swallows the frames behind it
				if next := d.nextValidFrame(marker); next > 0 {
					d.fail(decodeErrorf(Truncated, "frame interrupted after %d bytes", next), next)
					continue
				}
				return Frame{}, false
			}
			d.frameLen = n
			d.state = Validating
		case Validating:
			frame, err := d.protocol.Decode(d.buf[:d.frameLen])
			if err != nil {
				// only the marker is dropped, the rejected span may hold the next frame
				d.fail(err, len(marker))
				continue
			}
			frame.Valid = true
			d.pending = frame
			d.state = Emitting
		case Emitting:
			frame := d.pending
			frame.ReceivedAt = d.now()
			d.buf = d.buf[d.frameLen:]
			d.pending = Frame{}
			d.frameLen = 0
			d.state = AwaitingSync
			for i := range d.instrument {
				if d.instrument[i].FrameDecoded != nil {
					d.instrument[i].FrameDecoded(d.protocol.Name())
				}
			}
			return frame, true
		}
	}
}

// Drain returns every frame currently available.
func (d *StreamDecoder) Drain() []Frame {
	var frames []Frame
	for {
		frame, ok := d.Next()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
	}
}

// nextValidFrame returns the offset of the first later sync marker starting a complete, valid
// frame, or -1.
func (d *StreamDecoder) nextValidFrame(marker []byte) int {
	for offset := len(marker); offset < len(d.buf); {
		idx := bytes.Index(d.buf[offset:], marker)
		if idx < 0 {
			return -1
		}
		start := offset + idx
		if n, err := d.protocol.FrameLength(d.buf[start:]); err == nil && n > 0 {
			if _, err := d.protocol.Decode(d.buf[start : start+n]); err == nil {
				return start
			}
		}
		offset = start + 1
	}
	return -1
}

func (d *StreamDecoder) fail(err error, drop int) {
	reason := UnknownFormat
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		reason = decodeErr.Reason
	}
	d.logger.Warn("decoder@"+d.state.String()+" discarding frame", zap.String("reason", reason.String()), zap.Error(err))
	for i := range d.instrument {
		if d.instrument[i].DecodeFailed != nil {
			d.instrument[i].DecodeFailed(d.protocol.Name(), reason)
		}
	}
	if drop > len(d.buf) {
		drop = len(d.buf)
	}
	d.buf = d.buf[drop:]
	d.frameLen = 0
	d.state = AwaitingSync
}
