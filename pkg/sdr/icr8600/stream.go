package icr8600

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/norasector/rxprobe/pkg/sdr"
)

const (
	defaultBufferLength = 4 * 1024
	bytesPerSample      = 4 // 16 bit I + 16 bit Q

	// The receiver fills gaps in the I/Q pipe with 0x8000/0x8000 words.
	padWord = -32768
)

type rxStream struct {
	sdr.StreamState
	format string
	raw    []byte
}

func (s *rxStream) Format() string { return s.format }

func (s *rxStream) MTU() int { return len(s.raw) / bytesPerSample }

func (d *Device) StreamFormats(dir sdr.Direction, channel int) []string {
	return []string{sdr.FormatCS16, sdr.FormatCF32}
}

func (d *Device) SetupStream(dir sdr.Direction, format string, channels []int, args sdr.Kwargs) (sdr.Stream, error) {
	if dir != sdr.RX {
		return nil, fmt.Errorf("%w: IC-R8600 is RX only", sdr.ErrInvalidDirection)
	}
	if err := sdr.CheckChannels(channels); err != nil {
		return nil, err
	}
	if format != sdr.FormatCS16 && format != sdr.FormatCF32 {
		return nil, fmt.Errorf("%w: %q, IC-R8600 supports CS16 and CF32", sdr.ErrUnsupportedFormat, format)
	}

	bufLen := args.Int("bufflen", defaultBufferLength)
	if bufLen <= 0 {
		bufLen = defaultBufferLength
	}
	bufLen -= bufLen % bytesPerSample

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return nil, fmt.Errorf("%w: a stream is already open", sdr.ErrStreamState)
	}
	d.stream = &rxStream{format: format, raw: make([]byte, bufLen)}
	d.logger.Info().Str("format", format).Int("buffer_length", bufLen).Msg("stream setup")
	return d.stream, nil
}

func (d *Device) ownStream(s sdr.Stream) (*rxStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := s.(*rxStream)
	if !ok || st != d.stream {
		return nil, fmt.Errorf("%w: stream does not belong to this device", sdr.ErrStreamState)
	}
	return st, nil
}

func (d *Device) ActivateStream(s sdr.Stream) error {
	st, err := d.ownStream(s)
	if err != nil {
		return err
	}
	return st.Activate()
}

func (d *Device) DeactivateStream(s sdr.Stream) error {
	st, err := d.ownStream(s)
	if err != nil {
		return err
	}
	return st.Deactivate()
}

func (d *Device) CloseStream(s sdr.Stream) error {
	st, err := d.ownStream(s)
	if err != nil {
		return err
	}
	if _, err := st.Close(); err != nil {
		return err
	}

	d.mu.Lock()
	d.stream = nil
	d.mu.Unlock()
	d.logger.Info().Msg("stream closed")
	return nil
}

// ReadStream performs one bulk read of at most numElems samples from the I/Q
// pipe and converts it into buffs[0], dropping pad words.
func (d *Device) ReadStream(ctx context.Context, s sdr.Stream, buffs []sdr.Buffer, numElems int, timeout time.Duration) sdr.StreamResult {
	st, err := d.ownStream(s)
	if err != nil || !st.Readable() || len(buffs) != 1 {
		return sdr.ErrorResult(sdr.ErrCodeStreamError)
	}

	n := numElems
	if l := buffs[0].Len(); l < n {
		n = l
	}
	if mtu := st.MTU(); mtu < n {
		n = mtu
	}
	if n <= 0 {
		return sdr.StreamResult{}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw := st.raw[:n*bytesPerSample]
	got, err := d.transport.ReadIQ(ctx, raw)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return sdr.ErrorResult(sdr.ErrCodeTimeout)
		}
		d.logger.Warn().Err(err).Msg("iq read failed")
		return sdr.ErrorResult(sdr.ErrCodeStreamError)
	}
	d.logger.Trace().Int("bytes", got).Int("requested", len(raw)).Msg("iq read")

	sink := sdr.NewSink(buffs[0])
	for p := 0; p+bytesPerSample <= got; p += bytesPerSample {
		i := int16(binary.LittleEndian.Uint16(raw[p:]))
		q := int16(binary.LittleEndian.Uint16(raw[p+2:]))
		if i == padWord && q == padWord {
			continue
		}
		sink.PutInt16(i, q)
	}
	return sdr.StreamResult{Ret: sink.Written()}
}
