package sdr

import (
	"fmt"
	"sync"
)

// Error codes reported through StreamResult.Ret.
const (
	ErrCodeTimeout      = -1
	ErrCodeStreamError  = -2
	ErrCodeCorruption   = -3
	ErrCodeOverflow     = -4
	ErrCodeNotSupported = -5
	ErrCodeTimeError    = -6
	ErrCodeUnderflow    = -7
)

// ErrorString names a stream return code.
func ErrorString(code int) string {
	switch code {
	case ErrCodeTimeout:
		return "TIMEOUT"
	case ErrCodeStreamError:
		return "STREAM_ERROR"
	case ErrCodeCorruption:
		return "CORRUPTION"
	case ErrCodeOverflow:
		return "OVERFLOW"
	case ErrCodeNotSupported:
		return "NOT_SUPPORTED"
	case ErrCodeTimeError:
		return "TIME_ERROR"
	case ErrCodeUnderflow:
		return "UNDERFLOW"
	}
	if code >= 0 {
		return "OK"
	}
	return fmt.Sprintf("UNKNOWN(%d)", code)
}

func ErrorResult(code int) StreamResult {
	return StreamResult{Ret: code}
}

type StreamPhase int

const (
	StreamOpened StreamPhase = iota
	StreamActive
	StreamInactive
	StreamClosed
)

func (p StreamPhase) String() string {
	switch p {
	case StreamOpened:
		return "opened"
	case StreamActive:
		return "active"
	case StreamInactive:
		return "inactive"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamState tracks the lifecycle shared by every driver stream:
// opened -> active -> inactive -> closed. An inactive stream may be
// activated again.
type StreamState struct {
	mu    sync.Mutex
	phase StreamPhase
}

func (s *StreamState) Phase() StreamPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *StreamState) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != StreamOpened && s.phase != StreamInactive {
		return fmt.Errorf("%w: activate while %s", ErrStreamState, s.phase)
	}
	s.phase = StreamActive
	return nil
}

func (s *StreamState) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != StreamActive {
		return fmt.Errorf("%w: deactivate while %s", ErrStreamState, s.phase)
	}
	s.phase = StreamInactive
	return nil
}

// Close reports whether the stream was still active, so drivers can stop
// hardware before releasing it.
func (s *StreamState) Close() (wasActive bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == StreamClosed {
		return false, fmt.Errorf("%w: already closed", ErrStreamState)
	}
	wasActive = s.phase == StreamActive
	s.phase = StreamClosed
	return wasActive, nil
}

func (s *StreamState) Readable() bool {
	return s.Phase() == StreamActive
}
