package protocol

import "errors"

var (
	ErrMalformedFrame   = errors.New("protocol: malformed frame")
	ErrUnknownFrameType = errors.New("protocol: unknown frame type")
	ErrFrameTooLarge    = errors.New("protocol: frame too large")
	ErrInvalidResize    = errors.New("protocol: invalid resize dimensions")
	ErrMissingMessage   = errors.New("protocol: error frame missing message")
	ErrWrongDirection   = errors.New("protocol: frame not valid in this direction")
)
