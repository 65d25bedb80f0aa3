package protocol

import (
	"encoding/json"
	"fmt"
)

// Decode parses and validates one wire payload.
func Decode(payload []byte) (Frame, error) {
	if len(payload) > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// DecodeClientBound accepts only output and error frames.
func DecodeClientBound(payload []byte) (Frame, error) {
	f, err := Decode(payload)
	if err != nil {
		return Frame{}, err
	}
	if !f.ClientBound() {
		return Frame{}, fmt.Errorf("%w: type=%q", ErrWrongDirection, f.Type)
	}
	return f, nil
}

// DecodeServerBound accepts only input and resize frames.
func DecodeServerBound(payload []byte) (Frame, error) {
	f, err := Decode(payload)
	if err != nil {
		return Frame{}, err
	}
	if !f.ServerBound() {
		return Frame{}, fmt.Errorf("%w: type=%q", ErrWrongDirection, f.Type)
	}
	return f, nil
}
