package protocol

// FrameType tags one frame on the duplex stream.
type FrameType string

const (
	// client -> server
	TypeInput  FrameType = "input"
	TypeResize FrameType = "resize"

	// server -> client
	TypeOutput FrameType = "output"
	TypeError  FrameType = "error"
)

const (
	// CloseSessionNotFound is the application close code for an unknown or
	// expired session token. Every other close code is transient.
	CloseSessionNotFound = 4001

	// MaxFrameSize bounds one encoded frame in either direction.
	MaxFrameSize = 1 << 20
)

// Frame is the single tagged structure carried by every stream message.
type Frame struct {
	Type    FrameType `json:"type"`
	Data    string    `json:"data,omitempty"`
	Rows    int       `json:"rows,omitempty"`
	Cols    int       `json:"cols,omitempty"`
	Message string    `json:"message,omitempty"`
}

func InputFrame(data string) Frame {
	return Frame{Type: TypeInput, Data: data}
}

func ResizeFrame(rows, cols int) Frame {
	return Frame{Type: TypeResize, Rows: rows, Cols: cols}
}

func OutputFrame(data string) Frame {
	return Frame{Type: TypeOutput, Data: data}
}

func ErrorFrame(message string) Frame {
	return Frame{Type: TypeError, Message: message}
}

// ClientBound reports whether the frame travels server -> client.
func (f Frame) ClientBound() bool {
	return f.Type == TypeOutput || f.Type == TypeError
}

// ServerBound reports whether the frame travels client -> server.
func (f Frame) ServerBound() bool {
	return f.Type == TypeInput || f.Type == TypeResize
}

func (f Frame) Validate() error {
	switch f.Type {
	case TypeInput, TypeOutput:
		return nil
	case TypeResize:
		if f.Rows <= 0 || f.Cols <= 0 || f.Rows > 0xffff || f.Cols > 0xffff {
			return ErrInvalidResize
		}
		return nil
	case TypeError:
		if f.Message == "" {
			return ErrMissingMessage
		}
		return nil
	default:
		return ErrUnknownFrameType
	}
}
