package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/gammactl/internal/protocol/frame"
	"github.com/danmuck/gammactl/internal/protocol/tlv"
)

// MessageType is the frame message type of a request or event.
type MessageType uint32

const (
	// requests
	TypeBind            MessageType = 1
	TypeGetGammaControl MessageType = 2
	TypeSetGamma        MessageType = 3
	TypeDestroy         MessageType = 4

	// events
	TypeGammaSize MessageType = 0x101
	TypeFailed    MessageType = 0x102
	TypeError     MessageType = 0x103
)

func (t MessageType) String() string {
	switch t {
	case TypeBind:
		return "bind"
	case TypeGetGammaControl:
		return "get_gamma_control"
	case TypeSetGamma:
		return "set_gamma"
	case TypeDestroy:
		return "destroy"
	case TypeGammaSize:
		return "gamma_size"
	case TypeFailed:
		return "failed"
	case TypeError:
		return "error"
	default:
		return fmt.Sprintf("type(%#x)", uint32(t))
	}
}

func (t MessageType) isEvent() bool {
	return t&0x100 != 0
}

// Envelope payload field ids.
const (
	FieldObject    uint16 = 1
	FieldID        uint16 = 2
	FieldInterface uint16 = 3
	FieldVersion   uint16 = 4
	FieldOutput    uint16 = 5
	FieldSize      uint16 = 6
	FieldCode      uint16 = 7
	FieldMessage   uint16 = 8
)

// Connection-level error codes. Code 1 is the gamma control invalid_gamma
// error.
const (
	CodeInvalidGamma   uint32 = 1
	CodeNoMemory       uint32 = 2
	CodeInvalidObject  uint32 = 3
	CodeInvalidRequest uint32 = 4
)

var (
	ErrInvalidEnvelope  = errors.New("transport: invalid envelope")
	ErrEnvelopeTooLarge = errors.New("transport: envelope too large")
)

// WireLimits bounds one datagram on the socket.
var WireLimits = frame.DefaultLimits()

// Envelope is the decoded form of one frame, request or event.
type Envelope struct {
	Type      MessageType
	Object    uint32
	ID        uint32
	Interface string
	Version   uint32
	Output    string
	Size      uint32
	Code      uint32
	Message   string
}

// Validate checks the fields each message type requires.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeBind:
		if strings.TrimSpace(e.Interface) == "" {
			return fmt.Errorf("%w: bind missing interface", ErrInvalidEnvelope)
		}
		if e.ID == 0 {
			return fmt.Errorf("%w: bind missing id", ErrInvalidEnvelope)
		}
		if e.Version == 0 {
			return fmt.Errorf("%w: bind missing version", ErrInvalidEnvelope)
		}
	case TypeGetGammaControl:
		if e.Object == 0 || e.ID == 0 {
			return fmt.Errorf("%w: get_gamma_control missing object or id", ErrInvalidEnvelope)
		}
		if strings.TrimSpace(e.Output) == "" {
			return fmt.Errorf("%w: get_gamma_control missing output", ErrInvalidEnvelope)
		}
	case TypeSetGamma, TypeDestroy:
		if e.Object == 0 {
			return fmt.Errorf("%w: %s missing object", ErrInvalidEnvelope, e.Type)
		}
	case TypeGammaSize, TypeFailed, TypeError:
	default:
		return fmt.Errorf("%w: unknown type %s", ErrInvalidEnvelope, e.Type)
	}
	return nil
}

func (e Envelope) fields() []tlv.Field {
	fields := make([]tlv.Field, 0, 4)
	u32 := func(id uint16, v uint32) {
		if v != 0 {
			fields = append(fields, tlv.U32(id, v))
		}
	}
	str := func(id uint16, v string) {
		if v != "" {
			fields = append(fields, tlv.String(id, v))
		}
	}
	u32(FieldObject, e.Object)
	u32(FieldID, e.ID)
	str(FieldInterface, e.Interface)
	u32(FieldVersion, e.Version)
	str(FieldOutput, e.Output)
	u32(FieldSize, e.Size)
	u32(FieldCode, e.Code)
	str(FieldMessage, e.Message)
	return fields
}

func encodeEnvelope(e Envelope) ([]byte, error) {
	h := frame.Header{MessageType: uint32(e.Type)}
	if e.Type.isEvent() {
		h.Flags |= frame.FlagIsEvent
	}
	if e.Type == TypeError {
		h.Flags |= frame.FlagIsError
	}
	b, err := frame.Marshal(frame.Frame{Header: h, Payload: tlv.EncodeFields(e.fields())}, WireLimits)
	if errors.Is(err, frame.ErrPayloadTooLarge) {
		return nil, fmt.Errorf("%w: %s", ErrEnvelopeTooLarge, e.Type)
	}
	return b, err
}

func decodeEnvelope(datagram []byte) (Envelope, error) {
	if len(datagram) > WireLimits.MaxFrameBytes() {
		return Envelope{}, ErrEnvelopeTooLarge
	}
	f, err := frame.Unmarshal(datagram, WireLimits)
	if err != nil {
		if errors.Is(err, frame.ErrPayloadTooLarge) {
			return Envelope{}, ErrEnvelopeTooLarge
		}
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	e := Envelope{Type: MessageType(f.Header.MessageType)}
	isError := f.Header.Flags&frame.FlagIsError != 0
	if isError != (e.Type == TypeError) || (f.Header.Flags&frame.FlagIsEvent != 0) != e.Type.isEvent() {
		return Envelope{}, fmt.Errorf("%w: flags %#x do not match %s", ErrInvalidEnvelope, f.Header.Flags, e.Type)
	}

	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	for _, fl := range fields {
		if err := e.setField(fl); err != nil {
			return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
		}
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// setField stores one payload field. Unknown ids are ignored.
func (e *Envelope) setField(f tlv.Field) error {
	var err error
	switch f.ID {
	case FieldObject:
		e.Object, err = f.Uint32()
	case FieldID:
		e.ID, err = f.Uint32()
	case FieldInterface:
		e.Interface, err = f.Str()
	case FieldVersion:
		e.Version, err = f.Uint32()
	case FieldOutput:
		e.Output, err = f.Str()
	case FieldSize:
		e.Size, err = f.Uint32()
	case FieldCode:
		e.Code, err = f.Uint32()
	case FieldMessage:
		e.Message, err = f.Str()
	}
	return err
}
