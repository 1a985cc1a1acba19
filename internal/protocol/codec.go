package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrUnknownAction = errors.New("unknown canvas command action")
)

// Encode marshals msg with its "type" discriminator.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("encode nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	return withDiscriminator("type", string(msg.MessageType()), body)
}

// Decode parses one inbound frame into its concrete message type.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var msg Message
	var err error
	switch head.Type {
	case TypeVoiceStart:
		msg, err = decodeAs[VoiceStart](data)
	case TypeVoiceAudio:
		msg, err = decodeAs[VoiceAudio](data)
	case TypeVoiceEnd:
		msg = VoiceEnd{}
	case TypeTextMessage:
		msg, err = decodeAs[TextMessage](data)
	case TypeCanvasUpdate:
		msg, err = decodeAs[CanvasUpdate](data)
	case TypeCanvasChange:
		msg, err = decodeAs[CanvasChange](data)
	case TypeVoiceState:
		msg, err = decodeAs[VoiceState](data)
	case TypeVoiceTranscript:
		msg, err = decodeAs[VoiceTranscript](data)
	case TypeCanvasCommand:
		msg, err = decodeAs[CanvasCommandMessage](data)
	case TypeTutorStatus:
		msg, err = decodeAs[TutorStatus](data)
	case TypeCelebrate:
		msg, err = decodeAs[Celebrate](data)
	case TypeSessionReady:
		msg = SessionReady{}
	case TypeClearCheckContext:
		msg = ClearCheckContext{}
	case TypeError:
		msg, err = decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return msg, nil
}

// EncodeCommand marshals cmd with its "action" discriminator.
func EncodeCommand(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("encode nil command")
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Action(), err)
	}
	return withDiscriminator("action", string(cmd.Action()), body)
}

// DecodeCommand parses one canvas command by its action.
func DecodeCommand(data []byte) (Command, error) {
	var head struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	var cmd Command
	var err error
	switch head.Action {
	case ActionAddShape:
		cmd, err = decodeAs[AddShape](data)
	case ActionAddAnimatedText:
		text := AddAnimatedText{X: DefaultTextX, Y: DefaultTextY, Color: DefaultTextColor, Size: DefaultTextSize}
		err = json.Unmarshal(data, &text)
		cmd = text
	case ActionUpdateShape:
		cmd, err = decodeAs[UpdateShape](data)
	case ActionDeleteShape:
		cmd, err = decodeAs[DeleteShape](data)
	case ActionHighlight:
		cmd, err = decodeAs[Highlight](data)
	case ActionPanTo:
		cmd, err = decodeAs[PanTo](data)
	case ActionAttentionTo:
		cmd, err = decodeAs[AttentionTo](data)
	case ActionClearAttention:
		cmd = ClearAttention{}
	case ActionClearCanvas:
		cmd = ClearCanvas{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, head.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Action, err)
	}
	return cmd, nil
}

// MarshalJSON writes the command with its action discriminator.
func (m CanvasCommandMessage) MarshalJSON() ([]byte, error) {
	cmd, err := EncodeCommand(m.Command)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Command json.RawMessage `json:"command"`
	}{Command: cmd})
}

func (m *CanvasCommandMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Command json.RawMessage `json:"command"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Command) == 0 {
		return errors.New("missing command")
	}
	cmd, err := DecodeCommand(raw.Command)
	if err != nil {
		return err
	}
	m.Command = cmd
	return nil
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// withDiscriminator prepends key:value to a marshalled JSON object.
func withDiscriminator(key, value string, body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%s %q does not encode to a JSON object", key, value)
	}
	k, _ := json.Marshal(key)
	v, _ := json.Marshal(value)

	var buf bytes.Buffer
	buf.Grow(len(body) + len(k) + len(v) + 2)
	buf.WriteByte('{')
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	if rest := bytes.TrimSpace(body[1:]); len(rest) > 0 && rest[0] != '}' {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}
