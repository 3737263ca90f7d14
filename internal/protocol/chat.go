package protocol

import "encoding/json"

// ChatFrame is an inbound frame on the chat socket.
type ChatFrame interface {
	Frame
	chatFrame()
}

// MessageFrame is a message pushed by a peer (or the echo of our own send).
type MessageFrame struct {
	MessageID      int64    `json:"messageId,omitempty"`
	SenderID       int64    `json:"senderId"`
	RecipientID    int64    `json:"recipientId,omitempty"`
	MessageContent string   `json:"messageContent"`
	SentDate       WireDate `json:"sentDate"`
}

func (MessageFrame) FrameType() string { return TypeMessage }

// ConversationReadFrame tells us the peer has read our side of the conversation.
type ConversationReadFrame struct {
	SenderID int64 `json:"senderId"`
}

func (ConversationReadFrame) FrameType() string { return TypeConversationRead }

// SuccessFrame is a generic server acknowledgement.
type SuccessFrame struct {
	Message string `json:"message,omitempty"`
}

func (SuccessFrame) FrameType() string { return TypeSuccess }

func (MessageFrame) chatFrame()          {}
func (ConversationReadFrame) chatFrame() {}
func (SuccessFrame) chatFrame()          {}
func (PingFrame) chatFrame()             {}
func (AuthenticatedFrame) chatFrame()    {}
func (AuthFailedFrame) chatFrame()       {}
func (UnknownFrame) chatFrame()          {}

// DecodeChat decodes one chat socket frame.
func DecodeChat(data []byte) (ChatFrame, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeMessage:
		return decodeInto[MessageFrame](typ, data)
	case TypeConversationRead:
		return decodeInto[ConversationReadFrame](typ, data)
	case TypeSuccess:
		return decodeInto[SuccessFrame](typ, data)
	case TypeAuthenticated:
		return decodeInto[AuthenticatedFrame](typ, data)
	case TypeAuthFailed:
		return decodeInto[AuthFailedFrame](typ, data)
	case TypePing:
		return PingFrame{}, nil
	default:
		return UnknownFrame{Type: typ, Raw: json.RawMessage(data)}, nil
	}
}

// OutgoingMessage is the only frame the client originates on the chat socket
// besides PONG.
type OutgoingMessage struct {
	Type        string `json:"type"`
	RecipientID int64  `json:"recipientId"`
	Message     string `json:"message"`
}

// NewOutgoingMessage builds a MESSAGE frame for recipientID.
func NewOutgoingMessage(recipientID int64, text string) OutgoingMessage {
	return OutgoingMessage{Type: TypeMessage, RecipientID: recipientID, Message: text}
}
