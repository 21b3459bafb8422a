package ws

import "encoding/json"

// inbound
const (
	EventIdentityAnnounce = "identity-announce"
	EventSendMessage      = "send-message"
	EventTyping           = "typing"
	EventStopTyping       = "stop-typing"
)

// outbound
const (
	EventOnlineUsers    = "online-users"
	EventReceiveMessage = "receive-message"
	EventMessageSent    = "message-sent"
	EventMessageError   = "message-error"
	EventUserTyping     = "user-typing"
	EventUserStopTyping = "user-stop-typing"
	EventError          = "error"
)

// Envelope is the wire format for every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type announcePayload struct {
	Identity string `json:"identity"`
}

type sendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver"`
	Message        string `json:"message"`
	SenderName     string `json:"senderName"`
	SenderPhoto    string `json:"senderPhoto"`
}

type typingPayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

type typingNotice struct {
	Sender string `json:"sender"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
