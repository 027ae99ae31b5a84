package relay

import "context"

// Kind classifies the content of a normalized message. Values double as the
// wire `type` field of the webhook envelope.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindExtendedText Kind = "extendedText"
	KindImage        Kind = "image"
	KindVideo        Kind = "video"
	KindAudio        Kind = "audio"
	KindDocument     Kind = "document"
	KindSticker      Kind = "sticker"
	KindLocation     Kind = "location"
	KindContact      Kind = "contact"
	KindUnsupported  Kind = "unsupported"
)

// NormalizedMessage is the platform-agnostic representation of one inbound
// message. It is immutable once produced by Classify.
type NormalizedMessage struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	Body       string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
	Kind       Kind   `json:"type"`
	SenderName string `json:"senderName"`
	GroupName  string `json:"groupName,omitempty"`
	IsGroup    bool   `json:"isGroup"`
}

// Outcome is the result of one webhook delivery attempt sequence. Output is
// the reply text extracted from the endpoint's response; empty means the
// endpoint returned none. Fields carries any other top-level response fields.
type Outcome struct {
	Success bool
	Output  string
	Error   string
	Fields  map[string]any
}

// Deliverer hands a normalized message to the external workflow endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, msg *NormalizedMessage) Outcome
}

// Sender sends reply text back through the active platform session.
type Sender interface {
	Connected() bool
	SendText(ctx context.Context, to, body string) error
}
