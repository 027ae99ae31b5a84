package wa

import "encoding/json"

// Disconnect status codes reported by the gateway on connection close.
// 401 means the linked device was logged out and the stored credentials
// are no longer valid.
const StatusLoggedOut = 401

// ConnectionUpdate is a connection.update event from the session.
type ConnectionUpdate struct {
	Connection string `json:"connection"` // "connecting", "open", "close"
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
	QR         string `json:"qr,omitempty"`
}

// LoggedOut reports whether the close was caused by an explicit logout.
func (u ConnectionUpdate) LoggedOut() bool {
	return u.StatusCode == StatusLoggedOut
}

// MessageKey identifies a message within its conversation.
type MessageKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

// MessageEvent is one inbound message as delivered by the platform.
type MessageEvent struct {
	Key       MessageKey `json:"key"`
	PushName  string     `json:"pushName,omitempty"`
	Timestamp UnixTime   `json:"messageTimestamp,omitempty"`
	Message   *Payload   `json:"message,omitempty"`
}

// UnixTime is an epoch-seconds timestamp that unmarshals from either a
// plain JSON number or the platform's wide-integer wrapper object
// {"low": ..., "high": ..., "unsigned": ...}. A malformed value decodes as
// zero rather than failing the whole event; callers substitute the current
// time for zero.
type UnixTime int64

func (t *UnixTime) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*t = UnixTime(n)
		return nil
	}

	var wide struct {
		Low      uint32 `json:"low"`
		High     int32  `json:"high"`
		Unsigned bool   `json:"unsigned"`
	}
	if err := json.Unmarshal(data, &wide); err != nil {
		*t = 0
		return nil
	}
	*t = UnixTime(int64(wide.High)<<32 | int64(wide.Low))
	return nil
}

// ExtendedText is a quoted or link-preview text message.
type ExtendedText struct {
	Text string `json:"text,omitempty"`
}

// Media covers image and video content; only the caption matters here.
type Media struct {
	Caption string `json:"caption,omitempty"`
}

// Document is an attached file.
type Document struct {
	FileName string `json:"fileName,omitempty"`
}

// Location is a shared map pin.
type Location struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"degreesLatitude"`
	Longitude float64 `json:"degreesLongitude"`
}

// Contact is a shared contact card.
type Contact struct {
	DisplayName string `json:"displayName,omitempty"`
}

// Payload is the content of a message. Exactly one of the typed fields is
// normally set; raw keys are retained so unrecognized content can still be
// labeled by key name.
type Payload struct {
	Conversation string        `json:"conversation,omitempty"`
	ExtendedText *ExtendedText `json:"extendedTextMessage,omitempty"`
	Image        *Media        `json:"imageMessage,omitempty"`
	Video        *Media        `json:"videoMessage,omitempty"`
	Audio        *RawContent   `json:"audioMessage,omitempty"`
	Document     *Document     `json:"documentMessage,omitempty"`
	Sticker      *RawContent   `json:"stickerMessage,omitempty"`
	Location     *Location     `json:"locationMessage,omitempty"`
	Contact      *Contact      `json:"contactMessage,omitempty"`

	raw map[string]json.RawMessage
}

// RawContent is message content whose fields are irrelevant to relaying.
type RawContent struct{}

func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias Payload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &a.raw); err != nil {
		return err
	}
	*p = Payload(a)
	return nil
}

// Has reports whether the raw payload carried the given key.
func (p *Payload) Has(key string) bool {
	_, ok := p.raw[key]
	return ok
}
