package relay

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hypeer/warelay/internal/wa"
)

// groupSuffix marks a group conversation JID. It is a plain string-suffix
// convention, not something the platform is queried for.
const groupSuffix = "@g.us"

const defaultSenderName = "Unknown"

// rule pairs a content predicate with its kind and body builder. Rules are
// evaluated in order and the first match wins, so a malformed payload that
// nominally satisfies several predicates still classifies deterministically.
type rule struct {
	kind  Kind
	match func(p *wa.Payload) bool
	body  func(p *wa.Payload) string
}

var rules = []rule{
	{KindConversation,
		func(p *wa.Payload) bool { return p.Conversation != "" },
		func(p *wa.Payload) string { return p.Conversation }},
	{KindExtendedText,
		func(p *wa.Payload) bool { return p.ExtendedText != nil },
		func(p *wa.Payload) string {
			if p.ExtendedText.Text == "" {
				return "[No text content]"
			}
			return p.ExtendedText.Text
		}},
	{KindImage,
		func(p *wa.Payload) bool { return p.Image != nil },
		func(p *wa.Payload) string {
			return "[Image Message] " + orDefault(p.Image.Caption, "No caption")
		}},
	{KindVideo,
		func(p *wa.Payload) bool { return p.Video != nil },
		func(p *wa.Payload) string {
			return "[Video Message] " + orDefault(p.Video.Caption, "No caption")
		}},
	{KindAudio,
		func(p *wa.Payload) bool { return p.Audio != nil },
		func(p *wa.Payload) string { return "[Audio Message]" }},
	{KindDocument,
		func(p *wa.Payload) bool { return p.Document != nil },
		func(p *wa.Payload) string {
			return "[Document] " + orDefault(p.Document.FileName, "Unknown file")
		}},
	{KindSticker,
		func(p *wa.Payload) bool { return p.Sticker != nil },
		func(p *wa.Payload) string { return "[Sticker Message]" }},
	{KindLocation,
		func(p *wa.Payload) bool { return p.Location != nil },
		func(p *wa.Payload) string {
			loc := p.Location
			return fmt.Sprintf("[Location] %s - Lat: %s, Lng: %s",
				orDefault(loc.Name, "Unknown location"),
				formatDegrees(loc.Latitude), formatDegrees(loc.Longitude))
		}},
	{KindContact,
		func(p *wa.Payload) bool { return p.Contact != nil },
		func(p *wa.Payload) string {
			return "[Contact] " + orDefault(p.Contact.DisplayName, "Unknown contact")
		}},
}

// fallbackKeys enumerates payload keys that identify content we relay only
// as a label. Fixed order keeps the chosen label independent of JSON map
// iteration; anything not listed falls through to the catch-all.
var fallbackKeys = []string{
	"reactionMessage",
	"protocolMessage",
	"buttonsMessage",
	"buttonsResponseMessage",
	"templateMessage",
	"templateButtonReplyMessage",
	"listMessage",
	"listResponseMessage",
	"pollCreationMessage",
	"pollUpdateMessage",
	"orderMessage",
	"productMessage",
	"invoiceMessage",
	"liveLocationMessage",
	"ephemeralMessage",
	"viewOnceMessage",
	"groupInviteMessage",
	"callLogMessage",
	"ptvMessage",
}

// Classify turns one raw platform event into a NormalizedMessage. The second
// return is false when the event must be skipped: self-originated messages
// and events without payload content never produce a record. Classify is
// pure; calling it twice on the same event yields identical values apart
// from the wall-clock default applied to a missing timestamp.
func Classify(ev wa.MessageEvent) (*NormalizedMessage, bool) {
	if ev.Key.FromMe || ev.Message == nil {
		return nil, false
	}

	kind, body := classifyPayload(ev.Message)

	ts := int64(ev.Timestamp)
	if ts == 0 {
		ts = time.Now().Unix()
	}

	return &NormalizedMessage{
		ID:         ev.Key.ID,
		From:       ev.Key.RemoteJID,
		Body:       body,
		Timestamp:  ts,
		Kind:       kind,
		SenderName: orDefault(ev.PushName, defaultSenderName),
		IsGroup:    strings.HasSuffix(ev.Key.RemoteJID, groupSuffix),
	}, true
}

func classifyPayload(p *wa.Payload) (Kind, string) {
	for _, r := range rules {
		if r.match(p) {
			return r.kind, r.body(p)
		}
	}
	for _, key := range fallbackKeys {
		if p.Has(key) {
			label := strings.TrimSuffix(key, "Message")
			return KindUnsupported, "[" + label + " Message]"
		}
	}
	return KindUnsupported, "[Unknown message type]"
}

// FormatForLog renders a normalized message as a single human-readable log
// line, prefixing group messages with the group name.
func FormatForLog(msg *NormalizedMessage) string {
	if msg.IsGroup {
		return fmt.Sprintf("[GROUP: %s] %s: %s",
			orDefault(msg.GroupName, "Unknown"), msg.SenderName, msg.Body)
	}
	return fmt.Sprintf("%s: %s", msg.SenderName, msg.Body)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
