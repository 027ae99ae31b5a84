package relay

import (
	"context"
	"log/slog"

	"github.com/hypeer/warelay/internal/wa"
)

// fallbackReply is the only end-user-facing failure signal: it is sent back
// into the conversation when every delivery attempt for a message failed.
const fallbackReply = "Sorry, I encountered an error processing your request. Please try again later."

const replyLogLimit = 50

// Pipeline relays one inbound event: normalize, deliver to the workflow
// endpoint, and send any reply text back into the originating conversation.
// Each Handle call runs its steps as one uninterrupted sequence; distinct
// events may be handled concurrently.
type Pipeline struct {
	deliverer Deliverer
	sender    Sender
}

func NewPipeline(deliverer Deliverer, sender Sender) *Pipeline {
	return &Pipeline{deliverer: deliverer, sender: sender}
}

// Handle processes one raw inbound event. It has no return value: every
// failure either degrades to the fallback reply or is logged for the
// operator only.
func (p *Pipeline) Handle(ctx context.Context, ev wa.MessageEvent) {
	msg, ok := Classify(ev)
	if !ok {
		return
	}
	slog.Info("message received", "summary", FormatForLog(msg), "kind", msg.Kind, "id", msg.ID)

	outcome := p.deliverer.Deliver(ctx, msg)
	if !outcome.Success {
		slog.Error("webhook delivery failed", "id", msg.ID, "error", outcome.Error)
		p.reply(ctx, msg.From, fallbackReply)
		return
	}

	if outcome.Output == "" {
		slog.Info("no output from webhook, nothing to send", "id", msg.ID)
		return
	}
	p.reply(ctx, msg.From, outcome.Output)
}

// reply sends body back through the session. A reply while disconnected is
// a logged no-op; a failed send is logged and never retried.
func (p *Pipeline) reply(ctx context.Context, to, body string) {
	if !p.sender.Connected() {
		slog.Warn("cannot send reply: session not connected", "to", to)
		return
	}
	if err := p.sender.SendText(ctx, to, body); err != nil {
		slog.Error("failed to send reply", "to", to, "error", err)
		return
	}
	slog.Info("reply sent", "to", to, "body", truncate(body, replyLogLimit))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
