package channels

import (
	"context"
	"fmt"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"golang.org/x/time/rate"
)

// Throttled limits the send rate of a Sender.
type Throttled struct {
	Sender
	limiter *rate.Limiter
}

// NewThrottled allows perSecond sends with the given burst.
func NewThrottled(s Sender, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{Sender: s, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("%s throttle: %w", t.Name(), err)
	}
	return t.Sender.Send(ctx, msg)
}

// Router dispatches messages to the sender registered for their channel.
type Router struct {
	senders map[model.Channel]Sender
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{senders: make(map[model.Channel]Sender)}
}

// Register sets the sender for a channel, replacing any previous one.
func (r *Router) Register(ch model.Channel, s Sender) *Router {
	r.senders[ch] = s
	return r
}

// Has reports whether a sender is registered for ch.
func (r *Router) Has(ch model.Channel) bool {
	_, ok := r.senders[ch]
	return ok
}

func (r *Router) Name() string { return "router" }

func (r *Router) Send(ctx context.Context, msg Message) (Receipt, error) {
	s, ok := r.senders[msg.Channel]
	if !ok {
		return Receipt{}, fmt.Errorf("no sender for channel %q", msg.Channel)
	}
	return s.Send(ctx, msg)
}

// ContactMessages builds one message per reachable channel of a contact: a chat push
// when it has a chat handle and an SMS when it has a phone. Both may be returned.
func ContactMessages(c model.Contact, base Message, template, reason string) []Message {
	var out []Message
	if c.ChatHandle != "" {
		m := base
		m.Channel = model.ChannelChatPush
		m.Recipient = c.ChatHandle
		m.Template = template
		out = append(out, m)
	}
	if c.Phone != "" {
		m := base
		m.Channel = model.ChannelSMS
		m.Recipient = c.Phone
		m.Reason = reason
		out = append(out, m)
	}
	return out
}
