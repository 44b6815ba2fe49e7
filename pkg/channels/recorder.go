package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
)

// Recorder is a dry-run sender. It keeps every message and acknowledges it with a
// synthetic provider id, or fails channels configured with FailChannel.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	fail map[model.Channel]error
	seq  int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[model.Channel]error)}
}

// FailChannel makes every send on ch return err. A nil err clears the failure.
func (r *Recorder) FailChannel(ch model.Channel, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, ch)
		return
	}
	r.fail[ch] = err
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(_ context.Context, msg Message) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	if err := r.fail[msg.Channel]; err != nil {
		return Receipt{}, err
	}
	r.seq++
	return Receipt{ProviderID: fmt.Sprintf("%s-%d", msg.Channel, r.seq), Status: "accepted"}, nil
}

// Messages returns a copy of everything sent so far, failed sends included.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// On returns the messages sent on ch.
func (r *Recorder) On(ch model.Channel) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Channel == ch {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets the recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
