package msgsync

import (
	"time"

	"github.com/google/uuid"

	"dm-service/internal/models"
)

// View is the ordered message sequence of one open conversation. It is owned
// by a single goroutine (the Engine event loop, or a test); it does no
// locking of its own. Entries render in sequence order: reconciliation
// replaces an optimistic entry in place so the sender's own message keeps
// its position instead of jumping to the end.
type View struct {
	selfID    int
	partnerID int
	entries   []Entry
}

// NewView creates an empty view for the conversation between selfID and
// partnerID, as seen by selfID.
func NewView(selfID, partnerID int) *View {
	return &View{selfID: selfID, partnerID: partnerID}
}

// PartnerID reports the conversation partner.
func (v *View) PartnerID() int { return v.partnerID }

// Len reports the number of entries.
func (v *View) Len() int { return len(v.entries) }

// Entries returns a copy of the sequence.
func (v *View) Entries() []Entry {
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// ReplaceHistory replaces the whole sequence with the durable history,
// ordered oldest-first as fetched from the store.
func (v *View) ReplaceHistory(msgs []models.Message) {
	v.entries = v.entries[:0]
	for _, m := range msgs {
		v.entries = append(v.entries, Confirmed{Message: m})
	}
}

// SendLocal appends an optimistic entry for a new outgoing message and
// returns it. The local id is a fresh correlation token, never reused and
// never colliding with a durable id.
func (v *View) SendLocal(content string) Optimistic {
	opt := Optimistic{
		LocalID:    uuid.NewString(),
		Content:    content,
		SenderID:   v.selfID,
		ReceiverID: v.partnerID,
		CreatedAt:  time.Now(),
	}
	v.entries = append(v.entries, opt)
	return opt
}

// ConfirmSend reconciles the store's write response against the optimistic
// entry identified by localID. If the push event for the same message
// already arrived the durable id is present and the response is discarded;
// otherwise the optimistic entry is replaced in place.
func (v *View) ConfirmSend(localID string, msg models.Message) {
	if v.hasDurable(msg.ID) {
		// Push won the race and already reconciled this message. Drop the
		// optimistic entry if the push appended instead of replacing it.
		v.removeOptimistic(localID)
		return
	}
	if i := v.indexOfOptimistic(localID); i >= 0 {
		v.entries[i] = Confirmed{Message: msg}
		return
	}
	v.entries = append(v.entries, Confirmed{Message: msg})
}

// ReceivePush reconciles a message event from the push channel. Duplicate
// durable ids are discarded, making redelivery a no-op. An event for the
// viewer's own message replaces its pending optimistic twin in place; all
// other events append at the end.
func (v *View) ReceivePush(msg models.Message) {
	if v.hasDurable(msg.ID) {
		return
	}
	if msg.SenderID == v.selfID {
		if i := v.pendingTwin(msg); i >= 0 {
			v.entries[i] = Confirmed{Message: msg}
			return
		}
	}
	v.entries = append(v.entries, Confirmed{Message: msg})
}

// FailSend removes the optimistic entry for a failed write, restoring the
// sequence to its pre-send state. It reports whether an entry was removed;
// a false return means the entry was already reconciled.
func (v *View) FailSend(localID string) bool {
	return v.removeOptimistic(localID)
}

// pendingTwin locates the optimistic entry matching an inbound durable
// message sent by the viewer. A message carrying a correlation token matches
// only on that token: a tokenless match by content would risk consuming the
// twin of a different in-flight send with identical text. Tokenless events
// (from another device of the same user) fall back to content equality.
func (v *View) pendingTwin(msg models.Message) int {
	if msg.ClientToken != "" {
		return v.indexOfOptimistic(msg.ClientToken)
	}
	for i, e := range v.entries {
		if opt, ok := e.(Optimistic); ok && opt.Content == msg.Content {
			return i
		}
	}
	return -1
}

func (v *View) hasDurable(id int) bool {
	for _, e := range v.entries {
		if c, ok := e.(Confirmed); ok && c.Message.ID == id {
			return true
		}
	}
	return false
}

func (v *View) indexOfOptimistic(localID string) int {
	for i, e := range v.entries {
		if opt, ok := e.(Optimistic); ok && opt.LocalID == localID {
			return i
		}
	}
	return -1
}

func (v *View) removeOptimistic(localID string) bool {
	i := v.indexOfOptimistic(localID)
	if i < 0 {
		return false
	}
	v.entries = append(v.entries[:i], v.entries[i+1:]...)
	return true
}
