package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hanapbuhay/chat-service/internal/ws"
)

// Status marks whether an entry has been acknowledged by the server.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
)

// ScrollSignal tells the renderer what to do with the viewport after a change.
type ScrollSignal int

const (
	ScrollNone ScrollSignal = iota
	ScrollInstant
	ScrollSmooth
)

// fuzzyWindow bounds the timestamp distance for matching a server echo to a
// pending entry when no client token is available.
const fuzzyWindow = 5 * time.Second

// Entry is one rendered message. A locally sent message starts as a pending
// entry and is confirmed in place when the server's copy arrives; it never
// appears twice.
type Entry struct {
	LocalID    string
	ServerID   int64
	SenderID   int64
	SenderName string
	Content    string
	CreatedAt  time.Time
	Status     Status
	ReadBy     []int64
}

// Incoming is a server-acknowledged message feeding the view, from history
// pages and live events alike.
type Incoming struct {
	ID          int64
	SenderID    int64
	SenderName  string
	Content     string
	ClientToken string
	CreatedAt   time.Time
	ReadBy      []int64
}

// FromEvent converts a live message frame into the view's input shape.
func FromEvent(ev *ws.Event) Incoming {
	return Incoming{
		ID:          ev.MessageID,
		SenderID:    ev.SenderID,
		SenderName:  ev.SenderName,
		Content:     ev.Content,
		ClientToken: ev.ClientToken,
		CreatedAt:   ev.CreatedAt,
	}
}

// View is the ordered message list backing one open conversation. It owns
// optimistic sends, exactly-once reconciliation of server echoes, read-set
// growth, and the auto-scroll decision. Safe for concurrent use.
type View struct {
	mu sync.Mutex

	selfID int64
	roomID int64
	clock  clockwork.Clock

	entries    []*Entry
	byServerID map[int64]*Entry
	byToken    map[string]*Entry

	atBottom   bool
	generation uint64
}

func NewView(roomID, selfID int64, clock clockwork.Clock) *View {
	return &View{
		selfID:     selfID,
		roomID:     roomID,
		clock:      clock,
		byServerID: make(map[int64]*Entry),
		byToken:    make(map[string]*Entry),
		atBottom:   true,
	}
}

// RoomID returns the room this view renders.
func (v *View) RoomID() int64 {
	return v.roomID
}

// AppendLocal inserts a pending entry for a message the user just typed and
// returns it. The entry's LocalID doubles as the idempotency token the caller
// must send as client_token, which is how the server echo finds its way back
// to this exact entry. The viewport always follows the user's own send.
func (v *View) AppendLocal(content string) (Entry, ScrollSignal) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e := &Entry{
		LocalID:   uuid.NewString(),
		SenderID:  v.selfID,
		Content:   content,
		CreatedAt: v.clock.Now(),
		Status:    StatusPending,
	}
	v.entries = append(v.entries, e)
	v.byToken[e.LocalID] = e
	return *e, ScrollSmooth
}

// ApplyMessage reconciles a server-acknowledged message into the view,
// exactly once regardless of whether the optimistic echo or the server copy
// arrives first. Matching order: known server id, client token, then for the
// user's own messages a same-content pending entry within a small time
// window, then the oldest pending entry. Unmatched messages insert in
// (created_at, id) order.
func (v *View) ApplyMessage(in Incoming) ScrollSignal {
	v.mu.Lock()
	defer v.mu.Unlock()

	if e, ok := v.byServerID[in.ID]; ok {
		mergeReads(e, in.ReadBy)
		return ScrollNone
	}

	if e := v.matchPending(in); e != nil {
		v.confirm(e, in)
		return ScrollNone
	}

	e := &Entry{
		ServerID:   in.ID,
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		Content:    in.Content,
		CreatedAt:  in.CreatedAt,
		Status:     StatusConfirmed,
		ReadBy:     append([]int64(nil), in.ReadBy...),
	}
	v.insertSorted(e)
	v.byServerID[in.ID] = e

	if v.atBottom {
		return ScrollSmooth
	}
	return ScrollNone
}

// matchPending finds the pending entry a server message confirms, or nil.
func (v *View) matchPending(in Incoming) *Entry {
	if in.ClientToken != "" {
		if e, ok := v.byToken[in.ClientToken]; ok {
			return e
		}
	}
	if in.SenderID != v.selfID {
		return nil
	}

	var oldest *Entry
	for _, e := range v.entries {
		if e.Status != StatusPending {
			continue
		}
		if e.Content == in.Content && absDuration(e.CreatedAt.Sub(in.CreatedAt)) <= fuzzyWindow {
			return e
		}
		if oldest == nil {
			oldest = e
		}
	}
	return oldest
}

func (v *View) confirm(e *Entry, in Incoming) {
	delete(v.byToken, e.LocalID)
	e.ServerID = in.ID
	e.SenderName = in.SenderName
	e.CreatedAt = in.CreatedAt
	e.Status = StatusConfirmed
	mergeReads(e, in.ReadBy)
	v.byServerID[in.ID] = e
	v.resort()
}

// ApplyRead adds a reader to the read set of each referenced message.
func (v *View) ApplyRead(userID int64, messageIDs []int64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range messageIDs {
		if e, ok := v.byServerID[id]; ok {
			mergeReads(e, []int64{userID})
		}
	}
}

// NextGeneration invalidates any in-flight history load and returns the
// token the next SetHistory call must present. Callers take a generation,
// fetch, then apply; a fetch that lost a race with a newer load is dropped.
func (v *View) NextGeneration() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.generation++
	return v.generation
}

// SetHistory replaces the confirmed entries with a freshly loaded page set,
// keeping unacknowledged pending sends. Returns false without touching the
// view when the generation is stale. A fresh load pins the viewport to the
// bottom instantly.
func (v *View) SetHistory(generation uint64, msgs []Incoming) (ScrollSignal, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if generation != v.generation {
		return ScrollNone, false
	}

	var pending []*Entry
	for _, e := range v.entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}

	v.entries = v.entries[:0]
	v.byServerID = make(map[int64]*Entry, len(msgs))
	for _, in := range msgs {
		e := &Entry{
			ServerID:   in.ID,
			SenderID:   in.SenderID,
			SenderName: in.SenderName,
			Content:    in.Content,
			CreatedAt:  in.CreatedAt,
			Status:     StatusConfirmed,
			ReadBy:     append([]int64(nil), in.ReadBy...),
		}
		v.entries = append(v.entries, e)
		v.byServerID[in.ID] = e
	}
	v.entries = append(v.entries, pending...)
	v.resort()

	return ScrollInstant, true
}

// SetAtBottom records whether the viewport currently rests at the newest
// message. Only then does a newly arriving message pull the view down.
func (v *View) SetAtBottom(atBottom bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.atBottom = atBottom
}

// Entries returns a snapshot of the rendered list in display order.
func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	res := make([]Entry, len(v.entries))
	for i, e := range v.entries {
		res[i] = *e
		res[i].ReadBy = append([]int64(nil), e.ReadBy...)
	}
	return res
}

// UnreadFrom returns the server ids of confirmed messages from other senders
// that the given predicate does not already count as read, for building
// mark-read requests.
func (v *View) UnreadFrom(selfReadBy func(e Entry) bool) []int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	var ids []int64
	for _, e := range v.entries {
		if e.Status != StatusConfirmed || e.SenderID == v.selfID {
			continue
		}
		if selfReadBy != nil && selfReadBy(*e) {
			continue
		}
		ids = append(ids, e.ServerID)
	}
	return ids
}

func (v *View) insertSorted(e *Entry) {
	idx := sort.Search(len(v.entries), func(i int) bool {
		return entryLess(e, v.entries[i])
	})
	v.entries = append(v.entries, nil)
	copy(v.entries[idx+1:], v.entries[idx:])
	v.entries[idx] = e
}

func (v *View) resort() {
	sort.SliceStable(v.entries, func(i, j int) bool {
		return entryLess(v.entries[i], v.entries[j])
	})
}

// entryLess orders by (created_at, server id); pending entries, which have no
// server id yet, sort after confirmed ones at the same instant.
func entryLess(a, b *Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.Status != b.Status {
		return a.Status == StatusConfirmed
	}
	return a.ServerID < b.ServerID
}

func mergeReads(e *Entry, readers []int64) {
	for _, r := range readers {
		found := false
		for _, have := range e.ReadBy {
			if have == r {
				found = true
				break
			}
		}
		if !found {
			e.ReadBy = append(e.ReadBy, r)
		}
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
