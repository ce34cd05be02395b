package client

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"messenger-service/internal/models"
)

// Status is the local delivery state of a message. It is never persisted.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Entry is one message of the open conversation as the user sees it.
// TempID is set for locally initiated sends until the server confirms them.
type Entry struct {
	models.Message
	TempID   string `json:"tempId,omitempty"`
	Status   Status `json:"status"`
	ShowSeen bool   `json:"showSeen"`
}

// Synchronizer holds the message list of the open conversation and reconciles
// optimistic local changes with confirmed server events. It is not safe for
// concurrent use; Session drives it from a single goroutine.
type Synchronizer struct {
	self    int
	peer    int
	entries []Entry
	// last confirmed reactions per message, used to roll back optimistic toggles
	confirmed map[int][]models.Reaction
	// receipts that arrived before the send they acknowledge was confirmed
	earlySeen map[int]bool
	newID     func() string
}

// NewSynchronizer builds a Synchronizer for the user self.
func NewSynchronizer(self int) *Synchronizer {
	return &Synchronizer{
		self:      self,
		confirmed: make(map[int][]models.Reaction),
		earlySeen: make(map[int]bool),
		newID:     uuid.NewString,
	}
}

// Peer returns the open conversation's peer, or 0.
func (s *Synchronizer) Peer() int { return s.peer }

// Open selects peerID and clears the list until Load delivers its history.
func (s *Synchronizer) Open(peerID int) {
	if s.peer == peerID {
		return
	}
	s.peer = peerID
	s.entries = nil
	s.confirmed = make(map[int][]models.Reaction)
	s.earlySeen = make(map[int]bool)
}

// Load replaces the list with fetched history. Entries the history does not
// know yet, confirmed after it was read or still unconfirmed, are kept after it.
func (s *Synchronizer) Load(peerID int, history []models.Message) {
	if peerID != s.peer {
		return
	}
	known := make(map[int]bool, len(history))
	for _, msg := range history {
		known[msg.ID] = true
	}
	var newer []Entry
	for _, e := range s.entries {
		if e.TempID != "" || !known[e.ID] {
			newer = append(newer, e)
		}
	}

	s.entries = make([]Entry, 0, len(history)+len(newer))
	for _, msg := range history {
		s.entries = append(s.entries, Entry{Message: msg, Status: StatusSent})
		s.confirmed[msg.ID] = msg.Reactions
	}
	s.entries = append(s.entries, newer...)
}

// BeginSend inserts a temporary message in Sending state and returns it.
func (s *Synchronizer) BeginSend(text, image string, now time.Time) Entry {
	e := Entry{
		Message: models.Message{
			SenderID:   s.self,
			ReceiverID: s.peer,
			Text:       text,
			Image:      image,
			CreatedAt:  now,
		},
		TempID: s.newID(),
		Status: StatusSending,
	}
	s.entries = append(s.entries, e)
	return e
}

// ConfirmSend swaps the temporary message for the stored one in place. If the
// stored id is already listed the temporary entry is dropped instead.
func (s *Synchronizer) ConfirmSend(tempID string, msg models.Message) bool {
	i := s.indexTemp(tempID)
	if i < 0 {
		return false
	}
	s.confirmed[msg.ID] = msg.Reactions
	if s.indexID(msg.ID) >= 0 {
		s.entries = slices.Delete(s.entries, i, i+1)
		return true
	}
	if s.earlySeen[msg.ID] {
		msg.Seen = true
		delete(s.earlySeen, msg.ID)
	}
	s.entries[i] = Entry{Message: msg, Status: StatusSent}
	return true
}

// FailSend moves a Sending message to Error. Confirmed or unknown ids are ignored.
func (s *Synchronizer) FailSend(tempID string) bool {
	i := s.indexTemp(tempID)
	if i < 0 || s.entries[i].Status != StatusSending {
		return false
	}
	s.entries[i].Status = StatusError
	return true
}

// Retry moves an Error message back to Sending and returns it for re-issue.
func (s *Synchronizer) Retry(tempID string) (Entry, bool) {
	i := s.indexTemp(tempID)
	if i < 0 || s.entries[i].Status != StatusError {
		return Entry{}, false
	}
	s.entries[i].Status = StatusSending
	return s.entries[i], true
}

// ApplyIncoming adds a message pushed by the server. It reports whether the
// message belongs to the open conversation and was newly marked seen, in which
// case the caller owes the sender a seen receipt. Repeats are ignored.
func (s *Synchronizer) ApplyIncoming(msg models.Message) bool {
	if s.peer == 0 || !msg.Between(s.self, s.peer) {
		return false
	}
	if s.indexID(msg.ID) >= 0 {
		return false
	}

	receipt := false
	if msg.SenderID == s.peer && !msg.Seen {
		msg.Seen = true
		receipt = true
	}
	s.entries = append(s.entries, Entry{Message: msg, Status: StatusSent})
	s.confirmed[msg.ID] = msg.Reactions
	return receipt
}

// ApplySeen records a seen receipt for one of the user's messages.
func (s *Synchronizer) ApplySeen(messageID int) bool {
	i := s.indexID(messageID)
	if i < 0 {
		if s.hasPending() {
			s.earlySeen[messageID] = true
		}
		return false
	}
	if s.entries[i].Seen {
		return false
	}
	s.entries[i].Seen = true
	return true
}

// ApplyDeleted removes a message deleted by its sender.
func (s *Synchronizer) ApplyDeleted(messageID int) bool {
	i := s.indexID(messageID)
	if i < 0 {
		return false
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	delete(s.confirmed, messageID)
	return true
}

// ApplyConversationDeleted empties the list when the deleted pair is the open
// one. The selection stays so the view shows an empty conversation. Unconfirmed
// sends stay too: the server has not stored them yet.
func (s *Synchronizer) ApplyConversationDeleted(ev models.ConversationDeleted) bool {
	if s.peer == 0 {
		return false
	}
	pair := (ev.DeletedBy == s.self && ev.DeletedWith == s.peer) || (ev.DeletedBy == s.peer && ev.DeletedWith == s.self)
	if !pair {
		return false
	}
	s.entries = slices.DeleteFunc(s.entries, func(e Entry) bool { return e.TempID == "" })
	s.confirmed = make(map[int][]models.Reaction)
	return true
}

// ToggleReaction applies the user's reaction change before the server answers.
func (s *Synchronizer) ToggleReaction(messageID int, emoji string, now time.Time) bool {
	i := s.indexID(messageID)
	if i < 0 {
		return false
	}
	s.entries[i].Reactions = models.ToggleReaction(s.entries[i].Reactions, s.self, emoji, now)
	return true
}

// ApplyReaction records the server's reactions for a message.
func (s *Synchronizer) ApplyReaction(msg models.Message) bool {
	s.confirmed[msg.ID] = msg.Reactions
	i := s.indexID(msg.ID)
	if i < 0 {
		return false
	}
	s.entries[i].Reactions = msg.Reactions
	return true
}

// RollbackReaction restores the last confirmed reactions after a rejected toggle.
func (s *Synchronizer) RollbackReaction(messageID int) bool {
	i := s.indexID(messageID)
	if i < 0 {
		return false
	}
	s.entries[i].Reactions = s.confirmed[messageID]
	return true
}

// Entries returns a copy of the visible list. Only the newest message may show
// its seen indicator, and only when the user sent it.
func (s *Synchronizer) Entries() []Entry {
	out := slices.Clone(s.entries)
	for i := range out {
		out[i].Reactions = slices.Clone(out[i].Reactions)
		out[i].ShowSeen = false
	}
	if n := len(out); n > 0 {
		last := &out[n-1]
		last.ShowSeen = last.Seen && last.SenderID == s.self && last.Status == StatusSent
	}
	return out
}

func (s *Synchronizer) hasPending() bool {
	return slices.ContainsFunc(s.entries, func(e Entry) bool { return e.Status == StatusSending })
}

func (s *Synchronizer) indexTemp(tempID string) int {
	if tempID == "" {
		return -1
	}
	return slices.IndexFunc(s.entries, func(e Entry) bool { return e.TempID == tempID })
}

func (s *Synchronizer) indexID(id int) int {
	if id == 0 {
		return -1
	}
	return slices.IndexFunc(s.entries, func(e Entry) bool { return e.ID == id && e.TempID == "" })
}
