package models

import "time"

// UndecryptableText replaces the body of a stored message whose envelope fails to open.
const UndecryptableText = "[message cannot be decrypted]"

// Message is a direct message between two users. Text is always plaintext here;
// encryption happens at the repository boundary.
type Message struct {
	ID            int        `json:"id"`
	SenderID      int        `json:"senderId"`
	ReceiverID    int        `json:"receiverId"`
	Text          string     `json:"text,omitempty"`
	Image         string     `json:"image,omitempty"`
	Seen          bool       `json:"seen"`
	Undecryptable bool       `json:"undecryptable,omitempty"`
	Reactions     []Reaction `json:"reactions,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserID    int       `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Between reports whether the message belongs to the conversation of a and b.
func (m Message) Between(a, b int) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Involves reports whether userID is the sender or the receiver.
func (m Message) Involves(userID int) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// PeerOf returns the other participant from userID's point of view.
func (m Message) PeerOf(userID int) int {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// ToggleReaction applies toggle semantics for one user: the same emoji again removes
// the reaction, a different emoji replaces it. The input slice is not modified.
func ToggleReaction(reactions []Reaction, userID int, emoji string, at time.Time) []Reaction {
	out := make([]Reaction, 0, len(reactions)+1)
	removed := false
	for _, r := range reactions {
		if r.UserID != userID {
			out = append(out, r)
			continue
		}
		if r.Emoji == emoji {
			removed = true
		}
	}
	if !removed {
		out = append(out, Reaction{Emoji: emoji, UserID: userID, CreatedAt: at})
	}
	return out
}
