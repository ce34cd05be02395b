package client

import (
	"slices"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"messenger-service/internal/models"
)

// Peer is one row of the conversation list.
type Peer struct {
	User    models.User `json:"user"`
	Unseen  int         `json:"unseen"`
	Preview string      `json:"preview"`
	Online  bool        `json:"online"`
	Typing  bool        `json:"typing"`
}

// Sidebar derives unread counts, previews, and typing state per peer from the
// event stream, whichever conversation is open. Not safe for concurrent use.
type Sidebar struct {
	self     int
	selected int
	users    map[int]models.User
	unseen   map[int]int
	last     map[int]models.Message
	// messages seen per peer this session, oldest first, for preview fallback
	recent map[int][]models.Message
	// live messages counted in a badge, by id
	unseenIDs map[int]int
	typing    map[int]bool
	online    map[int]bool
	collator  *collate.Collator
}

// NewSidebar builds an empty Sidebar for the user self.
func NewSidebar(self int, tag language.Tag) *Sidebar {
	return &Sidebar{
		self:      self,
		users:     make(map[int]models.User),
		unseen:    make(map[int]int),
		last:      make(map[int]models.Message),
		recent:    make(map[int][]models.Message),
		unseenIDs: make(map[int]int),
		typing:    make(map[int]bool),
		online:    make(map[int]bool),
		collator:  collate.New(tag, collate.IgnoreCase),
	}
}

// Load replaces the state with a server sidebar response.
func (s *Sidebar) Load(sb models.Sidebar) {
	s.users = make(map[int]models.User, len(sb.Users))
	for _, u := range sb.Users {
		s.users[u.ID] = u
	}
	s.unseen = make(map[int]int, len(sb.UnseenMessages))
	for id, n := range sb.UnseenMessages {
		if id != s.selected && n > 0 {
			s.unseen[id] = n
		}
	}
	s.last = make(map[int]models.Message, len(sb.LastMessages))
	s.recent = make(map[int][]models.Message, len(sb.LastMessages))
	s.unseenIDs = make(map[int]int)
	for id, msg := range sb.LastMessages {
		s.last[id] = msg
		s.recent[id] = []models.Message{msg}
	}
	s.SetOnline(sb.OnlineUsers)
}

// Select marks peerID as the open conversation and clears its badge at once.
func (s *Sidebar) Select(peerID int) {
	s.selected = peerID
	s.clearBadge(peerID)
	s.ensure(peerID)
}

// ApplyIncoming records a message pushed by the server. Messages from a peer
// whose conversation is not open count as unseen.
func (s *Sidebar) ApplyIncoming(msg models.Message) {
	peer := msg.PeerOf(s.self)
	s.ensure(peer)
	s.remember(peer, msg)
	delete(s.typing, peer)
	if msg.SenderID != s.self && peer != s.selected && !msg.Seen {
		if _, counted := s.unseenIDs[msg.ID]; !counted {
			s.unseen[peer]++
			s.unseenIDs[msg.ID] = peer
		}
	}
}

// ApplySent records a message the user sent.
func (s *Sidebar) ApplySent(msg models.Message) {
	peer := msg.PeerOf(s.self)
	s.ensure(peer)
	s.remember(peer, msg)
}

// ApplyDeleted forgets a deleted message. The badge drops when the message was
// counted in it, or when it is a loaded unseen preview from the peer; other
// loaded badges carry no ids and stay as they are. A preview showing the
// message falls back to the newest earlier message seen this session.
func (s *Sidebar) ApplyDeleted(messageID int) {
	if peer, ok := s.unseenIDs[messageID]; ok {
		delete(s.unseenIDs, messageID)
		s.lowerBadge(peer)
	} else {
		for peer, msg := range s.last {
			if msg.ID == messageID && msg.SenderID == peer && !msg.Seen && peer != s.selected {
				s.lowerBadge(peer)
			}
		}
	}

	for peer, msgs := range s.recent {
		if i := slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == messageID }); i >= 0 {
			msgs = slices.Delete(msgs, i, i+1)
			s.recent[peer] = msgs
		}
		if s.last[peer].ID != messageID {
			continue
		}
		if n := len(msgs); n > 0 {
			s.last[peer] = msgs[n-1]
		} else {
			delete(s.last, peer)
		}
	}
}

// ApplyConversationDeleted clears the preview and badge of the pair.
func (s *Sidebar) ApplyConversationDeleted(ev models.ConversationDeleted) {
	peer := ev.DeletedBy
	if peer == s.self {
		peer = ev.DeletedWith
	}
	delete(s.last, peer)
	delete(s.recent, peer)
	s.clearBadge(peer)
}

// SetTyping updates the typing-peer set.
func (s *Sidebar) SetTyping(peerID int, typing bool) {
	if typing {
		s.typing[peerID] = true
		return
	}
	delete(s.typing, peerID)
}

// SetOnline replaces the online set with a presence snapshot.
func (s *Sidebar) SetOnline(ids []int) {
	s.online = make(map[int]bool, len(ids))
	for _, id := range ids {
		s.online[id] = true
	}
}

// Unseen returns the badge count of peerID.
func (s *Sidebar) Unseen(peerID int) int { return s.unseen[peerID] }

// Peers lists every known peer: unread first by count descending, then the
// rest by display name.
func (s *Sidebar) Peers() []Peer {
	peers := make([]Peer, 0, len(s.users))
	for id, u := range s.users {
		if id == s.self {
			continue
		}
		p := Peer{
			User:   u,
			Unseen: s.unseen[id],
			Online: s.online[id],
			Typing: s.typing[id],
		}
		if msg, ok := s.last[id]; ok {
			p.Preview = Preview(msg, s.self)
		}
		peers = append(peers, p)
	}

	sort.SliceStable(peers, func(i, j int) bool {
		a, b := peers[i], peers[j]
		if a.Unseen != b.Unseen {
			return a.Unseen > b.Unseen
		}
		if c := s.collator.CompareString(displayName(a.User), displayName(b.User)); c != 0 {
			return c < 0
		}
		return a.User.ID < b.User.ID
	})
	return peers
}

// Preview renders the one-line summary of a message for the conversation list.
func Preview(msg models.Message, self int) string {
	text := msg.Text
	switch {
	case text != "":
	case msg.Image != "":
		text = "Photo"
	default:
		text = "Message"
	}
	if msg.SenderID == self {
		return "You: " + text
	}
	return text
}

const recentPerPeer = 50

func (s *Sidebar) remember(peer int, msg models.Message) {
	s.last[peer] = msg
	msgs := s.recent[peer]
	if i := slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == msg.ID }); i >= 0 {
		msgs = slices.Delete(msgs, i, i+1)
	}
	msgs = append(msgs, msg)
	if len(msgs) > recentPerPeer {
		msgs = msgs[len(msgs)-recentPerPeer:]
	}
	s.recent[peer] = msgs
}

func (s *Sidebar) lowerBadge(peer int) {
	if s.unseen[peer] > 1 {
		s.unseen[peer]--
		return
	}
	delete(s.unseen, peer)
}

func (s *Sidebar) clearBadge(peer int) {
	delete(s.unseen, peer)
	for id, p := range s.unseenIDs {
		if p == peer {
			delete(s.unseenIDs, id)
		}
	}
}

func (s *Sidebar) ensure(peerID int) {
	if peerID == 0 || peerID == s.self {
		return
	}
	if _, ok := s.users[peerID]; !ok {
		s.users[peerID] = models.User{ID: peerID}
	}
}

func displayName(u models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Handle
}
