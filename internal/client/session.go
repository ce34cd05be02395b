package client

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"messenger-service/internal/models"
)

// ErrSessionClosed is returned by View after Run has returned.
var ErrSessionClosed = errors.New("session closed")

// API is the request/response surface the session calls.
type API interface {
	Sidebar(ctx context.Context) (models.Sidebar, error)
	History(ctx context.Context, peerID int) ([]models.Message, error)
	Send(ctx context.Context, peerID int, text, image string) (models.Message, error)
	React(ctx context.Context, messageID int, emoji string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID int) error
	DeleteConversation(ctx context.Context, peerID int) (int, error)
}

// Outbound carries client events to the real-time channel.
type Outbound interface {
	Emit(ev models.Event) error
}

// Notice reports a failed user action. Notices are best effort.
type Notice struct {
	Action string
	Err    error
}

// View is a consistent snapshot of the session state.
type View struct {
	Self    int     `json:"self"`
	Peer    int     `json:"peer"`
	Entries []Entry `json:"entries"`
	Peers   []Peer  `json:"peers"`
}

// Options tunes a Session.
type Options struct {
	TypingQuiet time.Duration
	// SendTimeout moves a send with no response to Error. Zero waits forever.
	SendTimeout time.Duration
	AfterFunc   AfterFunc
	Language    language.Tag
}

// Session runs the conversation synchronizer and the sidebar on one goroutine.
// Every state change is a closure queued on events; network calls run on their
// own goroutines and queue their results, so incoming events keep flowing
// while a request is in flight.
type Session struct {
	self int
	api  API
	out  Outbound
	opts Options
	log  zerolog.Logger

	sync    *Synchronizer
	sidebar *Sidebar
	typing  *Typing

	// sends wait here per peer so the server stores them in order
	outbox   map[int][]Entry
	inflight map[int]bool

	events  chan func()
	notices chan Notice
	done    chan struct{}
	ctx     context.Context
}

// NewSession builds a Session for user self. Call Run to start it.
func NewSession(self int, api API, out Outbound, opts Options, log zerolog.Logger) *Session {
	if opts.Language == language.Und {
		opts.Language = language.English
	}
	s := &Session{
		self:     self,
		api:      api,
		out:      out,
		opts:     opts,
		log:      log.With().Int("user_id", self).Logger(),
		sync:     NewSynchronizer(self),
		sidebar:  NewSidebar(self, opts.Language),
		outbox:   make(map[int][]Entry),
		inflight: make(map[int]bool),
		events:   make(chan func(), 256),
		notices:  make(chan Notice, 16),
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}

	base := opts.AfterFunc
	if base == nil {
		base = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	onLoop := func(d time.Duration, f func()) Timer {
		return base(d, func() { s.post(f) })
	}
	s.typing = NewTyping(opts.TypingQuiet, onLoop, s.emitTyping)
	return s
}

// Run processes queued work until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.events:
			f()
		}
	}
}

// Notices delivers failed actions for display.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Refresh reloads the sidebar from the server. Call it after every (re)connect,
// since live events missed while offline are not replayed.
func (s *Session) Refresh() {
	s.post(func() {
		s.call("load conversations", func(ctx context.Context) func() {
			sb, err := s.api.Sidebar(ctx)
			if err != nil {
				return s.failed("load conversations", err)
			}
			return func() { s.sidebar.Load(sb) }
		})
		if peer := s.sync.Peer(); peer != 0 {
			s.loadHistory(peer)
		}
	})
}

// Open selects the conversation with peerID. The badge clears before the
// history arrives.
func (s *Session) Open(peerID int) {
	s.post(func() {
		if s.sync.Peer() != peerID {
			s.typing.Stop()
		}
		s.sync.Open(peerID)
		s.sidebar.Select(peerID)
		s.loadHistory(peerID)
	})
}

// Send posts a message to the open conversation. Sends to one peer reach the
// server one at a time in the order they were made.
func (s *Session) Send(text, image string) {
	s.post(func() {
		if s.sync.Peer() == 0 {
			s.notify("send", errors.New("no conversation open"))
			return
		}
		s.typing.Stop()
		e := s.sync.BeginSend(text, image, time.Now())
		s.enqueue(e)
	})
}

// Retry re-issues a failed send with the same body and image.
func (s *Session) Retry(tempID string) {
	s.post(func() {
		if e, ok := s.sync.Retry(tempID); ok {
			s.enqueue(e)
		}
	})
}

// React toggles emoji on a message optimistically.
func (s *Session) React(messageID int, emoji string) {
	s.post(func() {
		if !s.sync.ToggleReaction(messageID, emoji, time.Now()) {
			return
		}
		s.call("react", func(ctx context.Context) func() {
			msg, err := s.api.React(ctx, messageID, emoji)
			if err != nil {
				return func() {
					s.sync.RollbackReaction(messageID)
					s.notify("react", err)
				}
			}
			return func() { s.sync.ApplyReaction(msg) }
		})
	})
}

// DeleteMessage removes one of the user's messages once the server confirms.
func (s *Session) DeleteMessage(messageID int) {
	s.post(func() {
		s.call("delete message", func(ctx context.Context) func() {
			if err := s.api.DeleteMessage(ctx, messageID); err != nil {
				return s.failed("delete message", err)
			}
			return func() {
				s.sync.ApplyDeleted(messageID)
				s.sidebar.ApplyDeleted(messageID)
			}
		})
	})
}

// DeleteConversation removes the open conversation for both participants.
func (s *Session) DeleteConversation() {
	s.post(func() {
		peer := s.sync.Peer()
		if peer == 0 {
			return
		}
		s.call("delete conversation", func(ctx context.Context) func() {
			if _, err := s.api.DeleteConversation(ctx, peer); err != nil {
				return s.failed("delete conversation", err)
			}
			return func() {
				ev := models.ConversationDeleted{DeletedBy: s.self, DeletedWith: peer}
				s.sync.ApplyConversationDeleted(ev)
				s.sidebar.ApplyConversationDeleted(ev)
			}
		})
	})
}

// Keystroke records input activity in the open conversation.
func (s *Session) Keystroke() {
	s.post(func() {
		if s.sync.Peer() != 0 {
			s.typing.Keystroke()
		}
	})
}

// Handle applies an event received from the real-time channel.
func (s *Session) Handle(ev models.Event) {
	s.post(func() { s.apply(ev) })
}

// View returns a snapshot taken on the session goroutine.
func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if !s.post(func() {
		reply <- View{Self: s.self, Peer: s.sync.Peer(), Entries: s.sync.Entries(), Peers: s.sidebar.Peers()}
	}) {
		return View{}, ErrSessionClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, ErrSessionClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (s *Session) apply(ev models.Event) {
	switch e := ev.(type) {
	case models.NewMessage:
		msg := models.Message(e)
		if s.sync.ApplyIncoming(msg) {
			msg.Seen = true
			s.emit(models.MessageSeen{MessageID: msg.ID, SenderID: msg.SenderID})
		}
		s.sidebar.ApplyIncoming(msg)
	case models.MessageSeen:
		s.sync.ApplySeen(e.MessageID)
	case models.MessageDeleted:
		s.sync.ApplyDeleted(e.MessageID)
		s.sidebar.ApplyDeleted(e.MessageID)
	case models.ReactionUpdated:
		s.sync.ApplyReaction(models.Message(e))
	case models.UserTyping:
		s.sidebar.SetTyping(e.PeerID, e.IsTyping)
	case models.ConversationDeleted:
		s.sync.ApplyConversationDeleted(e)
		s.sidebar.ApplyConversationDeleted(e)
	case models.OnlineUsers:
		s.sidebar.SetOnline(e)
	default:
		s.log.Debug().Str("event", string(ev.EventName())).Msg("event ignored")
	}
}

func (s *Session) enqueue(e Entry) {
	peer := e.ReceiverID
	s.outbox[peer] = append(s.outbox[peer], e)
	if !s.inflight[peer] {
		s.deliverNext(peer)
	}
}

// deliverNext issues the oldest queued send to peer. A failure does not hold
// back the sends behind it.
func (s *Session) deliverNext(peer int) {
	queue := s.outbox[peer]
	if len(queue) == 0 {
		delete(s.outbox, peer)
		delete(s.inflight, peer)
		return
	}
	e := queue[0]
	s.outbox[peer] = queue[1:]
	s.inflight[peer] = true

	tempID := e.TempID
	s.call("send", func(ctx context.Context) func() {
		if s.opts.SendTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.SendTimeout)
			defer cancel()
		}
		msg, err := s.api.Send(ctx, peer, e.Text, e.Image)
		if err != nil {
			return func() {
				if s.sync.FailSend(tempID) {
					s.notify("send", err)
				}
				s.deliverNext(peer)
			}
		}
		return func() {
			s.sync.ConfirmSend(tempID, msg)
			s.sidebar.ApplySent(msg)
			s.deliverNext(peer)
		}
	})
}

func (s *Session) loadHistory(peerID int) {
	s.call("load messages", func(ctx context.Context) func() {
		msgs, err := s.api.History(ctx, peerID)
		if err != nil {
			return s.failed("load messages", err)
		}
		return func() { s.sync.Load(peerID, msgs) }
	})
}

// call runs fn off the loop and queues the state change it returns.
func (s *Session) call(action string, fn func(ctx context.Context) func()) {
	ctx := s.ctx
	go func() {
		apply := fn(ctx)
		if apply != nil {
			s.post(apply)
		}
	}()
	s.log.Debug().Str("action", action).Msg("request started")
}

func (s *Session) failed(action string, err error) func() {
	return func() { s.notify(action, err) }
}

func (s *Session) notify(action string, err error) {
	s.log.Warn().Err(err).Str("action", action).Msg("action failed")
	select {
	case s.notices <- Notice{Action: action, Err: err}:
	default:
	}
}

func (s *Session) emitTyping(isTyping bool) {
	if peer := s.sync.Peer(); peer != 0 {
		s.emit(models.Typing{PeerID: peer, IsTyping: isTyping})
	}
}

func (s *Session) emit(ev models.Event) {
	if s.out == nil {
		return
	}
	if err := s.out.Emit(ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(ev.EventName())).Msg("emit failed")
	}
}

func (s *Session) post(f func()) bool {
	select {
	case s.events <- f:
		return true
	case <-s.done:
		return false
	}
}
