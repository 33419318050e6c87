package transport

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starlane-games/starlane-server/internal/model"
	"github.com/starlane-games/starlane-server/internal/protocol"
)

// sendQueueDepth bounds the per-session outgoing queue. A client that falls
// this far behind is treated as dead and disconnected.
const sendQueueDepth = 256

// closeFlushGrace is how long Close waits for queued messages to reach the
// wire. Rejection errors are queued right before closing; without the grace
// the client would see the connection drop with no reason.
const closeFlushGrace = 250 * time.Millisecond

var connSerial atomic.Int64

// Session is one framed-message connection. Reads and writes run on their
// own goroutines; inbound messages and the (exactly-once) disconnect are
// reported through the callbacks given at construction. Identity fields are
// guarded so the status API can snapshot them off the reactor goroutine.
type Session struct {
	conn   net.Conn
	serial int64
	logger *slog.Logger

	maxFrame uint32

	sendq     chan protocol.Message
	closing   chan struct{}
	flushed   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	onMessage    func(*Session, protocol.Message)
	onDisconnect func(*Session)

	mu            sync.RWMutex
	id            model.PlayerID
	name          string
	clientType    model.ClientType
	roles         model.RoleSet
	cookie        string
	authenticated bool
	clientVersion string

	pendingType    model.ClientType
	pendingVersion string
}

// NewSession wraps an accepted connection and starts its read and write
// loops. onDisconnect fires exactly once, after which no further onMessage
// calls are made for this session.
func NewSession(
	conn net.Conn,
	maxFrame uint32,
	logger *slog.Logger,
	onMessage func(*Session, protocol.Message),
	onDisconnect func(*Session),
) *Session {
	serial := connSerial.Add(1)
	s := &Session{
		conn:         conn,
		serial:       serial,
		logger:       logger.With(slog.Int64("conn", serial), slog.String("remote", conn.RemoteAddr().String())),
		maxFrame:     maxFrame,
		sendq:        make(chan protocol.Message, sendQueueDepth),
		closing:      make(chan struct{}),
		flushed:      make(chan struct{}),
		closed:       make(chan struct{}),
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		id:           model.InvalidPlayerID,
	}
	go s.readLoop()
	go s.writeLoop()
	return s
}

// Serial returns the connection's server-unique serial number, assigned
// before the session is established
func (s *Session) Serial() int64 { return s.serial }

// RemoteAddr returns the peer address
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Session) readLoop() {
	for {
		m, err := protocol.Read(s.conn, s.maxFrame)
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Debug("session read ended", slog.String("error", err.Error()))
			}
			s.Close()
			return
		}
		select {
		case <-s.closed:
			return
		default:
		}
		s.onMessage(s, m)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case m := <-s.sendq:
			if err := protocol.Write(s.conn, m); err != nil {
				s.logger.Debug("session write failed",
					slog.String("type", m.Type.String()),
					slog.String("error", err.Error()))
				close(s.flushed)
				s.Close()
				return
			}
		case <-s.closing:
			s.flushSendq()
			return
		}
	}
}

// flushSendq drains what is already queued at close time, then releases the
// closer
func (s *Session) flushSendq() {
	defer close(s.flushed)
	for {
		select {
		case m := <-s.sendq:
			if err := protocol.Write(s.conn, m); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues a message for ordered delivery. Messages queued after Close
// are silently dropped. A full queue means the client cannot keep up; the
// session is closed rather than buffering without bound.
func (s *Session) Send(m protocol.Message) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.sendq <- m:
	case <-s.closed:
	default:
		s.logger.Warn("outgoing queue overflow, dropping session")
		s.Close()
	}
}

// Close tears down the connection after giving queued messages a brief
// window to reach the wire. Safe to call multiple times; the disconnect
// callback fires only on the first call.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		select {
		case <-s.flushed:
		case <-time.After(closeFlushGrace):
		}
		close(s.closed)
		_ = s.conn.Close()
		s.onDisconnect(s)
	})
}

// Closed reports whether the session has been torn down
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// EstablishPlayer assigns the session its confirmed identity. It may succeed
// at most once; re-establishment or invalid arguments leave the session
// unchanged and return an error.
func (s *Session) EstablishPlayer(id model.PlayerID, name string, t model.ClientType, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.establishedLocked() {
		return model.ErrSessionEstablished
	}
	if id == model.InvalidPlayerID || name == "" || !t.Valid() {
		return model.ErrInvalidIdentity
	}
	s.id = id
	s.name = name
	s.clientType = t
	s.clientVersion = version
	s.pendingType = model.ClientTypeInvalid
	s.pendingVersion = ""
	return nil
}

// AwaitPlayer records the identity a connection has requested while its
// authentication is still outstanding, without establishing the session
func (s *Session) AwaitPlayer(t model.ClientType, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingType = t
	s.pendingVersion = version
}

// PendingIdentity returns the client type and version recorded by AwaitPlayer
func (s *Session) PendingIdentity() (model.ClientType, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingType, s.pendingVersion
}

// Established reports whether the session has a confirmed id, name and
// client type
func (s *Session) Established() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.establishedLocked()
}

func (s *Session) establishedLocked() bool {
	return s.id != model.InvalidPlayerID && s.name != "" && s.clientType.Valid()
}

// ID returns the assigned player id, or InvalidPlayerID
func (s *Session) ID() model.PlayerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Name returns the established player name
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// ClientType returns the established client type
func (s *Session) ClientType() model.ClientType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientType
}

// ClientVersion returns the version string the client reported
func (s *Session) ClientVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientVersion
}

// Roles returns the session's capability set
func (s *Session) Roles() model.RoleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles
}

// SetRoles replaces the session's capability set
func (s *Session) SetRoles(roles model.RoleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = roles
}

// GrantRole adds one capability
func (s *Session) GrantRole(r model.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = s.roles.With(r)
}

// Cookie returns the session's reconnection token, empty until assigned
func (s *Session) Cookie() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookie
}

// SetCookie records the reconnection token issued to this session
func (s *Session) SetCookie(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookie = token
}

// Authenticated reports whether the session passed (or was exempt from)
// credential checks
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// SetAuthenticated marks the session's authentication outcome
func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = v
}
