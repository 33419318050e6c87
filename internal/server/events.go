package server

import (
	"net"

	"github.com/starlane-games/starlane-server/internal/protocol"
	"github.com/starlane-games/starlane-server/internal/transport"
)

// event is one unit of work for the reactor. Events are drained one at a
// time; handlers run to completion, so anything arriving mid-handler waits
// its turn rather than re-entering.
type event interface {
	isEvent()
}

// connectionEvent reports a freshly accepted TCP connection
type connectionEvent struct {
	conn net.Conn
}

// messageEvent carries one inbound framed message
type messageEvent struct {
	session *transport.Session
	msg     protocol.Message
}

// disconnectionEvent fires exactly once per session, on socket teardown
type disconnectionEvent struct {
	session *transport.Session
}

// hostlessEvent is posted at boot when the server runs without a host
type hostlessEvent struct{}

// turnTimerEvent fires when the turn timeout elapses
type turnTimerEvent struct{}

// autosaveEvent fires when the autosave interval elapses
type autosaveEvent struct{}

// cookieGCEvent triggers a sweep of expired reconnection cookies
type cookieGCEvent struct{}

// shutdownPollEvent re-checks AI shutdown acknowledgements
type shutdownPollEvent struct{}

// shutdownDeadlineEvent force-kills AI clients still owing an ack
type shutdownDeadlineEvent struct{}

// quitEvent requests an orderly server shutdown
type quitEvent struct {
	reason string
}

func (connectionEvent) isEvent()       {}
func (messageEvent) isEvent()          {}
func (disconnectionEvent) isEvent()    {}
func (hostlessEvent) isEvent()         {}
func (turnTimerEvent) isEvent()        {}
func (autosaveEvent) isEvent()         {}
func (cookieGCEvent) isEvent()         {}
func (shutdownPollEvent) isEvent()     {}
func (shutdownDeadlineEvent) isEvent() {}
func (quitEvent) isEvent()             {}
