package transport

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starlane-games/starlane-server/internal/testutil"
)

type echoEvaluator struct{}

func (echoEvaluator) Evaluate(expr string) (string, error) {
	if expr == "boom" {
		return "", fmt.Errorf("no such variable")
	}
	return "eval:" + expr, nil
}

func newTestListener(t *testing.T, evaluator Evaluator) (*Listener, chan net.Conn) {
	t.Helper()
	conns := make(chan net.Conn, 4)
	l, err := Listen(
		"127.0.0.1:0",
		"127.0.0.1:0",
		false,
		evaluator,
		testutil.NopLogger(),
		func(c net.Conn) { conns <- c },
	)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l, conns
}

func query(t *testing.T, l *Listener, payload string) string {
	t.Helper()
	conn, err := net.Dial("udp", l.DiscoveryAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestListenerAcceptsConnections(t *testing.T) {
	l, conns := newTestListener(t, nil)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case accepted := <-conns:
		accepted.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not handed to the callback")
	}
}

func TestListenerAnswersDiscoveryProbe(t *testing.T) {
	l, _ := newTestListener(t, nil)
	assert.Equal(t, DiscoveryAnswer, query(t, l, DiscoveryProbe))
}

func TestListenerEvaluatesDebugQueries(t *testing.T) {
	l, _ := newTestListener(t, echoEvaluator{})
	assert.Equal(t, "eval:galaxy.turn", query(t, l, "galaxy.turn"))
}

func TestListenerReportsEvaluationErrors(t *testing.T) {
	l, _ := newTestListener(t, echoEvaluator{})
	assert.Equal(t, "ERROR: no such variable", query(t, l, "boom"))
}

func TestListenerWithoutEvaluatorRejectsQueries(t *testing.T) {
	l, _ := newTestListener(t, nil)
	assert.Equal(t, "ERROR: no evaluator", query(t, l, "galaxy.turn"))
}

func TestListenerTrimsDatagramWhitespace(t *testing.T) {
	l, _ := newTestListener(t, nil)
	assert.Equal(t, DiscoveryAnswer, query(t, l, DiscoveryProbe+"\n"))
}

func TestListenerCloseIsIdempotent(t *testing.T) {
	l, _ := newTestListener(t, nil)
	l.Close()
	l.Close()

	_, err := net.Dial("tcp", l.Addr().String())
	assert.Error(t, err)
}
