package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/tv_relay/internal/relay"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// bufferedConn keeps reading from the handshake's buffered reader before the
// underlying connection; ws.Dial may have already consumed server frames into
// that buffer.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func dialWS(t *testing.T, httpURL string) net.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, br, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("ws.Dial(%s): %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if br != nil {
		return &bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}
	return conn
}

func readEvent(t *testing.T, conn net.Conn) relay.Event {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("read server text: %v", err)
	}

	var evt relay.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	return evt
}

func sendText(t *testing.T, conn net.Conn, payload string) {
	t.Helper()
	if err := wsutil.WriteClientText(conn, []byte(payload)); err != nil {
		t.Fatalf("write client text: %v", err)
	}
}

func TestStreamingWelcomeAssignsDistinctIDs(t *testing.T) {
	srv, _ := newTestServer(t)

	c1 := dialWS(t, srv.URL)
	c2 := dialWS(t, srv.URL)

	w1 := readEvent(t, c1)
	w2 := readEvent(t, c2)

	if w1.Type != "welcome" || w1.ClientID == "" {
		t.Fatalf("first welcome = %+v", w1)
	}
	if w2.Type != "welcome" || w2.ClientID == "" {
		t.Fatalf("second welcome = %+v", w2)
	}
	if w1.ClientID == w2.ClientID {
		t.Fatalf("both connections got id %q", w1.ClientID)
	}
	if w1.Timestamp == 0 {
		t.Fatal("welcome missing timestamp")
	}
}

func TestStreamingBindAndOrderForward(t *testing.T) {
	srv, _ := newTestServer(t)

	c1 := dialWS(t, srv.URL)
	c2 := dialWS(t, srv.URL)
	w1 := readEvent(t, c1)
	w2 := readEvent(t, c2)

	sendText(t, c1, `{"type":"bind","targetClientId":"`+w2.ClientID+`"}`)
	bindReply := readEvent(t, c1)
	if bindReply.Type != "bind_success" || bindReply.TargetClientID != w2.ClientID {
		t.Fatalf("bind reply = %+v; want bind_success for %q", bindReply, w2.ClientID)
	}

	sendText(t, c1, `{"action":"buy","symbol":"BTC/USDT","amount":0.01,"orderType":"limit","price":50000}`)

	success := readEvent(t, c1)
	if success.Type != "order_success" || success.TargetClientID != w2.ClientID {
		t.Fatalf("sender reply = %+v; want order_success for %q", success, w2.ClientID)
	}

	forwarded := readEvent(t, c2)
	if forwarded.Type != "order_forwarded" || forwarded.FromClientID != w1.ClientID {
		t.Fatalf("target event = %+v; want order_forwarded from %q", forwarded, w1.ClientID)
	}
	if forwarded.Order["symbol"] != "BTC/USDT" {
		t.Fatalf("forwarded order = %+v", forwarded.Order)
	}
}

func TestStreamingInvalidOrderStaysLocal(t *testing.T) {
	srv, _ := newTestServer(t)

	c1 := dialWS(t, srv.URL)
	c2 := dialWS(t, srv.URL)
	readEvent(t, c1)
	w2 := readEvent(t, c2)

	sendText(t, c1, `{"type":"bind","targetClientId":"`+w2.ClientID+`"}`)
	readEvent(t, c1)

	sendText(t, c1, `{"action":"buy","symbol":"BTC/USDT","amount":-1,"orderType":"market"}`)
	reply := readEvent(t, c1)
	if reply.Type != "order_error" || !strings.Contains(reply.Message, "amount") {
		t.Fatalf("reply = %+v; want order_error naming amount", reply)
	}

	// The target must see nothing; verify by pushing a valid order through
	// and checking it is the first thing the target receives.
	sendText(t, c1, `{"action":"buy","symbol":"ETH/USDT","amount":1,"orderType":"market"}`)
	readEvent(t, c1)

	forwarded := readEvent(t, c2)
	if forwarded.Order["symbol"] != "ETH/USDT" {
		t.Fatalf("target first event = %+v; invalid order leaked through", forwarded)
	}
}

func TestStreamingMalformedPayloadKeepsConnection(t *testing.T) {
	srv, _ := newTestServer(t)

	c1 := dialWS(t, srv.URL)
	readEvent(t, c1)

	sendText(t, c1, "not json at all")
	reply := readEvent(t, c1)
	if reply.Type != "error" {
		t.Fatalf("reply = %+v; want error event", reply)
	}

	// Connection survives malformed input.
	sendText(t, c1, `{"message":"still here"}`)
	echo := readEvent(t, c1)
	if echo.Type != "echo" {
		t.Fatalf("follow-up reply = %+v; want echo", echo)
	}
}

func TestStreamingBroadcastReachesOtherStreamingClients(t *testing.T) {
	srv, _ := newTestServer(t)

	c1 := dialWS(t, srv.URL)
	c2 := dialWS(t, srv.URL)
	readEvent(t, c1)
	readEvent(t, c2)

	sendText(t, c1, `{"broadcast":true,"from":"alice","message":"hi all"}`)
	echo := readEvent(t, c1)
	if echo.Type != "echo" {
		t.Fatalf("sender reply = %+v; want echo", echo)
	}

	broadcast := readEvent(t, c2)
	if broadcast.Type != "broadcast" || broadcast.From != "alice" || broadcast.Message != "hi all" {
		t.Fatalf("peer event = %+v; want broadcast from alice", broadcast)
	}
}

func TestStreamingDisconnectCascadesBindLost(t *testing.T) {
	srv, reg := newTestServer(t)

	c1 := dialWS(t, srv.URL)
	c2 := dialWS(t, srv.URL)
	readEvent(t, c1)
	w2 := readEvent(t, c2)

	sendText(t, c1, `{"type":"bind","targetClientId":"`+w2.ClientID+`"}`)
	readEvent(t, c1)

	_ = c2.Close()

	deadline := time.Now().Add(5 * time.Second)
	for reg.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("closed streaming session was never removed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	lost := readEvent(t, c1)
	if lost.Type != "bind_lost" {
		t.Fatalf("dependent event = %+v; want bind_lost", lost)
	}

	sendText(t, c1, `{"action":"buy","symbol":"BTC/USDT","amount":1,"orderType":"market"}`)
	reply := readEvent(t, c1)
	if reply.Type != "order_error" {
		t.Fatalf("order after disconnect = %+v; want order_error until rebind", reply)
	}
}
