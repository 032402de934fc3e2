// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"wavecore/internal/goda"
)

// capture records published results for assertions.
type capture struct {
	results []*goda.Result
	err     error
	closed  bool
}

func (c *capture) Publish(r *goda.Result) error {
	c.results = append(c.results, r)
	return c.err
}

func (c *capture) Close() error {
	c.closed = true
	return nil
}

func testResult() *goda.Result {
	return &goda.Result{
		Frequencies:     []float64{0, 0.5, 1.0},
		Power:           []float64{0, 0.01, 0.002},
		Incident:        []float64{math.NaN(), 0.00125, 0.0002},
		Reflected:       []float64{math.NaN(), 0.0002, 0.00005},
		ReflectionCoeff: 0.4,
		Flags:           []goda.BinFlag{goda.BinOutOfBand, goda.BinValid, goda.BinValid},
		InvalidBins:     0,
	}
}

func TestMultiFanOut(t *testing.T) {
	a, b := &capture{}, &capture{}
	m := NewMulti(a, nil, b)

	res := testResult()
	if err := m.Publish(res); err != nil {
		t.Fatal(err)
	}
	if len(a.results) != 1 || len(b.results) != 1 {
		t.Errorf("fan-out reached %d/%d publishers, want 1/1", len(a.results), len(b.results))
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || !b.closed {
		t.Error("Close did not reach all publishers")
	}
}

func TestMultiContinuesPastFailure(t *testing.T) {
	bad := &capture{err: errors.New("link down")}
	good := &capture{}
	m := NewMulti(bad, good)

	if err := m.Publish(testResult()); err == nil {
		t.Error("expected joined error from failing publisher")
	}
	if len(good.results) != 1 {
		t.Error("failure in one publisher starved the others")
	}
}

func TestLoggingPublisherNeverFails(t *testing.T) {
	lp := NewLoggingPublisher()
	if err := lp.Publish(testResult()); err != nil {
		t.Fatal(err)
	}
	allNaN := testResult()
	for i := range allNaN.Incident {
		allNaN.Incident[i] = math.NaN()
	}
	if err := lp.Publish(allNaN); err != nil {
		t.Fatal(err)
	}
	if err := lp.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSanitizeForJSON(t *testing.T) {
	res := testResult()
	clean := sanitizeForJSON(res)

	if clean.Incident[0] != 0 || clean.Reflected[0] != 0 {
		t.Error("NaN bins not zeroed")
	}
	if clean.Incident[1] != res.Incident[1] {
		t.Error("valid bins altered")
	}
	if !math.IsNaN(res.Incident[0]) {
		t.Error("original result mutated")
	}
}

func wsClientCount(wp *WebSocketPublisher) int {
	wp.clientsMu.Lock()
	defer wp.clientsMu.Unlock()
	return len(wp.clients)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebSocketClientSurvivesInboundFrame(t *testing.T) {
	pub := NewWebSocketPublisher("127.0.0.1:0")
	defer pub.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+pub.Addr()+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "client registration", func() bool { return wsClientCount(pub) == 1 })

	// An inbound data frame must not end the connection monitoring.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	res := testResult()
	if err := pub.Publish(res); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("no broadcast after inbound frame: %v", err)
	}
	var got struct {
		ReflectionCoeff float64 `json:"reflection_coefficient"`
	}
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.ReflectionCoeff != res.ReflectionCoeff {
		t.Errorf("broadcast Kr = %g, want %g", got.ReflectionCoeff, res.ReflectionCoeff)
	}

	// Disconnecting deregisters the client without needing a failed write.
	conn.Close()
	waitFor(t, "client deregistration", func() bool { return wsClientCount(pub) == 0 })
}

func TestWebSocketCloseStopsBroadcastLoop(t *testing.T) {
	pub := NewWebSocketPublisher("127.0.0.1:0")
	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-pub.done:
	default:
		t.Error("broadcast loop not signalled on Close")
	}

	// Publishing to a closed publisher is a harmless no-op.
	if err := pub.Publish(testResult()); err != nil {
		t.Fatal(err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestUDPPublisherPacket(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	sender, err := NewUDPSender(listener.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	pub, err := NewUDPPublisher(sender, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	res := testResult()
	if err := pub.Publish(res); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 2048)
	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}

	bins := len(res.Incident)
	wantLen := 4 + 8 + 4 + 2 + 2*bins*4
	if n != wantLen {
		t.Fatalf("packet length %d, want %d", n, wantLen)
	}

	seq := binary.BigEndian.Uint32(buf[0:4])
	if seq != 1 {
		t.Errorf("sequence = %d, want 1", seq)
	}
	kr := math.Float32frombits(binary.BigEndian.Uint32(buf[12:16]))
	if math.Abs(float64(kr)-res.ReflectionCoeff) > 1e-6 {
		t.Errorf("Kr = %g, want %g", kr, res.ReflectionCoeff)
	}
	count := binary.BigEndian.Uint16(buf[16:18])
	if int(count) != bins {
		t.Errorf("bin count = %d, want %d", count, bins)
	}
	incident1 := math.Float32frombits(binary.BigEndian.Uint32(buf[18+4 : 18+8]))
	if math.Abs(float64(incident1)-res.Incident[1]) > 1e-9 {
		t.Errorf("incident[1] = %g, want %g", incident1, res.Incident[1])
	}
}

func TestUDPPublisherThrottles(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	sender, err := NewUDPSender(listener.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	pub, err := NewUDPPublisher(sender, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	res := testResult()
	for i := 0; i < 5; i++ {
		if err := pub.Publish(res); err != nil {
			t.Fatal(err)
		}
	}

	// Only the first publish makes it onto the wire.
	buf := make([]byte, 2048)
	listener.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := listener.ReadFromUDP(buf); err != nil {
		t.Fatal(err)
	}
	listener.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := listener.ReadFromUDP(buf); err == nil {
		t.Error("throttled publish reached the wire")
	}
}

func TestUDPSenderClosed(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	sender, err := NewUDPSender(listener.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	if err := sender.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sender.Send([]byte{1}); err == nil {
		t.Error("Send on closed sender succeeded")
	}
	if err := sender.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
