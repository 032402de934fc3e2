// SPDX-License-Identifier: MIT
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"wavecore/internal/goda"
	applog "wavecore/internal/log"
)

// UDPSender handles sending data packets over UDP.
type UDPSender struct {
	conn   *net.UDPConn
	mu     sync.Mutex // protects conn during Close
	closed bool
}

// NewUDPSender creates a sender targeting "host:port".
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	applog.Infof("UDP Sender: Connection established to %s", conn.RemoteAddr().String())
	return &UDPSender{conn: conn}, nil
}

// Send transmits the given byte slice as a single UDP packet.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("UDP sender is closed")
	}
	_, err := s.conn.Write(data)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	return nil
}

// Close closes the underlying UDP connection.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		if err != nil {
			return fmt.Errorf("failed to close UDP connection: %w", err)
		}
	}
	return nil
}

/*
UDP Packet Structure (BigEndian)

+------------------------------------------------------------------------------+
| Field                | Data Type  | Size (Bytes) | Description               |
|----------------------|------------|--------------|---------------------------|
| Sequence Number      | uint32     | 4            | Monotonically increasing  |
| Timestamp            | int64      | 8            | Nanoseconds since epoch   |
| Reflection Coeff     | float32    | 4            | Kr over the analyzed band |
| Bin Count            | uint16     | 2            | Number of bins (N)        |
| Incident Energies    | []float32  | N * 4        | a²/2 per bin, NaN=skipped |
| Reflected Energies   | []float32  | N * 4        | a²/2 per bin, NaN=skipped |
+------------------------------------------------------------------------------+
*/

// UDPPublisher packs each result into the binary packet above and sends it
// through a UDPSender. A minimum send interval throttles high analysis
// rates down to what a controller link can absorb; throttled results are
// silently skipped.
type UDPPublisher struct {
	sender      *UDPSender
	minInterval time.Duration

	mu           sync.Mutex
	lastSend     time.Time
	sequenceNum  uint32
	f32Buffer    []float32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher wraps the sender. minInterval <= 0 disables throttling.
func NewUDPPublisher(sender *UDPSender, minInterval time.Duration) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	applog.Infof("UDPPublisher: Initializing (min interval: %s)", minInterval)
	return &UDPPublisher{
		sender:       sender,
		minInterval:  minInterval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Publish packs and sends the result unless throttled.
func (p *UDPPublisher) Publish(result *goda.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.minInterval > 0 && now.Sub(p.lastSend) < p.minInterval {
		return nil
	}

	bins := len(result.Incident)
	need := 2 * bins
	if cap(p.f32Buffer) < need {
		p.f32Buffer = make([]float32, need)
	}
	p.f32Buffer = p.f32Buffer[:need]
	for i, v := range result.Incident {
		p.f32Buffer[i] = float32(v)
	}
	for i, v := range result.Reflected {
		p.f32Buffer[bins+i] = float32(v)
	}

	p.sequenceNum++
	p.packetBuffer.Reset()

	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, now.UnixNano())
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, float32(result.ReflectionCoeff))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint16(bins))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, p.f32Buffer)
	}
	if err != nil {
		return fmt.Errorf("UDPPublisher: packing result: %w", err)
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		return err
	}
	p.lastSend = now
	applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, p.packetBuffer.Len())
	return nil
}

// Close closes the underlying sender.
func (p *UDPPublisher) Close() error {
	return p.sender.Close()
}

var _ Publisher = (*UDPPublisher)(nil)
