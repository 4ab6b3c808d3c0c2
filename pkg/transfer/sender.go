// Package transfer implements the direct device-to-device datagram file
// exchange.
//
// The handshake is not connection oriented: the initiator sends one header
// datagram `UVF <fileName> <packetCount> <senderUsername>`, then the file
// content split into fixed-size datagrams in order. Delivery is best-effort;
// there is no acknowledgment, retransmission or flow control, and arrival
// order is assumed to equal send order.
package transfer

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/edgenet/edgenet/internal/logger"
)

// headerTag marks the handshake datagram of a transfer.
const headerTag = "UVF"

// DefaultPacketSize is the fixed content datagram payload size.
const DefaultPacketSize = 1024

// Sender transmits files to a peer's standing receiver.
type Sender struct {
	// PacketSize is the fixed content datagram size. Zero means
	// DefaultPacketSize.
	PacketSize int

	// PacingDelay is an optional gap between content datagrams. It gives
	// slow receivers a chance to drain their socket buffer; correctness
	// does not depend on it.
	PacingDelay time.Duration
}

// SendFile sends data as fileName to the peer receiver at target
// (host:port). The advertised file name is reduced to its base name so the
// receiver never sees sender-side paths.
func (s *Sender) SendFile(ctx context.Context, target, senderUsername, fileName string, data []byte) error {
	packetSize := s.PacketSize
	if packetSize <= 0 {
		packetSize = DefaultPacketSize
	}

	conn, err := net.Dial("udp", target)
	if err != nil {
		return fmt.Errorf("dial peer %s: %w", target, err)
	}
	defer func() { _ = conn.Close() }()

	fileName = filepath.Base(fileName)
	packetCount := (len(data) + packetSize - 1) / packetSize

	header := fmt.Sprintf("%s %s %d %s", headerTag, fileName, packetCount, senderUsername)
	if _, err := conn.Write([]byte(header)); err != nil {
		return fmt.Errorf("send transfer header: %w", err)
	}

	for i := 0; i < packetCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := i * packetSize
		end := start + packetSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := conn.Write(data[start:end]); err != nil {
			return fmt.Errorf("send transfer packet %d/%d: %w", i+1, packetCount, err)
		}

		if s.PacingDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.PacingDelay):
			}
		}
	}

	logger.Debug("Peer transfer sent",
		"target", target,
		"file", fileName,
		"packets", packetCount,
		"bytes", len(data))
	return nil
}
