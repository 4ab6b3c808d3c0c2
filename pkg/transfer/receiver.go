package transfer

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgenet/edgenet/internal/logger"
)

// pollInterval bounds how long a blocked receive can delay shutdown. The
// receiver re-arms its read deadline at this interval and checks the
// cancellation flag on every timeout.
const pollInterval = 500 * time.Millisecond

// maxDatagramSize is the largest datagram the receiver accepts.
const maxDatagramSize = 65535

// Receiver is the standing peer-transfer listener bound to a device's
// declared UDP port. It runs independently of the device's stream session
// and is cancellable on its own via Close.
type Receiver struct {
	conn *net.UDPConn
	dir  string

	// OnFileReceived, when set, is invoked after a transfer completes with
	// the sender's username, the written path and the received byte count.
	OnFileReceived func(sender, path string, size int)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewReceiver binds the declared UDP port. Received files are written to
// dir as "<senderUsername>_<fileName>". Port 0 binds an ephemeral port,
// which is useful in tests.
func NewReceiver(port int, dir string) (*Receiver, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen UDP port %d: %w", port, err)
	}
	return &Receiver{
		conn: conn,
		dir:  dir,
		done: make(chan struct{}),
	}, nil
}

// Port returns the actually bound UDP port.
func (r *Receiver) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start launches the receive loop.
func (r *Receiver) Start() {
	r.wg.Add(1)
	go r.run()
}

// Close cancels the receive loop and releases the socket. It does not
// affect any stream session owned by the same device.
func (r *Receiver) Close() {
	close(r.done)
	_ = r.conn.Close()
	r.wg.Wait()
}

func (r *Receiver) run() {
	defer r.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, ok := r.readPacket(buf)
		if !ok {
			return
		}
		if n == 0 {
			continue
		}

		fileName, packetCount, sender, ok := parseHeader(buf[:n])
		if !ok {
			// Stray content datagram with no transfer in progress.
			logger.Debug("Dropping datagram without transfer header", "bytes", n)
			continue
		}

		if !r.receiveFile(fileName, packetCount, sender, buf) {
			return
		}
	}
}

// readPacket reads one datagram, re-arming the deadline until data arrives
// or the receiver is closed. ok is false when the loop should exit.
func (r *Receiver) readPacket(buf []byte) (int, bool) {
	for {
		select {
		case <-r.done:
			return 0, false
		default:
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return 0, false
		}
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, isNet := err.(net.Error); isNet && netErr.Timeout() {
				continue
			}
			select {
			case <-r.done:
			default:
				logger.Warn("Peer transfer receive error", "error", err)
			}
			return 0, false
		}
		return n, true
	}
}

// receiveFile reads exactly packetCount content datagrams and appends them
// to the destination file in arrival order. Returns false when the receiver
// was closed mid-transfer.
func (r *Receiver) receiveFile(fileName string, packetCount int, sender string, buf []byte) bool {
	path := filepath.Join(r.dir, sender+"_"+filepath.Base(fileName))

	f, err := os.Create(path)
	if err != nil {
		logger.Error("Cannot create received file", "path", path, "error", err)
		return true
	}

	received := 0
	for i := 0; i < packetCount; i++ {
		n, ok := r.readPacket(buf)
		if !ok {
			_ = f.Close()
			return false
		}
		if _, err := f.Write(buf[:n]); err != nil {
			logger.Error("Cannot write received file", "path", path, "error", err)
			_ = f.Close()
			return true
		}
		received += n
	}

	if err := f.Close(); err != nil {
		logger.Error("Cannot close received file", "path", path, "error", err)
		return true
	}

	logger.Info("Peer transfer received",
		"from", sender,
		"file", path,
		"packets", packetCount,
		"bytes", received)
	if r.OnFileReceived != nil {
		r.OnFileReceived(sender, path, received)
	}
	return true
}

// parseHeader decodes a `UVF <fileName> <packetCount> <senderUsername>`
// handshake datagram. ok is false for content datagrams.
func parseHeader(packet []byte) (fileName string, packetCount int, sender string, ok bool) {
	if !bytes.HasPrefix(packet, []byte(headerTag+" ")) {
		return "", 0, "", false
	}
	fields := strings.Fields(string(packet))
	if len(fields) != 4 {
		return "", 0, "", false
	}
	count, err := strconv.Atoi(fields[2])
	if err != nil || count < 0 {
		return "", 0, "", false
	}
	return fields[1], count, fields[3], true
}
