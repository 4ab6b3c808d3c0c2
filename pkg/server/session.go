package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgenet/edgenet/internal/logger"
	"github.com/edgenet/edgenet/pkg/datastore"
	"github.com/edgenet/edgenet/pkg/protocol"
	"github.com/edgenet/edgenet/pkg/registry"
)

// session handles a single client connection end to end: the authentication
// state machine first, then the command dispatch loop.
type session struct {
	id     uuid.UUID
	server *Server
	conn   net.Conn
	reader *bufio.Reader

	username string
	peerPort int
}

func newSession(s *Server, conn net.Conn) *session {
	return &session{
		id:     uuid.New(),
		server: s,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (s *session) run(ctx context.Context) {
	defer func() { _ = s.conn.Close() }()

	s.server.deps.Metrics.SessionOpened()
	defer s.server.deps.Metrics.SessionClosed()

	logger.Debug("Session opened", "session", s.id, "client", s.conn.RemoteAddr())

	if !s.authenticate(ctx) {
		logger.Debug("Session closed before authentication", "session", s.id)
		return
	}

	s.commandLoop(ctx)
	logger.Debug("Session closed", "session", s.id, "username", s.username)
}

func (s *session) send(expectCommand bool, payload string) bool {
	if err := protocol.WriteFrame(s.conn, expectCommand, payload); err != nil {
		logger.Debug("Write failed", "session", s.id, "error", err)
		return false
	}
	return true
}

func (s *session) read() (string, bool) {
	select {
	case <-s.server.shutdown:
		return "", false
	default:
	}
	msg, err := protocol.ReadRequest(s.reader)
	if err != nil {
		return "", false
	}
	return msg, true
}

// authenticate runs the two-phase login exchange. Consecutive failures from
// both phases accumulate in a single counter; reaching the configured
// threshold blocks the claimed account and ends the session. It returns true
// once the device is registered and the welcome frame has been sent.
func (s *session) authenticate(ctx context.Context) bool {
	deps := s.server.deps
	failed := 0

	if !s.send(false, protocol.MsgUsernameRequest) {
		return false
	}

	for {
		if ctx.Err() != nil {
			return false
		}

		var username string
		var peerPort int

		// Username phase.
		for {
			claim, ok := s.read()
			if !ok {
				return false
			}
			name, port := splitUsernameClaim(claim)

			switch {
			case deps.Credentials.KnownUsername(name) && deps.Devices.Contains(name):
				if !s.send(false, protocol.MsgAlreadyLoggedIn) {
					return false
				}
			case deps.Credentials.KnownUsername(name):
				if deps.Lockouts.IsBlocked(name) {
					s.send(false, protocol.MsgBlockedAccount)
					return false
				}
				username = name
				peerPort = port
			default:
				failed++
				deps.Metrics.AuthFailure()
				if failed >= s.server.config.MaxFailAttempts {
					s.send(false, protocol.MsgMaxFailedAttempts)
					deps.Lockouts.Block(name)
					deps.Metrics.Lockout()
					logger.Info("Account blocked after failed attempts", "username", name)
					return false
				}
				if !s.send(false, protocol.MsgRetryUsernameRequest) {
					return false
				}
			}
			if username != "" {
				break
			}
		}

		if !s.send(false, protocol.MsgPasswordRequest) {
			return false
		}

		// Password phase.
		for {
			password, ok := s.read()
			if !ok {
				return false
			}

			if !deps.Credentials.Verify(username, password) {
				failed++
				deps.Metrics.AuthFailure()
				if failed >= s.server.config.MaxFailAttempts {
					s.send(false, protocol.MsgMaxFailedAttempts)
					deps.Lockouts.Block(username)
					deps.Metrics.Lockout()
					logger.Info("Account blocked after failed attempts", "username", username)
					return false
				}
				if !s.send(false, protocol.MsgRetryPasswordRequest) {
					return false
				}
				continue
			}

			if deps.Lockouts.IsBlocked(username) {
				s.send(false, protocol.MsgBlockedAccount)
				return false
			}

			sourceAddress := remoteHost(s.conn)
			_, err := deps.Devices.Register(username, sourceAddress, peerPort)
			if errors.Is(err, registry.ErrAlreadyRegistered) {
				// The same username completed login on another connection
				// between the username check and now. Start over.
				if !s.send(false, protocol.MsgAlreadyLoggedIn) {
					return false
				}
				break
			}
			if err != nil {
				logger.Error("Device registration failed", "username", username, "error", err)
				return false
			}

			deps.Metrics.DeviceRegistered()
			s.username = username
			s.peerPort = peerPort
			logger.Info("Device authenticated", "username", username, "client", s.conn.RemoteAddr())
			return s.send(true, protocol.MsgWelcome)
		}
	}
}

// splitUsernameClaim extracts the username and the optional peer UDP port the
// client appends to its first reply.
func splitUsernameClaim(claim string) (string, int) {
	name, portField, found := strings.Cut(claim, " ")
	if !found {
		return claim, 0
	}
	port, err := strconv.Atoi(portField)
	if err != nil {
		return claim, 0
	}
	return name, port
}

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func (s *session) commandLoop(ctx context.Context) {
	deps := s.server.deps

	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-s.server.shutdown:
			return
		default:
		}

		raw, ok := s.read()
		if !ok {
			// The device vanished without an OUT command. Its registry
			// entry stays until the same username logs in again after a
			// restart; live re-login attempts see "already logged in".
			logger.Info("Device disconnected without logout", "username", s.username)
			return
		}

		cmd := protocol.ParseCommand(raw)
		deps.Metrics.CommandDispatched(cmd.Verb)

		switch cmd.Verb {
		case protocol.VerbOUT:
			s.send(false, protocol.MsgDisconnected)
			if err := deps.Devices.Unregister(s.username); err != nil {
				logger.Error("Unregister failed", "username", s.username, "error", err)
			}
			deps.Metrics.DeviceUnregistered()
			logger.Info("Device logged out", "username", s.username)
			return
		case protocol.VerbAED:
			s.respond(protocol.VerbAED, s.handleAED())
		case protocol.VerbEDG:
			s.respond(protocol.VerbEDG, s.handleEDG(ctx, cmd.Args))
		case protocol.VerbDTE:
			s.respond(protocol.VerbDTE, s.handleDTE(ctx, cmd.Args))
		case protocol.VerbSCS:
			s.respond(protocol.VerbSCS, s.handleSCS(ctx, cmd.Args))
		case protocol.VerbUED:
			s.respond(protocol.VerbUED, s.handleUED(ctx, cmd.Args, cmd.Body))
		default:
			logger.Debug("Unrecognized message", "session", s.id, "message", raw)
			if !s.send(true, protocol.MsgUnrecognized) {
				return
			}
		}
	}
}

// respond sends the command result followed by the frame inviting the next
// command.
func (s *session) respond(verb, body string) {
	if !s.send(false, protocol.Response(verb, body)) {
		return
	}
	s.send(true, protocol.MsgCommandRequest)
}

func (s *session) handleAED() string {
	others := s.server.deps.Devices.ListOthers(s.username)
	if len(others) == 0 {
		return protocol.MsgNoOtherDevices
	}
	lines := make([]string, 0, len(others))
	for _, device := range others {
		lines = append(lines, protocol.FormatDeviceLine(
			device.Username,
			device.JoinedAt.Format(protocol.TimestampLayout),
			device.SourceAddress,
			device.PeerPort,
		))
	}
	return strings.Join(lines, "\n")
}

func (s *session) handleEDG(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "EDG command requires fileID and dataAmount as arguments."
	}
	fileID, errID := strconv.Atoi(args[0])
	dataAmount, errAmount := strconv.Atoi(args[1])
	if errID != nil || errAmount != nil {
		return "The fileID or dataAmount are not integers, you need to specify the parameter as integers."
	}

	var builder strings.Builder
	for i := 1; i <= dataAmount; i++ {
		if i > 1 {
			builder.WriteByte('\n')
		}
		builder.WriteString(strconv.Itoa(i))
	}

	if err := s.server.deps.Payloads.Put(ctx, s.username, args[0], []byte(builder.String())); err != nil {
		logger.Error("Payload write failed", "username", s.username, "file_id", fileID, "error", err)
		return "Data generation failed."
	}
	logger.Info("Data generated", "username", s.username, "file_id", fileID, "amount", dataAmount)
	return "Data generation done."
}

func (s *session) handleDTE(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "DTE command requires fileID as argument."
	}
	fileID := args[0]
	deps := s.server.deps

	data, err := deps.Payloads.Get(ctx, s.username, fileID)
	if errors.Is(err, datastore.ErrNotFound) {
		return protocol.MsgFileNotFound
	}
	if err != nil {
		logger.Error("Payload read failed", "username", s.username, "file_id", fileID, "error", err)
		return protocol.MsgFileNotFound
	}

	dataAmount := datastore.LineCount(data)
	if err := deps.Payloads.Delete(ctx, s.username, fileID); err != nil {
		logger.Error("Payload delete failed", "username", s.username, "file_id", fileID, "error", err)
		return protocol.MsgFileNotFound
	}

	timestamp := time.Now().Format(protocol.TimestampLayout)
	if err := deps.DeletionLog.Append(s.username, timestamp, fileID, strconv.Itoa(dataAmount)); err != nil {
		logger.Error("Deletion log write failed", "error", err)
	}
	logger.Info("Data deleted", "username", s.username, "file_id", fileID, "amount", dataAmount)
	return "file with ID of " + fileID + " has been successfully removed"
}

func (s *session) handleSCS(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "SCS command requires fileID and computationOperation as arguments."
	}
	fileID := args[0]

	op, ok := parseAggregateOp(args[1])
	if !ok {
		return "invalid computation operation, expected one of SUM, AVERAGE, MAX, MIN"
	}

	data, err := s.server.deps.Payloads.Get(ctx, s.username, fileID)
	if errors.Is(err, datastore.ErrNotFound) {
		return protocol.MsgFileNotFound
	}
	if err != nil {
		logger.Error("Payload read failed", "username", s.username, "file_id", fileID, "error", err)
		return protocol.MsgFileNotFound
	}

	return computeAggregate(op, data)
}

func (s *session) handleUED(ctx context.Context, args []string, body string) string {
	if len(args) < 1 {
		return "fileID is required to upload data"
	}
	fileID := args[0]
	deps := s.server.deps

	if err := deps.Payloads.Put(ctx, s.username, fileID, []byte(body)); err != nil {
		logger.Error("Payload write failed", "username", s.username, "file_id", fileID, "error", err)
		return "file upload failed"
	}

	dataAmount := datastore.LineCount([]byte(body))
	timestamp := time.Now().Format(protocol.TimestampLayout)
	if err := deps.UploadLog.Append(s.username, timestamp, fileID, strconv.Itoa(dataAmount)); err != nil {
		logger.Error("Upload log write failed", "error", err)
	}
	logger.Info("Data uploaded", "username", s.username, "file_id", fileID, "amount", dataAmount)
	return "file with ID of " + fileID + " has been successfully uploaded"
}
