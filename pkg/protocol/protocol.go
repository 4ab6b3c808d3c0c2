// Package protocol implements the line-oriented wire format spoken between
// the coordination server and edge-device clients.
//
// Every server-to-client frame carries a four-byte control header followed by
// a free-form payload and a carriage-return terminator:
//
//	RC1;<payload>\r   server expects a standard command next
//	RC0;<payload>\r   server expects some other input (credentials, nothing)
//
// Client-to-server requests are plain text, also carriage-return terminated.
// The payload of a UED request carries the raw file body inline after the
// first newline, so '\n' is never a frame boundary.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Control header prefixes.
const (
	headerCommand = "RC1;"
	headerOther   = "RC0;"
)

// frameTerminator delimits frames in both directions.
const frameTerminator = '\r'

// TimestampLayout is the human-readable timestamp format used in device
// listings and audit logs.
const TimestampLayout = "02 January 2006 15:04:05"

// Command verbs accepted by the dispatch loop.
const (
	VerbAED = "AED"
	VerbEDG = "EDG"
	VerbDTE = "DTE"
	VerbSCS = "SCS"
	VerbUED = "UED"
	VerbOUT = "OUT"
	VerbUVF = "UVF" // client-local, resolved via AED; never dispatched server-side
)

// Canonical server message strings. Client control flow branches on these
// verbatim, so they must not change.
const (
	MsgUsernameRequest      = "username authentication request"
	MsgRetryUsernameRequest = "retry username authentication request"
	MsgPasswordRequest      = "password authentication request"
	MsgRetryPasswordRequest = "retry password authentication request"
	MsgAlreadyLoggedIn      = "username already logged in"
	MsgBlockedAccount       = "blocked account"
	MsgMaxFailedAttempts    = "max failed attempts"
	MsgWelcome              = "welcome"
	MsgCommandRequest       = "command request"
	MsgDisconnected         = "successfully disconnected"
	MsgUnrecognized         = "Cannot understand this message"
	MsgNoOtherDevices       = "no other active edge devices"
	MsgFileNotFound         = "the file does not exist"
)

var (
	// ErrMissingHeader indicates a server frame without an RC0;/RC1; prefix.
	ErrMissingHeader = errors.New("frame missing control header")
)

// Frame is one decoded server-to-client unit.
type Frame struct {
	// ExpectCommand is true when the server signalled that a standard
	// command should be sent next (RC1).
	ExpectCommand bool

	// Payload is the human-readable frame body with header and terminator
	// stripped.
	Payload string
}

// WriteFrame encodes and writes one server-to-client frame.
func WriteFrame(w io.Writer, expectCommand bool, payload string) error {
	header := headerOther
	if expectCommand {
		header = headerCommand
	}
	if _, err := io.WriteString(w, header+payload+string(frameTerminator)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes one server-to-client frame.
// EOF is returned unwrapped so callers can detect orderly disconnect.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	raw, err := r.ReadString(frameTerminator)
	if err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("read frame: %w", err)
	}
	raw = strings.TrimSuffix(raw, string(frameTerminator))

	switch {
	case strings.HasPrefix(raw, headerCommand):
		return Frame{ExpectCommand: true, Payload: raw[len(headerCommand):]}, nil
	case strings.HasPrefix(raw, headerOther):
		return Frame{ExpectCommand: false, Payload: raw[len(headerOther):]}, nil
	default:
		return Frame{}, ErrMissingHeader
	}
}

// WriteRequest writes one client-to-server request.
func WriteRequest(w io.Writer, text string) error {
	if _, err := io.WriteString(w, text+string(frameTerminator)); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// ReadRequest reads one client-to-server request.
// EOF is returned unwrapped so callers can detect client disconnect.
func ReadRequest(r *bufio.Reader) (string, error) {
	raw, err := r.ReadString(frameTerminator)
	if err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", fmt.Errorf("read request: %w", err)
	}
	return strings.TrimSuffix(raw, string(frameTerminator)), nil
}

// Command is one parsed client request. Commands are stateless and built
// fresh per received frame.
type Command struct {
	Verb string
	Args []string

	// Body holds everything after the first newline of the request.
	// Only UED carries a body (the uploaded file content, verbatim).
	Body string
}

// ParseCommand splits a raw request into verb, arguments and inline body.
func ParseCommand(raw string) Command {
	head := raw
	var body string
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		head = raw[:idx]
		body = raw[idx+1:]
	}

	fields := strings.Fields(head)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{
		Verb: fields[0],
		Args: fields[1:],
		Body: body,
	}
}

// Response builds the fixed per-verb response header followed by the body.
func Response(verb, body string) string {
	return verb + " resp: \n" + body
}

// FormatDeviceLine renders one entry of an active-device listing.
func FormatDeviceLine(name, since, addr string, port int) string {
	return fmt.Sprintf("%s, active since %s, IP address: %s, UDP port number: %d", name, since, addr, port)
}

// DeviceEntry is one parsed line of an active-device listing.
type DeviceEntry struct {
	Name    string
	Since   string
	Address string
	UDPPort int
}

// ParseDeviceLine extracts the fields of a listing entry produced by
// FormatDeviceLine. ok is false when the line does not match the expected
// shape.
func ParseDeviceLine(line string) (DeviceEntry, bool) {
	var entry DeviceEntry
	var found bool
	var rest string

	entry.Name, rest, found = strings.Cut(line, ", active since ")
	if !found {
		return DeviceEntry{}, false
	}
	entry.Since, rest, found = strings.Cut(rest, ", IP address: ")
	if !found {
		return DeviceEntry{}, false
	}
	var portStr string
	entry.Address, portStr, found = strings.Cut(rest, ", UDP port number: ")
	if !found {
		return DeviceEntry{}, false
	}
	if _, err := fmt.Sscanf(portStr, "%d", &entry.UDPPort); err != nil {
		return DeviceEntry{}, false
	}
	return entry, true
}
