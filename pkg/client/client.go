// Package client implements the interactive edge-device client: the frame
// loop driving the login exchange, the command REPL with local validation,
// and the peer-to-peer file send.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgenet/edgenet/internal/cli/output"
	"github.com/edgenet/edgenet/internal/logger"
	"github.com/edgenet/edgenet/pkg/protocol"
	"github.com/edgenet/edgenet/pkg/transfer"
)

// Prompter supplies the interactive inputs the frame loop needs. Tests
// script it; the binary wires the promptui-backed implementation.
type Prompter interface {
	Username() (string, error)
	Password() (string, error)
	Command() (string, error)
}

// Config holds connection and transfer settings for a Client.
type Config struct {
	// ServerAddress is the host:port of the coordination server.
	ServerAddress string

	// UDPPort is the local receiver port advertised to the server during
	// login, so peers can address file transfers to this device.
	UDPPort int

	// PacketSize and PacingDelay tune outgoing peer transfers.
	PacketSize  int
	PacingDelay time.Duration
}

// Client drives one session against the coordination server.
type Client struct {
	config   Config
	prompter Prompter
	out      io.Writer

	conn     net.Conn
	reader   *bufio.Reader
	sender   *transfer.Sender
	username string
}

// New creates a Client. Call Connect before Run.
func New(cfg Config, prompter Prompter, out io.Writer) *Client {
	return &Client{
		config:   cfg,
		prompter: prompter,
		out:      out,
		sender: &transfer.Sender{
			PacketSize:  cfg.PacketSize,
			PacingDelay: cfg.PacingDelay,
		},
	}
}

// Connect dials the server.
func (c *Client) Connect(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.config.ServerAddress)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.config.ServerAddress, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	logger.Debug("Connected", "server", c.config.ServerAddress)
	return nil
}

// Close releases the server connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Run reads server frames until the session ends. Each frame is handled
// according to its payload; frames flagged as expecting a command trigger the
// command prompt afterwards.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		frame, err := protocol.ReadFrame(c.reader)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out, "Server closed the connection.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read server frame: %w", err)
		}

		quit, err := c.handleFrame(frame)
		if err != nil || quit {
			return err
		}

		if frame.ExpectCommand {
			if err := c.commandPrompt(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Client) handleFrame(frame protocol.Frame) (bool, error) {
	switch frame.Payload {
	case protocol.MsgUsernameRequest:
		return false, c.sendUsername()
	case protocol.MsgRetryUsernameRequest:
		fmt.Fprintln(c.out, "Invalid Username. Please try again.")
		return false, c.sendUsername()
	case protocol.MsgAlreadyLoggedIn:
		fmt.Fprintln(c.out, "This username is already logged in. Try another.")
		return false, c.sendUsername()
	case protocol.MsgPasswordRequest:
		return false, c.sendPassword()
	case protocol.MsgRetryPasswordRequest:
		fmt.Fprintln(c.out, "Invalid Password. Please try again.")
		return false, c.sendPassword()
	case protocol.MsgMaxFailedAttempts:
		fmt.Fprintln(c.out, "Invalid Password. Your account has been blocked. Please try again later")
		return true, nil
	case protocol.MsgBlockedAccount:
		fmt.Fprintln(c.out, "Your account is blocked due to multiple authentication failures. Please try again later")
		return true, nil
	case protocol.MsgDisconnected:
		fmt.Fprintln(c.out, "Successfully logged out. Goodbye!")
		return true, nil
	case protocol.MsgWelcome:
		fmt.Fprintln(c.out, "Welcome!")
		return false, nil
	case protocol.MsgCommandRequest:
		return false, nil
	}

	if verb, body, ok := splitResponse(frame.Payload); ok {
		c.printResponse(verb, body)
		return false, nil
	}

	fmt.Fprintf(c.out, "Error: Unknown server response received - %s\n", frame.Payload)
	return false, nil
}

func (c *Client) sendUsername() error {
	username, err := c.prompter.Username()
	if err != nil {
		return err
	}
	c.username = strings.TrimSpace(username)
	return protocol.WriteRequest(c.conn, fmt.Sprintf("%s %d", c.username, c.config.UDPPort))
}

func (c *Client) sendPassword() error {
	password, err := c.prompter.Password()
	if err != nil {
		return err
	}
	return protocol.WriteRequest(c.conn, strings.TrimSpace(password))
}

func splitResponse(payload string) (verb, body string, ok bool) {
	verb, body, found := strings.Cut(payload, " resp: \n")
	if !found || len(verb) != 3 {
		return "", "", false
	}
	return verb, body, true
}

func (c *Client) printResponse(verb, body string) {
	if verb == protocol.VerbAED {
		c.printDevices(body)
		return
	}
	fmt.Fprintln(c.out, body)
}

// printDevices renders an active-device listing as a table, falling back to
// the raw text when a line does not parse.
func (c *Client) printDevices(body string) {
	if body == protocol.MsgNoOtherDevices {
		fmt.Fprintln(c.out, body)
		return
	}

	table := output.NewTableData("Device", "Active Since", "IP Address", "UDP Port")
	for _, line := range strings.Split(body, "\n") {
		entry, ok := protocol.ParseDeviceLine(line)
		if !ok {
			fmt.Fprintln(c.out, body)
			return
		}
		table.AddRow(entry.Name, entry.Since, entry.Address, fmt.Sprintf("%d", entry.UDPPort))
	}
	_ = output.PrintTable(c.out, table)
}

// commandPrompt keeps asking for a command until one request has been sent
// to the server. Locally handled inputs (validation failures and the UVF
// peer transfer) do not consume the pending command request.
func (c *Client) commandPrompt(ctx context.Context) error {
	for {
		line, err := c.prompter.Command()
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)

		verb := line
		if len(verb) > 3 {
			verb = verb[:3]
		}

		switch verb {
		case protocol.VerbEDG, protocol.VerbSCS, protocol.VerbDTE, protocol.VerbAED, protocol.VerbOUT:
			return protocol.WriteRequest(c.conn, line)
		case protocol.VerbUED:
			sent, err := c.uploadCommand(line)
			if err != nil {
				return err
			}
			if sent {
				return nil
			}
		case protocol.VerbUVF:
			if err := c.transferCommand(ctx, line); err != nil {
				return err
			}
		default:
			fmt.Fprintln(c.out, "Invalid command.")
		}
	}
}

// uploadCommand reads the local payload file and sends the upload request
// with the file content as the body. The device keeps its payloads in files
// named <username>-<fileID>.txt in the working directory.
func (c *Client) uploadCommand(line string) (bool, error) {
	args := strings.Fields(line)
	if len(args) != 2 {
		fmt.Fprintln(c.out, "A fileID is needed to upload data.")
		return false, nil
	}

	path := fmt.Sprintf("%s-%s.txt", c.username, args[1])
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(c.out, "The file to be uploaded does not exist.")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read upload file %s: %w", path, err)
	}

	request := line + "\n" + string(data)
	if err := protocol.WriteRequest(c.conn, request); err != nil {
		return false, err
	}
	return true, nil
}

// transferCommand sends a file to another active device over UDP. The target
// address and port come from an active-device listing fetched inline, so the
// pending command request stays unconsumed.
func (c *Client) transferCommand(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) != 3 {
		fmt.Fprintln(c.out, "A deviceName and fileName are required to send file.")
		return nil
	}
	deviceName, fileName := args[1], args[2]

	data, err := os.ReadFile(fileName)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(c.out, "The file to be sent does not exist.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read transfer file %s: %w", fileName, err)
	}

	entry, found, err := c.lookupDevice(deviceName)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(c.out, "%s is offline.\n", deviceName)
		return nil
	}

	target := net.JoinHostPort(entry.Address, fmt.Sprintf("%d", entry.UDPPort))
	if err := c.sender.SendFile(ctx, target, c.username, filepath.Base(fileName), data); err != nil {
		fmt.Fprintf(c.out, "Failed to send %s to %s: %v\n", fileName, deviceName, err)
		return nil
	}
	fmt.Fprintf(c.out, "%s sent to %s.\n", fileName, deviceName)
	return nil
}

// lookupDevice resolves a device name to its address and receiver port via
// an active-device listing. The follow-up command-request frame is consumed
// here so the REPL stays in lockstep with the server.
func (c *Client) lookupDevice(deviceName string) (protocol.DeviceEntry, bool, error) {
	if err := protocol.WriteRequest(c.conn, protocol.VerbAED); err != nil {
		return protocol.DeviceEntry{}, false, err
	}

	response, err := protocol.ReadFrame(c.reader)
	if err != nil {
		return protocol.DeviceEntry{}, false, fmt.Errorf("read device listing: %w", err)
	}
	if _, err := protocol.ReadFrame(c.reader); err != nil {
		return protocol.DeviceEntry{}, false, fmt.Errorf("read device listing: %w", err)
	}

	_, body, ok := splitResponse(response.Payload)
	if !ok || body == protocol.MsgNoOtherDevices {
		return protocol.DeviceEntry{}, false, nil
	}

	for _, line := range strings.Split(body, "\n") {
		entry, ok := protocol.ParseDeviceLine(line)
		if ok && entry.Name == deviceName {
			return entry, true, nil
		}
	}
	return protocol.DeviceEntry{}, false, nil
}
