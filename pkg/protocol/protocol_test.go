package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteFrame(&buf, true, MsgCommandRequest))
	require.NoError(t, WriteFrame(&buf, false, MsgPasswordRequest))
	require.NoError(t, WriteFrame(&buf, false, Response(VerbAED, "dev2, active since x")))

	r := bufio.NewReader(&buf)

	frame, err := ReadFrame(r)
	require.NoError(t, err)
	assert.True(t, frame.ExpectCommand)
	assert.Equal(t, MsgCommandRequest, frame.Payload)

	frame, err = ReadFrame(r)
	require.NoError(t, err)
	assert.False(t, frame.ExpectCommand)
	assert.Equal(t, MsgPasswordRequest, frame.Payload)

	frame, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "AED resp: \ndev2, active since x", frame.Payload)

	_, err = ReadFrame(r)
	assert.Equal(t, io.EOF, err)
}

func TestReadFrame_MissingHeader(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("no header here\r"))
	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestRequestRoundTrip_PreservesBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, "UED 7\n1\n2\n3"))

	raw, err := ReadRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "UED 7\n1\n2\n3", raw)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Command
	}{
		{
			name: "bare verb",
			raw:  "AED",
			want: Command{Verb: "AED", Args: []string{}},
		},
		{
			name: "verb with args",
			raw:  "EDG 7 5",
			want: Command{Verb: "EDG", Args: []string{"7", "5"}},
		},
		{
			name: "upload with body",
			raw:  "UED 3\nline one\nline two",
			want: Command{Verb: "UED", Args: []string{"3"}, Body: "line one\nline two"},
		},
		{
			name: "empty request",
			raw:  "",
			want: Command{},
		},
		{
			name: "whitespace only",
			raw:  "   ",
			want: Command{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCommand(tt.raw)
			assert.Equal(t, tt.want.Verb, got.Verb)
			assert.Equal(t, tt.want.Body, got.Body)
			if len(tt.want.Args) > 0 || len(got.Args) > 0 {
				assert.Equal(t, tt.want.Args, got.Args)
			}
		})
	}
}

func TestDeviceLineRoundTrip(t *testing.T) {
	line := FormatDeviceLine("sensor2", "01 March 2024 10:30:00", "192.168.1.7", 5001)
	assert.Equal(t, "sensor2, active since 01 March 2024 10:30:00, IP address: 192.168.1.7, UDP port number: 5001", line)

	entry, ok := ParseDeviceLine(line)
	require.True(t, ok)
	assert.Equal(t, "sensor2", entry.Name)
	assert.Equal(t, "01 March 2024 10:30:00", entry.Since)
	assert.Equal(t, "192.168.1.7", entry.Address)
	assert.Equal(t, 5001, entry.UDPPort)
}

func TestParseDeviceLine_Malformed(t *testing.T) {
	_, ok := ParseDeviceLine("no other active edge devices")
	assert.False(t, ok)
}
