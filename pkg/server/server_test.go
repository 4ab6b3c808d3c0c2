package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgenet/edgenet/pkg/auditlog"
	"github.com/edgenet/edgenet/pkg/credentials"
	"github.com/edgenet/edgenet/pkg/datastore"
	"github.com/edgenet/edgenet/pkg/lockout"
	"github.com/edgenet/edgenet/pkg/protocol"
	"github.com/edgenet/edgenet/pkg/registry"
)

type testEnv struct {
	srv         *Server
	addr        string
	payloads    datastore.Store
	deletionLog string
	uploadLog   string
}

func newTestEnv(t *testing.T, maxFail int, cooldown time.Duration) *testEnv {
	t.Helper()

	dir := t.TempDir()
	credPath := filepath.Join(dir, "credentials.txt")
	require.NoError(t, os.WriteFile(credPath, []byte("alpha secret\nbeta hunter2\n"), 0o600))

	creds, err := credentials.NewStore(credPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = creds.Close() })

	payloads, err := datastore.NewFSStore(filepath.Join(dir, "payloads"))
	require.NoError(t, err)

	lockouts := lockout.NewRegistry(cooldown)
	t.Cleanup(lockouts.Close)

	env := &testEnv{
		payloads:    payloads,
		deletionLog: filepath.Join(dir, "deletion-log.txt"),
		uploadLog:   filepath.Join(dir, "upload-log.txt"),
	}

	env.srv = New(Config{
		Host:            "127.0.0.1",
		Port:            0,
		MaxFailAttempts: maxFail,
		MaxConnections:  16,
	}, Deps{
		Credentials: creds,
		Lockouts:    lockouts,
		Devices:     registry.New(auditlog.NewRewriteLog(filepath.Join(dir, "edge-device-log.txt"))),
		Payloads:    payloads,
		DeletionLog: auditlog.NewAppendLog(env.deletionLog),
		UploadLog:   auditlog.NewAppendLog(env.uploadLog),
	})

	go func() { _ = env.srv.Serve(context.Background()) }()
	<-env.srv.WaitReady()
	t.Cleanup(env.srv.Stop)

	env.addr = env.srv.Addr().String()
	return env
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialTest(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) sendLine(text string) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteRequest(c.conn, text))
}

func (c *testClient) readFrame() protocol.Frame {
	c.t.Helper()
	frame, err := protocol.ReadFrame(c.reader)
	require.NoError(c.t, err)
	return frame
}

func (c *testClient) expect(payload string) protocol.Frame {
	c.t.Helper()
	frame := c.readFrame()
	require.Equal(c.t, payload, frame.Payload)
	return frame
}

func (c *testClient) login(username, password string, udpPort int) {
	c.t.Helper()
	c.expect(protocol.MsgUsernameRequest)
	c.sendLine(fmt.Sprintf("%s %d", username, udpPort))
	c.expect(protocol.MsgPasswordRequest)
	c.sendLine(password)
	frame := c.expect(protocol.MsgWelcome)
	require.True(c.t, frame.ExpectCommand)
}

// command sends a request and returns the body of the command response after
// consuming the follow-up command-request frame.
func (c *testClient) command(verb, request string) string {
	c.t.Helper()
	c.sendLine(request)
	frame := c.readFrame()
	prefix := verb + " resp: \n"
	require.True(c.t, strings.HasPrefix(frame.Payload, prefix), "payload %q", frame.Payload)
	next := c.expect(protocol.MsgCommandRequest)
	require.True(c.t, next.ExpectCommand)
	return strings.TrimPrefix(frame.Payload, prefix)
}

func TestAuthentication_Success(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.login("alpha", "secret", 7001)

	assert.True(t, env.srv.deps.Devices.Contains("alpha"))
	addr, port, ok := env.srv.deps.Devices.Lookup("alpha")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", addr)
	assert.Equal(t, 7001, port)
}

func TestAuthentication_RetryUnknownUsername(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.expect(protocol.MsgUsernameRequest)
	client.sendLine("nobody 7001")
	client.expect(protocol.MsgRetryUsernameRequest)
	client.sendLine("alpha 7001")
	client.expect(protocol.MsgPasswordRequest)
}

func TestAuthentication_LockoutAfterPasswordFailures(t *testing.T) {
	env := newTestEnv(t, 3, 200*time.Millisecond)

	client := dialTest(t, env.addr)
	client.expect(protocol.MsgUsernameRequest)
	client.sendLine("alpha 7001")
	client.expect(protocol.MsgPasswordRequest)
	client.sendLine("wrong")
	client.expect(protocol.MsgRetryPasswordRequest)
	client.sendLine("wrong")
	client.expect(protocol.MsgRetryPasswordRequest)
	client.sendLine("wrong")
	client.expect(protocol.MsgMaxFailedAttempts)

	// The blocked account is rejected before the password phase.
	second := dialTest(t, env.addr)
	second.expect(protocol.MsgUsernameRequest)
	second.sendLine("alpha 7001")
	second.expect(protocol.MsgBlockedAccount)

	// Correct credentials do not bypass an active lockout.
	assert.True(t, env.srv.deps.Lockouts.IsBlocked("alpha"))

	// After the cooldown the account works again.
	require.Eventually(t, func() bool {
		return !env.srv.deps.Lockouts.IsBlocked("alpha")
	}, 2*time.Second, 20*time.Millisecond)

	third := dialTest(t, env.addr)
	third.login("alpha", "secret", 7001)
}

func TestAuthentication_SharedFailureCounter(t *testing.T) {
	env := newTestEnv(t, 3, 200*time.Millisecond)

	// One bad username plus two bad passwords reaches the threshold.
	client := dialTest(t, env.addr)
	client.expect(protocol.MsgUsernameRequest)
	client.sendLine("nobody 7001")
	client.expect(protocol.MsgRetryUsernameRequest)
	client.sendLine("alpha 7001")
	client.expect(protocol.MsgPasswordRequest)
	client.sendLine("wrong")
	client.expect(protocol.MsgRetryPasswordRequest)
	client.sendLine("wrong")
	client.expect(protocol.MsgMaxFailedAttempts)

	assert.True(t, env.srv.deps.Lockouts.IsBlocked("alpha"))
}

func TestAuthentication_AlreadyLoggedIn(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	first := dialTest(t, env.addr)
	first.login("alpha", "secret", 7001)

	second := dialTest(t, env.addr)
	second.expect(protocol.MsgUsernameRequest)
	second.sendLine("alpha 7002")
	second.expect(protocol.MsgAlreadyLoggedIn)
	second.sendLine("beta 7002")
	second.expect(protocol.MsgPasswordRequest)
	second.sendLine("hunter2")
	second.expect(protocol.MsgWelcome)
}

func TestAuthentication_RegistrationRaceReprompts(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	// First connection clears the username check for alpha, then stalls in
	// the password phase.
	first := dialTest(t, env.addr)
	first.expect(protocol.MsgUsernameRequest)
	first.sendLine("alpha 7001")
	first.expect(protocol.MsgPasswordRequest)

	// Meanwhile a second connection completes the alpha login.
	second := dialTest(t, env.addr)
	second.login("alpha", "secret", 7002)

	// The correct password no longer registers; the first connection is
	// told the name is taken and asked to start over.
	first.sendLine("secret")
	first.expect(protocol.MsgAlreadyLoggedIn)
	first.sendLine("beta 7001")
	first.expect(protocol.MsgPasswordRequest)
	first.sendLine("hunter2")
	first.expect(protocol.MsgWelcome)

	assert.True(t, env.srv.deps.Devices.Contains("alpha"))
	assert.True(t, env.srv.deps.Devices.Contains("beta"))
	_, port, ok := env.srv.deps.Devices.Lookup("alpha")
	require.True(t, ok)
	assert.Equal(t, 7002, port)
}

func TestCommands_GenerateAndCompute(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.login("alpha", "secret", 7001)

	assert.Equal(t, "Data generation done.", client.command("EDG", "EDG 7 5"))
	assert.Equal(t, "15", client.command("SCS", "SCS 7 SUM"))
	assert.Equal(t, "3.0", client.command("SCS", "SCS 7 AVERAGE"))
	assert.Equal(t, "5", client.command("SCS", "SCS 7 MAX"))
	assert.Equal(t, "1", client.command("SCS", "SCS 7 MIN"))
}

func TestCommands_GenerateStoresExactLines(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.login("alpha", "secret", 7001)
	client.command("EDG", "EDG 7 5")

	// One number per line, no trailing newline.
	data, err := env.payloads.Get(context.Background(), "alpha", "7")
	require.NoError(t, err)
	assert.Equal(t, []byte("1\n2\n3\n4\n5"), data)
}

func TestCommands_GenerateRejectsNonIntegers(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.login("alpha", "secret", 7001)

	body := client.command("EDG", "EDG seven 5")
	assert.Equal(t, "The fileID or dataAmount are not integers, you need to specify the parameter as integers.", body)
}

func TestCommands_ComputeEdgeCases(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.login("alpha", "secret", 7001)

	assert.Equal(t, protocol.MsgFileNotFound, client.command("SCS", "SCS 42 SUM"))

	client.command("EDG", "EDG 9 0")
	assert.Equal(t, "Null", client.command("SCS", "SCS 9 SUM"))

	body := client.command("SCS", "SCS 9 MEDIAN")
	assert.Contains(t, body, "invalid computation operation")
}

func TestCommands_Delete(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.login("alpha", "secret", 7001)

	client.command("EDG", "EDG 3 4")
	assert.Equal(t, "file with ID of 3 has been successfully removed", client.command("DTE", "DTE 3"))

	data, err := os.ReadFile(env.deletionLog)
	require.NoError(t, err)
	line := strings.TrimRight(string(data), "\n")
	assert.True(t, strings.HasPrefix(line, "alpha; "), "line %q", line)
	assert.True(t, strings.HasSuffix(line, "; 3; 4"), "line %q", line)

	// A second deletion of the same file must not touch the log again.
	assert.Equal(t, protocol.MsgFileNotFound, client.command("DTE", "DTE 3"))
	after, err := os.ReadFile(env.deletionLog)
	require.NoError(t, err)
	assert.Equal(t, data, after)
}

func TestCommands_Upload(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.login("alpha", "secret", 7001)

	body := client.command("UED", "UED 4\n10\n20\n30")
	assert.Equal(t, "file with ID of 4 has been successfully uploaded", body)
	assert.Equal(t, "20.0", client.command("SCS", "SCS 4 AVERAGE"))

	data, err := os.ReadFile(env.uploadLog)
	require.NoError(t, err)
	line := strings.TrimRight(string(data), "\n")
	assert.True(t, strings.HasSuffix(line, "; 4; 3"), "line %q", line)
}

func TestCommands_ActiveDevices(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	alpha := dialTest(t, env.addr)
	alpha.login("alpha", "secret", 7001)

	assert.Equal(t, protocol.MsgNoOtherDevices, alpha.command("AED", "AED"))

	beta := dialTest(t, env.addr)
	beta.login("beta", "hunter2", 7002)

	body := alpha.command("AED", "AED")
	entry, ok := protocol.ParseDeviceLine(body)
	require.True(t, ok, "body %q", body)
	assert.Equal(t, "beta", entry.Name)
	assert.Equal(t, "127.0.0.1", entry.Address)
	assert.Equal(t, 7002, entry.UDPPort)

	beta.sendLine("OUT")
	beta.expect(protocol.MsgDisconnected)

	require.Eventually(t, func() bool {
		return !env.srv.deps.Devices.Contains("beta")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, protocol.MsgNoOtherDevices, alpha.command("AED", "AED"))
}

func TestCommands_Logout(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.login("alpha", "secret", 7001)
	client.sendLine("OUT")
	frame := client.expect(protocol.MsgDisconnected)
	assert.False(t, frame.ExpectCommand)

	require.Eventually(t, func() bool {
		return env.srv.deps.Devices.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCommands_Unrecognized(t *testing.T) {
	env := newTestEnv(t, 3, lockout.DefaultCooldown)

	client := dialTest(t, env.addr)
	client.login("alpha", "secret", 7001)

	client.sendLine("BOGUS")
	frame := client.expect(protocol.MsgUnrecognized)
	assert.True(t, frame.ExpectCommand)

	// The session survives an unrecognized message.
	assert.Equal(t, "Data generation done.", client.command("EDG", "EDG 1 1"))
}
