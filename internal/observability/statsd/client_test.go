package statsd

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func readPacket(t *testing.T, pc net.PacketConn) string {
	t.Helper()
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64*1024)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" job/added ":       "job_added",
		"jobs..completed":   "jobs.completed",
		".queue.depth.":     "queue.depth",
		"queue:email|count": "queue_email_count",
		"":                  "",
	}
	for input, want := range tests {
		assert.Equal(t, want, normalizeName(input), "normalizeName(%q)", input)
	}
}

func TestJoinName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jobqueue.jobs.added", joinName("jobqueue", "jobs.added"))
	assert.Equal(t, "jobs.added", joinName("", "jobs.added"))
	assert.Empty(t, joinName("jobqueue", " .. "))
}

func TestFormatLine(t *testing.T) {
	t.Parallel()

	tags := mergeTags(
		map[string]string{"env": "prod", " service ": " worker "},
		map[string]string{"queue": " email ", "": "ignored", "env": "stage", "flag": ""},
	)
	got := formatLine("jobqueue.jobs.completed", countValue(3), kindCount, tags)
	assert.Equal(t, "jobqueue.jobs.completed:3|c|#env:stage,flag,queue:email,service:worker", got)

	assert.Equal(t, "q.depth:2.5|g", formatLine("q.depth", gaugeValue(2.5), kindGauge, nil))
	assert.Equal(t, "q.run:1.5|ms", formatLine("q.run", timingValue(1500*time.Microsecond), kindTiming, nil))
}

func TestMergeTagsDoesNotAlias(t *testing.T) {
	t.Parallel()

	base := map[string]string{"env": "prod"}
	merged := mergeTags(base, nil)
	merged["env"] = "stage"
	assert.Equal(t, "prod", base["env"])
	assert.NotNil(t, mergeTags(nil, nil))
}

func TestClientFlushWritesBatchedLines(t *testing.T) {
	t.Parallel()

	pc := listen(t)
	client, err := NewClient(Config{
		Enabled:       true,
		Address:       pc.LocalAddr().String(),
		Prefix:        ".jobqueue.",
		GlobalTags:    map[string]string{"env": "test"},
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.Enabled())

	client.Count("jobs.added", 2, map[string]string{"queue": "email"})
	client.Gauge("jobs.active", 1, nil)
	client.Timing("jobs.duration", 250*time.Millisecond, nil)
	client.Flush()

	lines := strings.Split(readPacket(t, pc), "\n")
	assert.Equal(t, []string{
		"jobqueue.jobs.added:2|c|#env:test,queue:email",
		"jobqueue.jobs.active:1|g|#env:test",
		"jobqueue.jobs.duration:250|ms|#env:test",
	}, lines)
}

func TestClientSplitsPacketsAtMaxSize(t *testing.T) {
	t.Parallel()

	pc := listen(t)
	client, err := NewClient(Config{
		Enabled:       true,
		Address:       pc.LocalAddr().String(),
		MaxPacketSize: 40,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	defer client.Close()

	// Each line is 19 bytes, so two fit (39 with the separator) and a third forces a write.
	client.Count("jobs.added.aaaa", 1, nil)
	client.Count("jobs.added.bbbb", 1, nil)
	client.Count("jobs.added.cccc", 1, nil)

	assert.Equal(t, "jobs.added.aaaa:1|c\njobs.added.bbbb:1|c", readPacket(t, pc))

	client.Flush()
	assert.Equal(t, "jobs.added.cccc:1|c", readPacket(t, pc))
}

func TestClientFlushesOnInterval(t *testing.T) {
	t.Parallel()

	pc := listen(t)
	client, err := NewClient(Config{
		Enabled:       true,
		Address:       pc.LocalAddr().String(),
		FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer client.Close()

	client.Count("reaper.removed", 4, nil)
	assert.Equal(t, "reaper.removed:4|c", readPacket(t, pc))
}

func TestClientCloseFlushesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	pc := listen(t)
	client, err := NewClient(Config{
		Enabled:       true,
		Address:       pc.LocalAddr().String(),
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	client.Count("jobs.failed", 1, nil)
	require.NoError(t, client.Close())
	assert.Equal(t, "jobs.failed:1|c", readPacket(t, pc))

	assert.False(t, client.Enabled())
	require.NoError(t, client.Close())
	client.Count("jobs.failed", 1, nil)
}

func TestNilAndDisabledClients(t *testing.T) {
	t.Parallel()

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	nilClient.Count("x", 1, nil)
	nilClient.Flush()
	require.NoError(t, nilClient.Close())

	client, err := NewClient(Config{Enabled: true, Address: "   "})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	client.Gauge("x", 1, nil)
	require.NoError(t, client.Close())
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd dial")
}
