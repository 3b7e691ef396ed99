package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/rescale-sftp/internal/bridge"
	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/logging"
	"github.com/rescale/rescale-sftp/internal/metrics"
)

func TestServeCommand(t *testing.T) {
	c := newTestCLI(t)

	stdin := strings.Join([]string{
		`{"id":"1","command":"connect","params":{"host":"h","username":"u","password":"p"}}`,
		`{"id":"2","command":"format_disk"}`,
		`not json`,
	}, "\n") + "\n"

	stdout, _, err := c.run(stdin, "serve")
	require.NoError(t, err)

	responses := map[string]bridge.Response{}
	var orphan *bridge.Response
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &msg), line)
		if msg.Type != bridge.TypeResponse {
			continue
		}
		var resp bridge.Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		if resp.ID == "" {
			orphan = &resp
			continue
		}
		responses[resp.ID] = resp
	}

	connect, ok := responses["1"]
	require.True(t, ok, "missing connect response in %s", stdout)
	assert.True(t, connect.OK)
	assert.NotEmpty(t, connect.Result)

	unknown, ok := responses["2"]
	require.True(t, ok, "missing unknown-command response in %s", stdout)
	assert.False(t, unknown.OK)
	assert.Equal(t, errs.InvalidArgument, unknown.ErrorKind)
	assert.Contains(t, unknown.Error, "unknown command")

	require.NotNil(t, orphan, "undecodable lines are answered with an empty id")
	assert.False(t, orphan.OK)
}

func TestServeFlags(t *testing.T) {
	cmd := newServeCmd()
	for _, flag := range []string{"metrics-addr", "progress-interval"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("Expected serve flag --%s", flag)
		}
	}
}

func TestStartMetricsServer(t *testing.T) {
	metrics.RecordListing("ok")

	addr, stop, err := startMetricsServer("127.0.0.1:0", logging.NewLogger("test"))
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rescale_sftp_")
}

func TestStartMetricsServerBadAddress(t *testing.T) {
	_, _, err := startMetricsServer("256.0.0.1:-1", logging.NewLogger("test"))
	assert.Error(t, err)
}
