package cli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService lists "evil.example/" as MALWARE.
func fakeService(t *testing.T) *httptest.Server {
	t.Helper()
	full := sha256.Sum256([]byte("evil.example/"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v4/threatListUpdates:fetch":
			fmt.Fprintf(w, `{"listUpdateResponses":[{"threatType":"MALWARE","newClientState":"s1","additions":[{"compressionType":"RAW","rawHashes":{"prefixSize":4,"rawHashes":%q}}]}],"minimumWaitDuration":"60s"}`,
				base64.StdEncoding.EncodeToString(full[:4]))
		case "/v4/fullHashes:find":
			fmt.Fprintf(w, `{"matches":[{"threatType":"MALWARE","threat":{"hash":%q}}]}`, base64.StdEncoding.EncodeToString(full[:]))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func withService(t *testing.T) {
	t.Helper()
	srv := fakeService(t)
	t.Setenv("LINKGUARD_BASE_URL", srv.URL)
	t.Setenv("LINKGUARD_API_KEY", "test-key")
	t.Setenv("LINKGUARD_LOG_LEVEL", "error")
	t.Setenv("LINKGUARD_CONFIG", "")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRoot("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootFlags(t *testing.T) {
	cmd := NewRoot("test")
	for _, name := range []string{"config", "env-file", "json"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing --%s flag", name)
		}
	}
	for _, sub := range []string{"serve", "check", "scan", "lists"} {
		if c, _, err := cmd.Find([]string{sub}); err != nil || c.Name() != sub {
			t.Errorf("missing %s command", sub)
		}
	}
}

func TestCheckArgs(t *testing.T) {
	cmd := newCheckCmd(&rootOptions{})
	if err := cmd.Args(cmd, []string{}); err == nil {
		t.Error("should require at least one URL")
	}
}

func TestCheck_FindsThreat(t *testing.T) {
	withService(t)
	out, err := run(t, "", "check", "http://evil.example/a", "http://fine.example/")

	var ee *ExitError
	require.True(t, errors.As(err, &ee), "expected ExitError, got %v", err)
	assert.Equal(t, exitThreatsFound, ee.Code())
	assert.Equal(t, "MALWARE\thttp://evil.example/a\n", out)
}

func TestCheck_Clean(t *testing.T) {
	withService(t)
	out, err := run(t, "", "check", "http://fine.example/")
	require.NoError(t, err)
	assert.Contains(t, out, "no threats found in 1 URL(s)")
}

func TestCheck_JSON(t *testing.T) {
	withService(t)
	out, err := run(t, "", "--json", "check", "http://evil.example/")
	var ee *ExitError
	require.ErrorAs(t, err, &ee)

	var got struct {
		Checked int `json:"checked"`
		Matches []struct {
			URL        string `json:"url"`
			ThreatType string `json:"threat_type"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.Checked)
	require.Len(t, got.Matches, 1)
	assert.Equal(t, "MALWARE", got.Matches[0].ThreatType)
}

func TestCheck_ServiceDown(t *testing.T) {
	t.Setenv("LINKGUARD_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("LINKGUARD_LOG_LEVEL", "error")
	t.Setenv("LINKGUARD_CONFIG", "")
	_, err := run(t, "", "check", "http://evil.example/")
	require.Error(t, err)
	var ee *ExitError
	assert.False(t, errors.As(err, &ee))
}

func TestScan_Stdin(t *testing.T) {
	withService(t)
	out, err := run(t, "hello, see http://evil.example/x and http://fine.example/.", "scan")
	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "MALWARE\thttp://evil.example/x\n", out)
}

func TestScan_FileWithAllowlist(t *testing.T) {
	withService(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("scan:\n  allowlist: [\"evil.example\"]\n"), 0o600))
	textPath := filepath.Join(dir, "msg.txt")
	require.NoError(t, os.WriteFile(textPath, []byte("http://evil.example/x"), 0o600))

	out, err := run(t, "", "--config", cfgPath, "scan", textPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no threats found in 0 URL(s)")
}

func TestLists(t *testing.T) {
	withService(t)
	out, err := run(t, "", "lists")
	require.NoError(t, err)
	assert.Contains(t, out, "MALWARE")
	assert.Contains(t, out, "next update allowed in 1m0s")
}

func TestEnvFile(t *testing.T) {
	srv := fakeService(t)
	t.Setenv("LINKGUARD_BASE_URL", "")
	require.NoError(t, os.Unsetenv("LINKGUARD_BASE_URL"))
	t.Setenv("LINKGUARD_LOG_LEVEL", "error")
	t.Setenv("LINKGUARD_CONFIG", "")

	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("LINKGUARD_BASE_URL="+srv.URL+"\n"), 0o600))

	out, err := run(t, "", "--env-file", envPath, "--json", "lists")
	require.NoError(t, err)
	assert.Contains(t, out, `"threat_type": "MALWARE"`)
}

func TestEnvFile_ConfigPath(t *testing.T) {
	withService(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("scan:\n  allowlist: [\"evil.example\"]\n"), 0o600))
	require.NoError(t, os.Unsetenv("LINKGUARD_CONFIG"))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("LINKGUARD_CONFIG="+cfgPath+"\n"), 0o600))

	out, err := run(t, "http://evil.example/x", "--env-file", envPath, "scan")
	require.NoError(t, err, "allowlist from the env-file config applies")
	assert.Contains(t, out, "no threats found in 0 URL(s)")
}

func TestEnvFile_Missing(t *testing.T) {
	_, err := run(t, "", "--env-file", filepath.Join(t.TempDir(), "nope.env"), "lists")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load env file")
}
