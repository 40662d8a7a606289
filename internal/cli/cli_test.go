package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "invbot dev\n", buf.String())
}

func probeEnv(t *testing.T, scriptURL string) string {
	t.Helper()
	dir := t.TempDir()
	creds := filepath.Join(dir, "sa.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{"client_email":"bot@proj.iam.gserviceaccount.com"}`), 0o600))

	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("GOOGLE_SCRIPT_URL", scriptURL)
	t.Setenv("GOOGLE_CREDENTIALS_FILE", creds)
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "invbot.db"))
	t.Setenv("COLUMNS_FILE", "")
	return dir
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()
	dir := probeEnv(t, srv.URL)

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config-dir", dir, "probe"})

	require.NoError(t, cmd.Execute(), buf.String())
	out := buf.String()
	assert.Contains(t, out, "✓ configuration")
	assert.Contains(t, out, "✓ column mapping")
	assert.Contains(t, out, "✓ config database")
	assert.Contains(t, out, "bot@proj.iam.gserviceaccount.com")
	assert.Contains(t, out, "✓ row-insertion endpoint")
}

func TestProbe_EndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	dir := probeEnv(t, srv.URL)

	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config-dir", dir, "probe"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 check(s)")
	assert.Contains(t, buf.String(), "✗ row-insertion endpoint")
}
