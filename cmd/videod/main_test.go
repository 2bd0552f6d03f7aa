package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-video-backend/internal/domain"
	"github.com/tbourn/go-video-backend/internal/repo"
)

type cliEnv struct {
	dbPath string
}

func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	base := t.TempDir()
	env := &cliEnv{dbPath: filepath.Join(base, "videos.db")}
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", env.dbPath)
	t.Setenv("LOCK_PATH", filepath.Join(base, "videod.lock"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_WHATSAPP_FROM", "")
	return env
}

// seed creates one request per status path: pending, generated (with URL),
// and failed.
func (e *cliEnv) seed(t *testing.T) {
	t.Helper()
	st, err := repo.Open(repo.DriverSQLite, e.dbPath)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	_, err = st.Create(ctx, domain.Attributes{ActorID: "a1", Name: "Pat", City: "Oslo", Phone: "+1"})
	require.NoError(t, err)

	gen, err := st.Create(ctx, domain.Attributes{ActorID: "a2", Name: "Sam", City: "Rome", Phone: "+2"})
	require.NoError(t, err)
	_, err = st.ConditionalUpdate(ctx, gen.ID, []domain.Status{domain.StatusPending},
		repo.Patch{Status: repo.StatusPtr(domain.StatusGenerating), JobID: repo.StringPtr("job-2")})
	require.NoError(t, err)
	_, err = st.ConditionalUpdate(ctx, gen.ID, []domain.Status{domain.StatusGenerating},
		repo.Patch{Status: repo.StatusPtr(domain.StatusGenerated), VideoURL: repo.StringPtr("https://cdn.test/2.mp4")})
	require.NoError(t, err)

	bad, err := st.Create(ctx, domain.Attributes{ActorID: "a3", Name: "Lee", City: "Kyiv", Phone: "+3"})
	require.NoError(t, err)
	_, err = st.ConditionalUpdate(ctx, bad.ID, []domain.Status{domain.StatusPending},
		repo.Patch{Status: repo.StatusPtr(domain.StatusFailed)})
	require.NoError(t, err)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusCommand_CountsEveryStatus(t *testing.T) {
	env := setupCLIEnv(t)
	env.seed(t)

	out, err := run(t, "status")
	require.NoError(t, err)
	for _, s := range domain.AllStatuses() {
		assert.Contains(t, out, string(s))
	}
	assert.Regexp(t, `total\s+│\s+3`, out)
}

func TestListCommand_FiltersByStatus(t *testing.T) {
	env := setupCLIEnv(t)
	env.seed(t)

	out, err := run(t, "list", "--status", "generated")
	require.NoError(t, err)
	assert.Contains(t, out, "https://cdn.test/2.mp4")
	assert.Contains(t, out, "job-2")
	assert.NotContains(t, out, "Pat")
	assert.Contains(t, out, "1 of 1")

	out, err = run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "3 of 3")

	_, err = run(t, "list", "--status", "bogus")
	assert.Error(t, err)
}

func TestListCommand_Empty(t *testing.T) {
	setupCLIEnv(t)

	out, err := run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No requests")
}

func TestRedispatchCommand(t *testing.T) {
	env := setupCLIEnv(t)
	env.seed(t)

	_, err := run(t, "redispatch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--stuck")

	_, err = run(t, "redispatch", "x")
	assert.Error(t, err)

	// messaging is not configured, so delivery fails and the request stays generated
	out, err := run(t, "redispatch", "2", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2")
	assert.True(t, strings.Contains(out, "2: ") && strings.Contains(out, "1: "), out)

	st, err := repo.Open(repo.DriverSQLite, env.dbPath)
	require.NoError(t, err)
	defer st.Close()
	rec, err := st.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGenerated, rec.Status)
	assert.False(t, rec.NotificationResult.IsZero())
}

func TestRedispatchCommand_Stuck(t *testing.T) {
	env := setupCLIEnv(t)
	env.seed(t)

	out, err := run(t, "redispatch", "--stuck", "1ns")
	require.NoError(t, err)
	assert.Contains(t, out, "0 sent, 1 failed")
}

func TestEnsureConfig_ExplicitEnvFileMustExist(t *testing.T) {
	setupCLIEnv(t)

	_, err := run(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "status")
	assert.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	assert.Empty(t, renderTable(nil, nil, nil))

	out := renderTable([]string{"A", "B"}, [][]string{{"x"}, {"y", "z"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "z")
	assert.Equal(t, 6, strings.Count(out, "\n")+1)
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses(" Sent, failed ")
	require.NoError(t, err)
	assert.Equal(t, []domain.Status{domain.StatusSent, domain.StatusFailed}, got)

	got, err = parseStatuses("")
	require.NoError(t, err)
	assert.Empty(t, got)
}
