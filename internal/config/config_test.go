package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forumsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const sample = `
[discord]
token = "bot-token"
guild_id = "guild1"

[[workspaces]]
name = "myrepo"
owner = "acme"
repo = "widget"
token = "gh-token"
issues_forum_id = "f-issues"
prs_forum_id = "f-prs"
poll_enabled = true
poll_interval = 120
chat_to_repo = true

[[workspaces]]
name = "other"
owner = "acme"
repo = "gadget"
token = "gh-token"
issues_forum_id = "f-other"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "./forumsync-data", cfg.Store.Path)
	assert.Equal(t, 100, cfg.Limits.MaxTitleLen)
	assert.Equal(t, 5, cfg.Limits.MaxTagsPerThread)
	require.Len(t, cfg.Workspaces, 2)
	assert.Equal(t, "acme", cfg.Workspaces[0].Owner)
	assert.True(t, cfg.Workspaces[0].ChatToRepo)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	cfg.Discord.Token = ""
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsDuplicateWorkspaces(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	cfg.Workspaces[1].Name = "myrepo"
	assert.Error(t, Validate(cfg))
}

func TestValidateWorkspace(t *testing.T) {
	ws := Workspace{Name: "w", Owner: "o", Repo: "r", Token: "t", IssuesForumID: "f"}
	assert.NoError(t, ValidateWorkspace(ws))

	ws.Token = ""
	assert.ErrorIs(t, ValidateWorkspace(ws), ErrNotConfigured)

	ws = Workspace{Name: "w", Owner: "o", Repo: "r", Token: "t"}
	assert.ErrorIs(t, ValidateWorkspace(ws), ErrNotConfigured)
}

func TestWorkspaceForForum(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	ws, kind, ok := cfg.WorkspaceForForum("f-prs")
	require.True(t, ok)
	assert.Equal(t, "myrepo", ws.Name)
	assert.Equal(t, "pr", kind)

	_, _, ok = cfg.WorkspaceForForum("unknown")
	assert.False(t, ok)
}

func TestIntervalDefault(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Workspace{}.Interval())
	assert.Equal(t, 2*time.Minute, Workspace{PollInterval: 120}.Interval())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FORUMSYNC_LOG_LEVEL", "debug")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := writeConfig(t, sample)
	assert.Error(t, InitConfig(path))

	fresh := filepath.Join(t.TempDir(), "new.toml")
	require.NoError(t, InitConfig(fresh))
	cfg, err := Load(fresh)
	require.NoError(t, err)
	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Len(t, cfg.Workspaces, 1)
}
