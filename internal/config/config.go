package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrNotConfigured marks a workspace that is missing required fields.
// Sync skips such a workspace for the cycle instead of failing the run.
var ErrNotConfigured = errors.New("config: workspace not configured")

// Workspace is one GitHub repository mirrored into a pair of forums.
type Workspace struct {
	Name  string `koanf:"name"`
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	Token string `koanf:"token"`

	IssuesForumID string `koanf:"issues_forum_id"`
	PRsForumID    string `koanf:"prs_forum_id"`

	PollEnabled  bool `koanf:"poll_enabled"`
	PollInterval int  `koanf:"poll_interval"` // seconds

	// ChatToRepo gates all reverse propagation for the workspace.
	ChatToRepo bool `koanf:"chat_to_repo"`
}

// Config represents the application configuration.
type Config struct {
	Discord struct {
		Token   string `koanf:"token"`
		GuildID string `koanf:"guild_id"`
	} `koanf:"discord"`

	Store struct {
		Path string `koanf:"path"`
	} `koanf:"store"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`

	Limits struct {
		MaxTitleLen      int `koanf:"max_title_len"`
		MaxMessageLen    int `koanf:"max_message_len"`
		MaxEmbedLen      int `koanf:"max_embed_len"`
		MaxTagsPerThread int `koanf:"max_tags_per_thread"`
		MaxTagsPerForum  int `koanf:"max_tags_per_forum"`
	} `koanf:"limits"`

	Workspaces []Workspace `koanf:"workspaces"`
}

// Load reads configuration from defaults, an optional TOML file, and
// FORUMSYNC_ environment variables, in that order of precedence.
func Load(configPath string) (*Config, error) {
	var k = koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"store.path":                 "./forumsync-data",
		"log.level":                  "info",
		"limits.max_title_len":       100,
		"limits.max_message_len":     2000,
		"limits.max_embed_len":       4096,
		"limits.max_tags_per_thread": 5,
		"limits.max_tags_per_forum":  20,
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./forumsync.toml", "$HOME/.forumsync.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("FORUMSYNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "FORUMSYNC_")), "_", ".", -1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &config, nil
}

// Validate checks global settings. Per-workspace problems are not
// fatal here; they surface as ErrNotConfigured when the workspace is
// synced, so one bad block never blocks the others.
func Validate(config *Config) error {
	if config.Discord.Token == "" {
		return fmt.Errorf("discord token is required")
	}
	if config.Discord.GuildID == "" {
		return fmt.Errorf("discord guild_id is required")
	}
	if len(config.Workspaces) == 0 {
		return fmt.Errorf("at least one workspace is required")
	}
	seen := map[string]bool{}
	for _, ws := range config.Workspaces {
		if ws.Name == "" {
			return fmt.Errorf("workspace name is required")
		}
		if seen[ws.Name] {
			return fmt.Errorf("duplicate workspace name %q", ws.Name)
		}
		seen[ws.Name] = true
	}
	return nil
}

// ValidateWorkspace reports ErrNotConfigured when required workspace
// fields are missing.
func ValidateWorkspace(ws Workspace) error {
	switch {
	case ws.Owner == "" || ws.Repo == "":
		return fmt.Errorf("%w: %s missing owner/repo", ErrNotConfigured, ws.Name)
	case ws.Token == "":
		return fmt.Errorf("%w: %s missing token", ErrNotConfigured, ws.Name)
	case ws.IssuesForumID == "" && ws.PRsForumID == "":
		return fmt.Errorf("%w: %s has no forum mapping", ErrNotConfigured, ws.Name)
	}
	return nil
}

// Workspace returns the named workspace.
func (c *Config) Workspace(name string) (Workspace, bool) {
	for _, ws := range c.Workspaces {
		if ws.Name == name {
			return ws, true
		}
	}
	return Workspace{}, false
}

// WorkspaceForForum maps a forum channel back to its workspace, and
// reports which kind the forum carries. Used by the inbound handlers.
func (c *Config) WorkspaceForForum(forumID string) (Workspace, string, bool) {
	for _, ws := range c.Workspaces {
		if ws.IssuesForumID == forumID {
			return ws, "issue", true
		}
		if ws.PRsForumID == forumID {
			return ws, "pr", true
		}
	}
	return Workspace{}, "", false
}

// Interval returns the workspace's poll interval as a duration,
// defaulting to five minutes.
func (ws Workspace) Interval() time.Duration {
	if ws.PollInterval <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(ws.PollInterval) * time.Second
}

// InitConfig writes a sample configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# forumsync configuration

[discord]
token = "your-discord-bot-token"
guild_id = "123456789012345678"

[store]
path = "./forumsync-data"

[log]
level = "info"

[[workspaces]]
name = "myrepo"
owner = "your-org"
repo = "your-repo"
token = "your-github-token"
issues_forum_id = "123456789012345678"
prs_forum_id = "123456789012345679"
poll_enabled = true
poll_interval = 300
chat_to_repo = false
`
	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}
