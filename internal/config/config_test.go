package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legendlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr)
	assert.Equal(t, "https://bytelegend.com", cfg.API.Server)
	assert.Equal(t, 30*time.Second, cfg.PollPeriod)
}

func TestLoadExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("CHALLENGE_REPO", "ByteLegendQuest/java-fix-add")
	path := writeConfig(t, "challenge:\r\n"+
		"  mission_id: java-fix-add\r\n"+
		"  challenge_id: fix-add\r\n"+
		"  repo_full_name: ${CHALLENGE_REPO}\r\n"+
		"  whitelist: [src/, README.md]\r\n"+
		"api:\r\n"+
		"  timeout: 5s\r\n"+
		"texts:\r\n"+
		"  SubmitAnswer: Go!\r\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ByteLegendQuest/java-fix-add", cfg.Challenge.RepoFullName)
	assert.Equal(t, []string{"src/", "README.md"}, cfg.Challenge.Whitelist)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, "github1s", cfg.API.From)
	assert.Equal(t, "Go!", cfg.Texts["SubmitAnswer"])
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("LEGENDLOG_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("LEGENDLOG_REDIS_ADDR", "localhost:6379")
	path := writeConfig(t, "listen_addr: \":7000\"\narchive:\n  driver: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, ArchiveRedis, cfg.Archive.Driver)
	assert.Equal(t, "localhost:6379", cfg.Archive.RedisAddr)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"missing listen addr": func(c *Config) { c.ListenAddr = "" },
		"redis without addr":  func(c *Config) { c.Archive.Driver = ArchiveRedis },
		"unknown driver":      func(c *Config) { c.Archive.Driver = "s3" },
		"bad level":           func(c *Config) { c.Logging.Level = "verbose" },
		"zero poll period":    func(c *Config) { c.PollPeriod = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
