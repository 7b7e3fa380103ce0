package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BOT_TOKEN", "OWNER_USER_IDS", "DM_GUILD_ID", "SUPPORT_GUILD_ID",
		"DM_CATEGORY_ID", "ATTACHMENT_LIMIT_BYTES", "DATA_DIR",
		"HEALTH_PORT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "token-abc")
	t.Setenv("OWNER_USER_IDS", "123456789012345678")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.BotToken != "token-abc" {
		t.Fatalf("bot token: %q", cfg.BotToken)
	}
	if diff := cmp.Diff([]string{"123456789012345678"}, cfg.OwnerUserIDs); diff != "" {
		t.Fatalf("owner IDs (-want +got):\n%s", diff)
	}
	if cfg.AttachmentLimitBytes != 8388608 {
		t.Fatalf("attachment limit default: %d", cfg.AttachmentLimitBytes)
	}
	if cfg.HealthPort != 4098 {
		t.Fatalf("health port default: %d", cfg.HealthPort)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("data dir default: %q", cfg.DataDir)
	}
	if cfg.DatabasePath != filepath.Join("./data", "relay.db") {
		t.Fatalf("database path: %q", cfg.DatabasePath)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level default: %q", cfg.LogLevel)
	}
	if cfg.GuildID != "" || cfg.CategoryID != "" {
		t.Fatalf("guild/category must default empty, got %q/%q", cfg.GuildID, cfg.CategoryID)
	}
}

func TestLoadFromEnvFullConfiguration(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "token-abc")
	t.Setenv("OWNER_USER_IDS", " 111111111111111111 , 222222222222222222 ")
	t.Setenv("DM_GUILD_ID", "333333333333333333")
	t.Setenv("DM_CATEGORY_ID", "444444444444444444")
	t.Setenv("ATTACHMENT_LIMIT_BYTES", "1048576")
	t.Setenv("DATA_DIR", "/var/lib/relay")
	t.Setenv("HEALTH_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if diff := cmp.Diff([]string{"111111111111111111", "222222222222222222"}, cfg.OwnerUserIDs); diff != "" {
		t.Fatalf("owner IDs (-want +got):\n%s", diff)
	}
	if cfg.GuildID != "333333333333333333" || cfg.CategoryID != "444444444444444444" {
		t.Fatalf("guild/category: %q/%q", cfg.GuildID, cfg.CategoryID)
	}
	if cfg.AttachmentLimitBytes != 1048576 {
		t.Fatalf("attachment limit: %d", cfg.AttachmentLimitBytes)
	}
	if cfg.HealthPort != 9000 {
		t.Fatalf("health port: %d", cfg.HealthPort)
	}
	if cfg.DatabasePath != filepath.Join("/var/lib/relay", "relay.db") {
		t.Fatalf("database path: %q", cfg.DatabasePath)
	}
	if cfg.LogFilePath != filepath.Join("/var/lib/relay", "logs", "relay.log") {
		t.Fatalf("log file path: %q", cfg.LogFilePath)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %q", cfg.LogLevel)
	}
}

func TestLoadFromEnvGuildFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "token-abc")
	t.Setenv("OWNER_USER_IDS", "123456789012345678")
	t.Setenv("SUPPORT_GUILD_ID", "555555555555555555")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GuildID != "555555555555555555" {
		t.Fatalf("expected SUPPORT_GUILD_ID fallback, got %q", cfg.GuildID)
	}
}

func TestLoadFromEnvGuildPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "token-abc")
	t.Setenv("OWNER_USER_IDS", "123456789012345678")
	t.Setenv("DM_GUILD_ID", "666666666666666666")
	t.Setenv("SUPPORT_GUILD_ID", "555555555555555555")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GuildID != "666666666666666666" {
		t.Fatalf("DM_GUILD_ID must take precedence, got %q", cfg.GuildID)
	}
}

func TestLoadFromEnvRejectsMissingToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("OWNER_USER_IDS", "123456789012345678")

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "BOT_TOKEN") {
		t.Fatalf("expected BOT_TOKEN error, got %v", err)
	}
}

func TestLoadFromEnvRejectsMissingOwners(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "token-abc")

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "OWNER_USER_IDS") {
		t.Fatalf("expected OWNER_USER_IDS error, got %v", err)
	}
}

func TestLoadFromEnvRejectsMalformedSnowflake(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "token-abc")
	t.Setenv("OWNER_USER_IDS", "not-a-snowflake")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for malformed owner ID")
	}
}

func TestLoadFromEnvRejectsMalformedCategory(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "token-abc")
	t.Setenv("OWNER_USER_IDS", "123456789012345678")
	t.Setenv("DM_CATEGORY_ID", "general")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for malformed category ID")
	}
}
