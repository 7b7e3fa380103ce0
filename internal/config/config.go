package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	BotToken             string
	OwnerUserIDs         []string
	GuildID              string
	CategoryID           string
	AttachmentLimitBytes int64
	DataDir              string
	DatabasePath         string
	HealthPort           int
	LogLevel             string
	LogFilePath          string
	LogMaxSizeMB         int
	LogMaxBackups        int
	LogMaxAgeDays        int
}

func LoadFromEnv() (Config, error) {
	dataDir := defaultString(os.Getenv("DATA_DIR"), "./data")
	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	ownerIDs, err := parseSnowflakeList(os.Getenv("OWNER_USER_IDS"))
	if err != nil {
		return Config{}, fmt.Errorf("parse OWNER_USER_IDS: %w", err)
	}

	attachmentLimit, err := parseInt64WithDefault("ATTACHMENT_LIMIT_BYTES", 8388608)
	if err != nil {
		return Config{}, err
	}
	healthPort, err := parseIntWithDefault("HEALTH_PORT", 4098)
	if err != nil {
		return Config{}, err
	}

	guildID, err := parseOptionalSnowflake(firstEnv("DM_GUILD_ID", "SUPPORT_GUILD_ID"))
	if err != nil {
		return Config{}, fmt.Errorf("parse DM_GUILD_ID: %w", err)
	}
	categoryID, err := parseOptionalSnowflake(os.Getenv("DM_CATEGORY_ID"))
	if err != nil {
		return Config{}, fmt.Errorf("parse DM_CATEGORY_ID: %w", err)
	}

	cfg := Config{
		BotToken:             botToken,
		OwnerUserIDs:         ownerIDs,
		GuildID:              guildID,
		CategoryID:           categoryID,
		AttachmentLimitBytes: attachmentLimit,
		DataDir:              dataDir,
		DatabasePath:         filepath.Join(dataDir, "relay.db"),
		HealthPort:           healthPort,
		LogLevel:             defaultString(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
		LogFilePath:          filepath.Join(dataDir, "logs", "relay.log"),
		LogMaxSizeMB:         10,
		LogMaxBackups:        5,
		LogMaxAgeDays:        14,
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.BotToken == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if len(cfg.OwnerUserIDs) == 0 {
		return errors.New("OWNER_USER_IDS is required")
	}
	if cfg.AttachmentLimitBytes <= 0 {
		return fmt.Errorf("ATTACHMENT_LIMIT_BYTES must be > 0: got %d", cfg.AttachmentLimitBytes)
	}
	if cfg.HealthPort <= 0 {
		return fmt.Errorf("HEALTH_PORT must be > 0: got %d", cfg.HealthPort)
	}
	return nil
}

// DM_CATEGORY_ID is deliberately not validated here: its absence is a
// reported, non-fatal error at relay-creation time, not at startup.

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func parseIntWithDefault(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be integer: %w", key, err)
	}
	return v, nil
}

func parseInt64WithDefault(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be integer: %w", key, err)
	}
	return v, nil
}

// parseOptionalSnowflake accepts an empty value; a present value must be a
// decimal 64-bit integer, returned in its textual form.
func parseOptionalSnowflake(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if _, err := strconv.ParseUint(trimmed, 10, 64); err != nil {
		return "", fmt.Errorf("invalid snowflake %q: %w", trimmed, err)
	}
	return trimmed, nil
}

func parseSnowflakeList(raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		id, err := parseOptionalSnowflake(item)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
