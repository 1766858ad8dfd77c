package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Gültige Strategien für die Verarbeitung ganzer Kamerabilder
const (
	FrameStrategyDetectAndEmbed = "detect_and_embed"
	FrameStrategyWholeFrame     = "whole_frame"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	FaceService FaceServiceConfig `mapstructure:"face_service"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Mode       string `mapstructure:"mode"` // gin-Modus: debug, release, test
	DataDir    string `mapstructure:"data_dir"`
	ProfileDir string `mapstructure:"profile_dir"`
	ProfileURL string `mapstructure:"profile_url"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"` // text oder json
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	Driver   string `mapstructure:"driver"` // "sqlite" oder "postgres"
	File     string `mapstructure:"file"`   // für SQLite
	Host     string `mapstructure:"host"`   // für PostgreSQL
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN baut den PostgreSQL-Verbindungsstring
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Name, c.SSLMode)
}

// FaceServiceConfig enthält die Einstellungen für den entfernten Gesichtsdienst
type FaceServiceConfig struct {
	URL       string `mapstructure:"url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// Timeout liefert das Zeitlimit pro Anfrage
func (c FaceServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RecognitionConfig enthält die Einstellungen der Gästeerkennung
type RecognitionConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	CooldownMinutes     int     `mapstructure:"cooldown_minutes"`
	AuditSuppressed     bool    `mapstructure:"audit_suppressed"`
	FrameStrategy       string  `mapstructure:"frame_strategy"`
	GreetingLanguage    string  `mapstructure:"greeting_language"`
	FrameWorkers        int     `mapstructure:"frame_workers"` // 0 = automatisch
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Broker         string `mapstructure:"broker"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	ClientID       string `mapstructure:"client_id"`
	EmbeddingTopic string `mapstructure:"embedding_topic"`
	TopicPrefix    string `mapstructure:"topic_prefix"`
	QoS            int    `mapstructure:"qos"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	IntervalHours int `mapstructure:"interval_hours"`
}

// MetricsConfig steuert den Prometheus-Endpunkt
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.SetEnvPrefix("GUESTGREET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Sicherstellen, dass erforderliche Verzeichnisse existieren
	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.profile_dir", "/data/profiles")
	v.SetDefault("server.profile_url", "/uploads/profiles")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.format", "text")

	// DB-Standardwerte
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.file", "/data/guestgreet.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "guestgreet")
	v.SetDefault("db.username", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.ssl_mode", "disable")

	// Gesichtsdienst
	v.SetDefault("face_service.url", "http://localhost:8000")
	v.SetDefault("face_service.timeout_ms", 5000)

	// Erkennung
	v.SetDefault("recognition.enabled", true)
	v.SetDefault("recognition.confidence_threshold", 0.75)
	v.SetDefault("recognition.cooldown_minutes", 10)
	v.SetDefault("recognition.audit_suppressed", false)
	v.SetDefault("recognition.frame_strategy", FrameStrategyDetectAndEmbed)
	v.SetDefault("recognition.greeting_language", "en")
	v.SetDefault("recognition.frame_workers", 0)

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "guestgreet")
	v.SetDefault("mqtt.embedding_topic", "guestgreet/embeddings/#")
	v.SetDefault("mqtt.topic_prefix", "guestgreet")
	v.SetDefault("mqtt.qos", 1)

	// Cleanup-Standardwerte (0 = Ereignisse unbegrenzt aufbewahren)
	v.SetDefault("cleanup.retention_days", 0)
	v.SetDefault("cleanup.interval_hours", 24)

	v.SetDefault("metrics.enabled", true)
}

// validate prüft Wertebereiche, die beim Start feststehen müssen
func (c *Config) validate() error {
	r := c.Recognition
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("recognition.confidence_threshold must be within [0,1], got %v", r.ConfidenceThreshold)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("recognition.cooldown_minutes must not be negative, got %d", r.CooldownMinutes)
	}
	switch r.FrameStrategy {
	case FrameStrategyDetectAndEmbed, FrameStrategyWholeFrame:
	default:
		return fmt.Errorf("unknown recognition.frame_strategy %q", r.FrameStrategy)
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	if c.FaceService.TimeoutMs <= 0 {
		return fmt.Errorf("face_service.timeout_ms must be positive, got %d", c.FaceService.TimeoutMs)
	}
	return nil
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Server.ProfileDir != "" {
		if err := os.MkdirAll(cfg.Server.ProfileDir, 0755); err != nil {
			return fmt.Errorf("failed to create profile directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	// Datenbank-Verzeichnis (für SQLite)
	if cfg.DB.Driver == "sqlite" && cfg.DB.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
