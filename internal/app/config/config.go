// Package config reads the environment-driven settings shared by the API, worker and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"

	"github.com/Apurer/mfgsync/internal/domains/sync/adapters/source"
	"github.com/Apurer/mfgsync/internal/domains/sync/application"
	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/platform/scheduler"
)

// SourceDB holds the connection settings of one legacy database.
type SourceDB struct {
	Driver string
	DSN    string
}

// Configured reports whether a DSN was provided.
func (s SourceDB) Configured() bool { return s.DSN != "" }

// MQTT holds the notifier broker settings. An empty BrokerURL disables notifications.
type MQTT struct {
	BrokerURL    string
	ClientID     string
	Username     string
	Password     string
	TopicPrefix  string
	FailuresOnly bool
}

// Config carries environment-driven settings for every process.
type Config struct {
	Port                 string
	PostgresDSN          string
	PostgresMaxOpenConns int

	Sources            map[domain.SourceDatabase]SourceDB
	SourceCharset      string
	SourceQueryTimeout time.Duration
	SourceMaxOpenConns int

	MappingFile  string
	ChunkSize    int
	Location     *time.Location
	SkipHolidays bool
	Schedules    scheduler.Specs

	TemporalAddress   string
	TemporalNamespace string
	TemporalDisabled  bool

	MQTT MQTT
}

// Load reads a .env file when present, then the environment, applies defaults
// and validates. Variables already set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:        envDefault("PORT", "8080"),
		PostgresDSN: strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		Sources: map[domain.SourceDatabase]SourceDB{
			domain.SourceERP: {Driver: envDefault("ERP_DRIVER", "sqlserver"), DSN: strings.TrimSpace(os.Getenv("ERP_DSN"))},
			domain.SourceMES: {Driver: envDefault("MES_DRIVER", "sqlserver"), DSN: strings.TrimSpace(os.Getenv("MES_DSN"))},
		},
		SourceCharset:     strings.TrimSpace(os.Getenv("SOURCE_CHARSET")),
		MappingFile:       strings.TrimSpace(os.Getenv("MAPPING_FILE")),
		SkipHolidays:      envBool("SYNC_SKIP_HOLIDAYS", true),
		TemporalAddress:   envDefault("TEMPORAL_ADDRESS", client.DefaultHostPort),
		TemporalNamespace: envDefault("TEMPORAL_NAMESPACE", client.DefaultNamespace),
		TemporalDisabled:  isTruthy(os.Getenv("TEMPORAL_DISABLED")),
		MQTT: MQTT{
			BrokerURL:    strings.TrimSpace(os.Getenv("MQTT_BROKER_URL")),
			ClientID:     envDefault("MQTT_CLIENT_ID", "mfgsync"),
			Username:     os.Getenv("MQTT_USERNAME"),
			Password:     os.Getenv("MQTT_PASSWORD"),
			TopicPrefix:  envDefault("MQTT_TOPIC_PREFIX", "mfgsync"),
			FailuresOnly: isTruthy(os.Getenv("MQTT_FAILURES_ONLY")),
		},
	}

	var errs []error
	cfg.PostgresMaxOpenConns, errs = envInt("POSTGRES_MAX_OPEN_CONNS", 10, errs)
	cfg.SourceMaxOpenConns, errs = envInt("SOURCE_MAX_OPEN_CONNS", 4, errs)
	cfg.ChunkSize, errs = envInt("SYNC_CHUNK_SIZE", application.DefaultChunkSize, errs)
	cfg.SourceQueryTimeout, errs = envDuration("SOURCE_QUERY_TIMEOUT", application.DefaultSourceTimeout, errs)

	if !source.KnownCharset(cfg.SourceCharset) {
		errs = append(errs, fmt.Errorf("SOURCE_CHARSET %q is not supported", cfg.SourceCharset))
	}
	for db, src := range cfg.Sources {
		switch src.Driver {
		case "sqlserver", "mssql", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("%s_DRIVER %q is not supported", strings.ToUpper(string(db)), src.Driver))
		}
	}

	loc, err := time.LoadLocation(envDefault("SYNC_TIMEZONE", "Asia/Seoul"))
	if err != nil {
		errs = append(errs, fmt.Errorf("SYNC_TIMEZONE: %w", err))
	}
	cfg.Location = loc

	cfg.Schedules = scheduler.Specs{
		domain.ScheduleHourly:   envSpec("SCHEDULE_HOURLY", scheduler.DefaultHourly),
		domain.ScheduleSnapshot: envSpec("SCHEDULE_SNAPSHOT", scheduler.DefaultSnapshot),
		domain.ScheduleDaily:    envSpec("SCHEDULE_DAILY", scheduler.DefaultDaily),
		domain.ScheduleCalendar: envSpec("SCHEDULE_CALENDAR", scheduler.DefaultCalendar),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// TemporalCron converts a schedule spec into a Temporal cron expression in the
// configured zone. Temporal crons have no seconds field, so a six-field spec
// loses its first field. Disabled schedules return "".
func (c Config) TemporalCron(schedule domain.Schedule) string {
	fields := strings.Fields(c.Schedules[schedule])
	if len(fields) == 0 {
		return ""
	}
	if len(fields) == 6 {
		fields = fields[1:]
	}
	zone := "UTC"
	if c.Location != nil {
		zone = c.Location.String()
	}
	return "CRON_TZ=" + zone + " " + strings.Join(fields, " ")
}

func envDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// envSpec distinguishes an unset key (default) from "off" (disabled).
func envSpec(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return fallback
	}
	if v := strings.ToLower(strings.TrimSpace(val)); v == "off" || v == "-" {
		return ""
	}
	return strings.TrimSpace(val)
}

func envInt(key string, fallback int, errs []error) (int, []error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, errs
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback, append(errs, fmt.Errorf("%s must be a positive integer", key))
	}
	return n, errs
}

func envDuration(key string, fallback time.Duration, errs []error) (time.Duration, []error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, errs
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback, append(errs, fmt.Errorf("%s must be a positive duration like 90s or 2m", key))
	}
	return d, errs
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return isTruthy(raw)
}

func isTruthy(value string) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	return value == "1" || value == "true" || value == "yes"
}
