package buildCFG

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"raidbot/internal/scheduler"
)

type ServerConfig struct {
	Port string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

type NotifierConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

type EventsConfig struct {
	MaxOpen int
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, defaulting to 8080")
	}
	return ServerConfig{Port: port}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	host := cfg.GetString("database.host")
	if host == "" {
		return "", nil, nil, fmt.Errorf("database.host is required")
	}

	masterDSN := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host,
		cfg.GetInt("database.port"),
		cfg.GetString("database.user"),
		cfg.GetString("database.password"),
		cfg.GetString("database.name"),
		cfg.GetString("database.sslmode"),
	)

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("database.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: time.Duration(cfg.GetInt("database.conn_max_lifetime_minutes")) * time.Minute,
	}

	log.Info().Str("host", host).Str("db", cfg.GetString("database.name")).Msg("database config built")
	return masterDSN, nil, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
	}
	if rc.Url == "" || rc.Exchange == "" || rc.Queue == "" {
		return rc, fmt.Errorf("rabbit.url, rabbit.exchange and rabbit.queue are required")
	}
	log.Info().Str("exchange", rc.Exchange).Str("queue", rc.Queue).Msg("rabbit config built")
	return rc, nil
}

func BuildSchedulerConfig(cfg *config.Config, log *zerolog.Logger) scheduler.Config {
	sc := scheduler.Config{
		TickInterval:      time.Duration(cfg.GetInt("scheduler.tick_interval_seconds")) * time.Second,
		AutoLockThreshold: time.Duration(cfg.GetInt("scheduler.auto_lock_minutes")) * time.Minute,
		CompleteGrace:     time.Duration(cfg.GetInt("scheduler.complete_grace_minutes")) * time.Minute,
		ReminderWindowMin: time.Duration(cfg.GetInt("scheduler.reminder_window_min_minutes")) * time.Minute,
		ReminderWindowMax: time.Duration(cfg.GetInt("scheduler.reminder_window_max_minutes")) * time.Minute,
	}
	if sc.TickInterval <= 0 {
		sc.TickInterval = time.Minute
		log.Warn().Msg("scheduler.tick_interval_seconds not set, defaulting to 60s")
	}
	if sc.CompleteGrace <= 0 {
		sc.CompleteGrace = 2 * time.Hour
	}
	return sc
}

func BuildNotifierConfig(cfg *config.Config, log *zerolog.Logger) (NotifierConfig, error) {
	nc := NotifierConfig{
		WebhookURL: cfg.GetString("notifier.webhook_url"),
		Timeout:    time.Duration(cfg.GetInt("notifier.timeout_seconds")) * time.Second,
	}
	if nc.WebhookURL == "" {
		return nc, fmt.Errorf("notifier.webhook_url is required")
	}
	if nc.Timeout <= 0 {
		nc.Timeout = 10 * time.Second
	}
	return nc, nil
}

func BuildEventsConfig(cfg *config.Config, log *zerolog.Logger) EventsConfig {
	maxOpen := cfg.GetInt("events.max_open")
	if maxOpen <= 0 {
		maxOpen = 2
		log.Warn().Msg("events.max_open not set, defaulting to 2")
	}
	return EventsConfig{MaxOpen: maxOpen}
}
