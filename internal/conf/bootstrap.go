// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with CLOUDRELAY_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or CLOUDRELAY_DATA_DATABASE_SOURCE: MySQL connection string
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CLOUDRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "CLOUDRELAY_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "CLOUDRELAY_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "CLOUDRELAY_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("notify.slack_webhook_url", "SLACK_WEBHOOK_URL", "CLOUDRELAY_NOTIFY_SLACK_WEBHOOK_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Recovery: &Recovery{
			Lane:             v.GetString("recovery.lane"),
			NetworkDelay:     v.GetDuration("recovery.network_delay"),
			QuotaDelay:       v.GetDuration("recovery.quota_delay"),
			ServiceDelay:     v.GetDuration("recovery.service_delay"),
			HealthCheckDelay: v.GetDuration("recovery.health_check_delay"),
			AttemptTTL:       v.GetDuration("recovery.attempt_ttl"),
			HealthCacheSize:  v.GetInt("recovery.health_cache_size"),
			HealthCacheTTL:   v.GetDuration("recovery.health_cache_ttl"),
		},
		Requeue: &Requeue{
			Lane:       v.GetString("requeue.lane"),
			BatchSize:  v.GetInt("requeue.batch_size"),
			BatchDelay: v.GetDuration("requeue.batch_delay"),
			Limit:      v.GetInt("requeue.limit"),
		},
		BatchRefresh: &BatchRefresh{
			Cron:             v.GetString("batch_refresh.cron"),
			ChunkSize:        v.GetInt("batch_refresh.chunk_size"),
			Concurrency:      v.GetInt("batch_refresh.concurrency"),
			Timeout:          v.GetDuration("batch_refresh.timeout"),
			ExpiryWindow:     v.GetDuration("batch_refresh.expiry_window"),
			FailureThreshold: v.GetFloat64("batch_refresh.failure_threshold"),
			MinSampleSize:    v.GetInt("batch_refresh.min_sample_size"),
			SummaryTTL:       v.GetDuration("batch_refresh.summary_ttl"),
			RefreshLockTTL:   v.GetDuration("batch_refresh.refresh_lock_ttl"),
			ValidityMargin:   v.GetDuration("batch_refresh.validity_margin"),
		},
		Alerting: &Alerting{
			HourlyRecordCap:      v.GetInt("alerting.hourly_record_cap"),
			RecordTTL:            v.GetDuration("alerting.record_ttl"),
			RateThreshold:        v.GetInt64("alerting.rate_threshold"),
			EscalationThreshold:  v.GetInt64("alerting.escalation_threshold"),
			ConsecutiveThreshold: v.GetInt64("alerting.consecutive_threshold"),
			ThrottleWindow:       v.GetDuration("alerting.throttle_window"),
		},
		Metrics: &Metrics{
			SampleCap: v.GetInt("metrics.sample_cap"),
			TTL:       v.GetDuration("metrics.ttl"),
		},
		Notify: &Notify{
			SlackWebhookURL: v.GetString("notify.slack_webhook_url"),
			SlackChannel:    v.GetString("notify.slack_channel"),
		},
		Worker: &Worker{
			Lanes:        v.GetStringSlice("worker.lanes"),
			PollInterval: v.GetDuration("worker.poll_interval"),
			BatchSize:    v.GetInt("worker.batch_size"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("recovery.lane", "connection-recovery")
	v.SetDefault("recovery.network_delay", time.Minute)
	v.SetDefault("recovery.quota_delay", 15*time.Minute)
	v.SetDefault("recovery.service_delay", 5*time.Minute)
	v.SetDefault("recovery.health_check_delay", 2*time.Minute)
	v.SetDefault("recovery.attempt_ttl", 24*time.Hour)
	v.SetDefault("recovery.health_cache_size", 10000)
	v.SetDefault("recovery.health_cache_ttl", 10*time.Minute)

	v.SetDefault("requeue.lane", "recovery")
	v.SetDefault("requeue.batch_size", 10)
	v.SetDefault("requeue.batch_delay", 30*time.Second)
	v.SetDefault("requeue.limit", 500)

	v.SetDefault("batch_refresh.cron", "0 */15 * * * *")
	v.SetDefault("batch_refresh.chunk_size", 20)
	v.SetDefault("batch_refresh.concurrency", 5)
	v.SetDefault("batch_refresh.timeout", 300*time.Second)
	v.SetDefault("batch_refresh.expiry_window", time.Hour)
	v.SetDefault("batch_refresh.failure_threshold", 0.30)
	v.SetDefault("batch_refresh.min_sample_size", 10)
	v.SetDefault("batch_refresh.summary_ttl", 30*time.Minute)
	v.SetDefault("batch_refresh.refresh_lock_ttl", 60*time.Second)
	v.SetDefault("batch_refresh.validity_margin", 5*time.Minute)

	v.SetDefault("alerting.hourly_record_cap", 100)
	v.SetDefault("alerting.record_ttl", 24*time.Hour)
	v.SetDefault("alerting.rate_threshold", 10)
	v.SetDefault("alerting.escalation_threshold", 20)
	v.SetDefault("alerting.consecutive_threshold", 5)
	v.SetDefault("alerting.throttle_window", time.Hour)

	v.SetDefault("metrics.sample_cap", 1000)
	v.SetDefault("metrics.ttl", 24*time.Hour)

	v.SetDefault("notify.slack_channel", "#cloud-storage-alerts")

	v.SetDefault("worker.lanes", []string{"connection-recovery"})
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.batch_size", 50)
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing every problem found.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		problems = append(problems, "data.database.source (MYSQL_DSN) is required")
	}

	if br := bc.BatchRefresh; br != nil {
		if br.ChunkSize <= 0 {
			problems = append(problems, "batch_refresh.chunk_size must be positive")
		}
		if br.FailureThreshold <= 0 || br.FailureThreshold > 1 {
			problems = append(problems, "batch_refresh.failure_threshold must be in (0, 1]")
		}
		if br.Timeout <= 0 {
			problems = append(problems, "batch_refresh.timeout must be positive")
		}
	}

	if rq := bc.Requeue; rq != nil && rq.BatchSize <= 0 {
		problems = append(problems, "requeue.batch_size must be positive")
	}

	if al := bc.Alerting; al != nil && al.RateThreshold > al.EscalationThreshold {
		problems = append(problems, "alerting.rate_threshold must not exceed alerting.escalation_threshold")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
