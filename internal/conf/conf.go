package conf

import "time"

// Bootstrap is the root configuration tree.
type Bootstrap struct {
	Server       *Server
	Data         *Data
	Log          *Log
	Recovery     *Recovery
	Requeue      *Requeue
	BatchRefresh *BatchRefresh
	Alerting     *Alerting
	Metrics      *Metrics
	Notify       *Notify
	Worker       *Worker
}

// Server configures the HTTP listener that exposes /metrics and /healthz.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP mirrors the Kratos HTTP transport options.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data configures storage backends.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database is the GORM connection.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis is the shared key-value store.
type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Log configures pkg/log.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Recovery configures the recovery executor.
type Recovery struct {
	// Lane receives connection_recovery retry jobs.
	Lane             string
	NetworkDelay     time.Duration
	QuotaDelay       time.Duration
	ServiceDelay     time.Duration
	HealthCheckDelay time.Duration
	AttemptTTL       time.Duration
	HealthCacheSize  int
	HealthCacheTTL   time.Duration
}

// Requeue configures the pending upload requeuer.
type Requeue struct {
	Lane       string
	BatchSize  int
	BatchDelay time.Duration
	Limit      int
}

// BatchRefresh configures the proactive token refresh run.
type BatchRefresh struct {
	Cron             string
	ChunkSize        int
	Concurrency      int
	Timeout          time.Duration
	ExpiryWindow     time.Duration
	FailureThreshold float64
	MinSampleSize    int
	SummaryTTL       time.Duration
	RefreshLockTTL   time.Duration
	ValidityMargin   time.Duration
}

// Alerting configures the error tracker.
type Alerting struct {
	HourlyRecordCap      int
	RecordTTL            time.Duration
	RateThreshold        int64
	EscalationThreshold  int64
	ConsecutiveThreshold int64
	ThrottleWindow       time.Duration
}

// Metrics configures the metrics aggregator.
type Metrics struct {
	SampleCap int
	TTL       time.Duration
}

// Notify selects the notification channel.
type Notify struct {
	SlackWebhookURL string
	SlackChannel    string
}

// Worker configures the job worker server.
type Worker struct {
	Lanes        []string
	PollInterval time.Duration
	BatchSize    int
}
