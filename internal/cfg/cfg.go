package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/warden/internal/alerting"
)

// Config adds warden-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL      string
	DBMaxConns       int
	DBSlowQueryMs    int
	DirectoryFile    string
	SlackWebhookURL  string
	DashboardBaseURL string

	ClusteringWindowMinutes int
	JoinThreshold           float64
	AutoSuppressThreshold   float64
	MaxCandidateClusters    int
	ClusterStalenessHours   int
	CorrelationWindowHours  int

	EscalationDelayCritical time.Duration
	EscalationDelayHigh     time.Duration
	EscalationDelayMedium   time.Duration
	EscalationDelayLow      time.Duration
	EscalationDelayInfo     time.Duration
	EscalationBatchSize     int

	EscalationSweepSchedule string
	ClusterSweepSchedule    string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 (empty = no auth)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..1000)")
	fs.IntVar(&c.DBSlowQueryMs, "db-slow-query-ms", 200, "log successful queries slower than this many milliseconds (0 = log all)")
	fs.StringVar(&c.DirectoryFile, "directory-file", "", "YAML file with maintenance windows, on-call schedules, sites and clients (used without database-url)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
	fs.StringVar(&c.DashboardBaseURL, "dashboard-base-url", "", "base URL linked from escalation notifications")

	fs.IntVar(&c.ClusteringWindowMinutes, "clustering-window-minutes", 30, "how far back clusters are considered as join candidates")
	fs.Float64Var(&c.JoinThreshold, "join-threshold", 0.75, "minimum similarity to join an existing cluster (0..1]")
	fs.Float64Var(&c.AutoSuppressThreshold, "auto-suppress-threshold", 0.90, "similarity at or above which a joining alert is suppressed (0..1]")
	fs.IntVar(&c.MaxCandidateClusters, "max-candidate-clusters", 1000, "maximum clusters scored per alert")
	fs.IntVar(&c.ClusterStalenessHours, "cluster-staleness-hours", 4, "hours without alerts after which a cluster is closed")
	fs.IntVar(&c.CorrelationWindowHours, "correlation-window-hours", 1, "hours within which same client+type alerts share a correlation id")

	fs.DurationVar(&c.EscalationDelayCritical, "escalation-delay-critical", 15*time.Minute, "auto-escalate NEW CRITICAL alerts after this long (0 = never)")
	fs.DurationVar(&c.EscalationDelayHigh, "escalation-delay-high", 30*time.Minute, "auto-escalate NEW HIGH alerts after this long (0 = never)")
	fs.DurationVar(&c.EscalationDelayMedium, "escalation-delay-medium", 60*time.Minute, "auto-escalate NEW MEDIUM alerts after this long (0 = never)")
	fs.DurationVar(&c.EscalationDelayLow, "escalation-delay-low", 120*time.Minute, "auto-escalate NEW LOW alerts after this long (0 = never)")
	fs.DurationVar(&c.EscalationDelayInfo, "escalation-delay-info", 0, "auto-escalate NEW INFO alerts after this long (0 = never)")
	fs.IntVar(&c.EscalationBatchSize, "escalation-batch-size", 500, "maximum alerts per severity per auto-escalation sweep")

	fs.StringVar(&c.EscalationSweepSchedule, "escalation-sweep-schedule", "@every 1m", "cron schedule for the auto-escalation sweep")
	fs.StringVar(&c.ClusterSweepSchedule, "cluster-sweep-schedule", "@every 5m", "cron schedule for the stale cluster sweep")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DatabaseURL != "" && (c.DBMaxConns <= 0 || c.DBMaxConns > 1000) {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..1000)", c.DBMaxConns))
	}
	if c.DBSlowQueryMs < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must not be negative)", c.DBSlowQueryMs))
	}
	if c.DatabaseURL != "" && c.DirectoryFile != "" {
		errs = append(errs, errors.New("DIRECTORY_FILE cannot be combined with DATABASE_URL (the directory is read from the database)"))
	}

	// Pipeline tunables
	if c.ClusteringWindowMinutes <= 0 {
		errs = append(errs, fmt.Errorf("invalid CLUSTERING_WINDOW_MINUTES %d (must be positive)", c.ClusteringWindowMinutes))
	}
	if !(c.JoinThreshold > 0 && c.JoinThreshold <= 1) {
		errs = append(errs, fmt.Errorf("invalid JOIN_THRESHOLD %v (must be in (0,1])", c.JoinThreshold))
	}
	if !(c.AutoSuppressThreshold > 0 && c.AutoSuppressThreshold <= 1) {
		errs = append(errs, fmt.Errorf("invalid AUTO_SUPPRESS_THRESHOLD %v (must be in (0,1])", c.AutoSuppressThreshold))
	}
	if c.AutoSuppressThreshold < c.JoinThreshold {
		errs = append(errs, fmt.Errorf("AUTO_SUPPRESS_THRESHOLD %v must not be below JOIN_THRESHOLD %v", c.AutoSuppressThreshold, c.JoinThreshold))
	}
	if c.MaxCandidateClusters <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_CANDIDATE_CLUSTERS %d (must be positive)", c.MaxCandidateClusters))
	}
	if c.ClusterStalenessHours <= 0 {
		errs = append(errs, fmt.Errorf("invalid CLUSTER_STALENESS_HOURS %d (must be positive)", c.ClusterStalenessHours))
	}
	if c.CorrelationWindowHours <= 0 {
		errs = append(errs, fmt.Errorf("invalid CORRELATION_WINDOW_HOURS %d (must be positive)", c.CorrelationWindowHours))
	}
	for name, d := range map[string]time.Duration{
		"ESCALATION_DELAY_CRITICAL": c.EscalationDelayCritical,
		"ESCALATION_DELAY_HIGH":     c.EscalationDelayHigh,
		"ESCALATION_DELAY_MEDIUM":   c.EscalationDelayMedium,
		"ESCALATION_DELAY_LOW":      c.EscalationDelayLow,
		"ESCALATION_DELAY_INFO":     c.EscalationDelayInfo,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("invalid %s %s (must not be negative)", name, d))
		}
	}
	if c.EscalationBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid ESCALATION_BATCH_SIZE %d (must be positive)", c.EscalationBatchSize))
	}

	// Sweep schedules must parse as standard 5-field cron or @descriptors
	if _, err := cron.ParseStandard(c.EscalationSweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid ESCALATION_SWEEP_SCHEDULE %q: %w", c.EscalationSweepSchedule, err))
	}
	if _, err := cron.ParseStandard(c.ClusterSweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid CLUSTER_SWEEP_SCHEDULE %q: %w", c.ClusterSweepSchedule, err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Alerting converts the pipeline tunables.
func (c *Config) Alerting() alerting.Config {
	return alerting.Config{
		ClusteringWindow:      time.Duration(c.ClusteringWindowMinutes) * time.Minute,
		JoinThreshold:         c.JoinThreshold,
		AutoSuppressThreshold: c.AutoSuppressThreshold,
		MaxCandidateClusters:  c.MaxCandidateClusters,
		ClusterStaleness:      time.Duration(c.ClusterStalenessHours) * time.Hour,
		CorrelationWindow:     time.Duration(c.CorrelationWindowHours) * time.Hour,
		EscalationDelays: map[alerting.Severity]time.Duration{
			alerting.SeverityCritical: c.EscalationDelayCritical,
			alerting.SeverityHigh:     c.EscalationDelayHigh,
			alerting.SeverityMedium:   c.EscalationDelayMedium,
			alerting.SeverityLow:      c.EscalationDelayLow,
			alerting.SeverityInfo:     c.EscalationDelayInfo,
		},
		EscalationBatchSize: c.EscalationBatchSize,
	}
}

// SlowQuery returns the slow query log threshold.
func (c *Config) SlowQuery() time.Duration {
	return time.Duration(c.DBSlowQueryMs) * time.Millisecond
}
