package alerting

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the pipeline tunables.
type Config struct {
	ClusteringWindow      time.Duration
	JoinThreshold         float64
	AutoSuppressThreshold float64
	MaxCandidateClusters  int
	ClusterStaleness      time.Duration
	CorrelationWindow     time.Duration

	// EscalationDelays maps a severity to how long a NEW alert may wait
	// before the sweep escalates it. Missing or zero means never.
	EscalationDelays map[Severity]time.Duration

	// EscalationBatchSize caps how many alerts one severity pass loads.
	EscalationBatchSize int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ClusteringWindow:      30 * time.Minute,
		JoinThreshold:         0.75,
		AutoSuppressThreshold: 0.90,
		MaxCandidateClusters:  1000,
		ClusterStaleness:      4 * time.Hour,
		CorrelationWindow:     time.Hour,
		EscalationDelays: map[Severity]time.Duration{
			SeverityCritical: 15 * time.Minute,
			SeverityHigh:     30 * time.Minute,
			SeverityMedium:   60 * time.Minute,
			SeverityLow:      120 * time.Minute,
		},
		EscalationBatchSize: 500,
	}
}

// Validate checks the tunables for internal consistency.
func (c Config) Validate() error {
	var errs []error
	if c.ClusteringWindow <= 0 {
		errs = append(errs, fmt.Errorf("clustering window %s must be positive", c.ClusteringWindow))
	}
	if c.JoinThreshold <= 0 || c.JoinThreshold > 1 {
		errs = append(errs, fmt.Errorf("join threshold %.2f must be in (0,1]", c.JoinThreshold))
	}
	if c.AutoSuppressThreshold <= 0 || c.AutoSuppressThreshold > 1 {
		errs = append(errs, fmt.Errorf("auto-suppress threshold %.2f must be in (0,1]", c.AutoSuppressThreshold))
	}
	if c.AutoSuppressThreshold < c.JoinThreshold {
		errs = append(errs, fmt.Errorf("auto-suppress threshold %.2f must not be below join threshold %.2f", c.AutoSuppressThreshold, c.JoinThreshold))
	}
	if c.MaxCandidateClusters <= 0 {
		errs = append(errs, fmt.Errorf("max candidate clusters %d must be positive", c.MaxCandidateClusters))
	}
	if c.ClusterStaleness <= 0 {
		errs = append(errs, fmt.Errorf("cluster staleness %s must be positive", c.ClusterStaleness))
	}
	if c.CorrelationWindow <= 0 {
		errs = append(errs, fmt.Errorf("correlation window %s must be positive", c.CorrelationWindow))
	}
	for sev, d := range c.EscalationDelays {
		if d < 0 {
			errs = append(errs, fmt.Errorf("escalation delay for %s must not be negative", sev))
		}
	}
	if c.EscalationBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("escalation batch size %d must be positive", c.EscalationBatchSize))
	}
	return errors.Join(errs...)
}
