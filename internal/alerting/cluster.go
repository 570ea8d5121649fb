package alerting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/alerting/similarity"
)

// Cluster decision outcomes, used as metric labels.
const (
	clusterCreated    = "created"
	clusterJoined     = "joined"
	clusterSuppressed = "suppressed"
)

// Clusterer groups alerts by feature-vector similarity against recent clusters.
type Clusterer struct {
	cfg     Config
	logger  log.Logger
	metrics *Metrics
}

// NewClusterer creates a clustering engine.
func NewClusterer(cfg Config, logger log.Logger, metrics *Metrics) *Clusterer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Clusterer{cfg: cfg, logger: logger, metrics: metrics}
}

// typeIndex returns the 1-based vocabulary position of t, or 0 if unknown.
func typeIndex(t AlertType) int {
	for i, v := range AlertTypes {
		if v == t {
			return i + 1
		}
	}
	return 0
}

// Features extracts the clustering feature vector for e.
func Features(e *Event) similarity.Vector {
	return similarity.Extract(similarity.Input{
		TypeIndex:      typeIndex(e.Type),
		EntityType:     e.EntityType,
		BusinessUnitID: e.BusinessUnitID,
		SeverityScore:  e.Severity.Score(),
		CorrelationID:  e.CorrelationID,
		At:             e.FirstSeen,
	})
}

type scoredCandidate struct {
	cluster *Cluster
	score   float64
}

// bestCandidate scores every active candidate and returns the highest. Ties
// go to the lowest cluster ID because candidates are visited in ID order and
// only a strictly greater score replaces the current best.
func bestCandidate(vec similarity.Vector, candidates []*Cluster, at time.Time) (scoredCandidate, bool) {
	sorted := make([]*Cluster, 0, len(candidates))
	for _, c := range candidates {
		if c.IsActive {
			sorted = append(sorted, c)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var best scoredCandidate
	found := false
	for _, c := range sorted {
		score := similarity.Compare(vec, c.FeatureVector, at, c.LastAlertAt)
		if !found || score > best.score {
			best = scoredCandidate{cluster: c, score: score}
			found = true
		}
	}
	return best, found
}

// ClusterAlert joins e to the most similar recent cluster or founds a new one.
// e must already be inserted in tx; it is updated in place (cluster
// membership, priority and possibly SUPPRESSED status) together with the cluster.
// The returned bool is true when a new cluster was created.
func (c *Clusterer) ClusterAlert(ctx context.Context, tx Tx, e *Event) (*Cluster, bool, error) {
	at := e.FirstSeen
	vec := Features(e)

	candidates, err := tx.CandidateClusters(ctx, e.TenantID, at.Add(-c.cfg.ClusteringWindow), c.cfg.MaxCandidateClusters)
	if err != nil {
		return nil, false, fmt.Errorf("load candidate clusters: %w", err)
	}

	best, found := bestCandidate(vec, candidates, at)
	if found && best.score >= c.cfg.JoinThreshold {
		cl, ok, err := tx.LockCluster(ctx, best.cluster.ID)
		if err != nil {
			return nil, false, fmt.Errorf("lock cluster %s: %w", best.cluster.ID, err)
		}
		if ok && cl.IsActive {
			suppress := best.score >= c.cfg.AutoSuppressThreshold
			if err := c.join(ctx, tx, cl, e, best.score, suppress); err != nil {
				return nil, false, err
			}
			outcome := clusterJoined
			if suppress {
				outcome = clusterSuppressed
			}
			c.metrics.clustered(outcome, best.score, len(candidates))
			return cl, false, nil
		}
		// deactivated between the scan and the lock; closed clusters take no joins
		c.logger.Info(ctx, "candidate cluster closed before join",
			"cluster_id", best.cluster.ID,
			"alert_id", e.ID,
		)
	}

	cl, err := c.create(ctx, tx, e, vec)
	if err != nil {
		return nil, false, err
	}
	score := 0.0
	if found {
		score = best.score
	}
	c.metrics.clustered(clusterCreated, score, len(candidates))
	return cl, true, nil
}

func (c *Clusterer) join(ctx context.Context, tx Tx, cl *Cluster, e *Event, score float64, suppress bool) error {
	at := e.FirstSeen

	if cl.RelatedAlertIDs == nil {
		cl.RelatedAlertIDs = NewStringSet()
	}
	cl.RelatedAlertIDs.Add(e.ID)
	cl.AlertCount = cl.RelatedAlertIDs.Len()
	if at.After(cl.LastAlertAt) {
		cl.LastAlertAt = at
	}
	cl.CombinedSeverity = MaxSeverity(cl.CombinedSeverity, e.Severity)
	cl.AffectedSites = cl.AffectedSites.Union(NewStringSet(e.SiteID))
	cl.AffectedPeople = cl.AffectedPeople.Union(NewStringSet(e.PersonID))
	cl.AlertTypes = cl.AlertTypes.Union(NewStringSet(string(e.Type)))
	n := float64(cl.AlertCount)
	cl.Confidence = (cl.Confidence*(n-1) + score) / n
	cl.UpdatedAt = at

	if suppress {
		e.Status = StatusSuppressed
		cl.SuppressedAlertCount++
	}
	e.ClusterID = cl.ID
	e.UpdatedAt = at
	reprioritize(e, cl.AlertCount)

	if err := tx.UpdateCluster(ctx, cl); err != nil {
		return fmt.Errorf("update cluster %s: %w", cl.ID, err)
	}
	if err := tx.UpdateEvent(ctx, e); err != nil {
		return fmt.Errorf("update alert %s: %w", e.ID, err)
	}

	c.logger.Info(ctx, "alert joined cluster",
		"alert_id", e.ID,
		"cluster_id", cl.ID,
		"similarity", score,
		"alert_count", cl.AlertCount,
		"suppressed", suppress,
	)
	return nil
}

func (c *Clusterer) create(ctx context.Context, tx Tx, e *Event, vec similarity.Vector) (*Cluster, error) {
	at := e.FirstSeen
	cl := &Cluster{
		ID:               ulid.Make().String(),
		TenantID:         e.TenantID,
		Signature:        clusterSignature(e.TenantID, e.Type, e.BusinessUnitID),
		PrimaryAlertID:   e.ID,
		RelatedAlertIDs:  NewStringSet(e.ID),
		Confidence:       1.0,
		Method:           ClusterMethodCosine,
		FeatureVector:    vec,
		CombinedSeverity: e.Severity,
		AffectedSites:    NewStringSet(e.SiteID),
		AffectedPeople:   NewStringSet(e.PersonID),
		AlertTypes:       NewStringSet(string(e.Type)),
		FirstAlertAt:     at,
		LastAlertAt:      at,
		AlertCount:       1,
		IsActive:         true,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	if err := tx.InsertCluster(ctx, cl); err != nil {
		return nil, fmt.Errorf("insert cluster: %w", err)
	}

	e.ClusterID = cl.ID
	e.UpdatedAt = at
	reprioritize(e, 1)
	if err := tx.UpdateEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("update alert %s: %w", e.ID, err)
	}

	c.logger.Info(ctx, "created cluster",
		"alert_id", e.ID,
		"cluster_id", cl.ID,
		"signature", cl.Signature,
	)
	return cl, nil
}

// DeactivateStale closes clusters whose last alert is older than the
// staleness horizon. Closed clusters are never candidates again.
func (c *Clusterer) DeactivateStale(ctx context.Context, store Store, now time.Time) (int, error) {
	start := time.Now()
	cutoff := now.Add(-c.cfg.ClusterStaleness)
	n, err := store.DeactivateClusters(ctx, cutoff)
	if err != nil {
		c.logger.Error(ctx, err, "cluster deactivation sweep failed", "cutoff", cutoff)
		return 0, fmt.Errorf("deactivate clusters: %w", err)
	}
	c.metrics.deactivated(n)
	c.metrics.sweep("cluster_deactivation", SweepSummary{Succeeded: n}, time.Since(start).Seconds())
	c.logger.Info(ctx, "cluster deactivation sweep complete",
		"deactivated", n,
		"cutoff", cutoff,
	)
	return n, nil
}
