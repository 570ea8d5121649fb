// Package alerting provides the business boundary for warden's alert
// lifecycle pipeline. It defines the Service (maintenance filter, dedup,
// correlation, clustering), the Clusterer, the Escalator (state machine,
// on-call resolution, auto-escalation sweep), the Store interface and the
// domain models.
package alerting
