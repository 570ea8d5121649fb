package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// OnCallEntry is one externally managed on-call schedule slot. An empty
// ClientID covers every client of the tenant.
type OnCallEntry struct {
	TenantID string    `json:"tenant_id"`
	ClientID string    `json:"client_id,omitempty"`
	Person   string    `json:"person"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Active   bool      `json:"active"`
}

// Covers reports whether the entry is active and in effect at t.
func (o *OnCallEntry) Covers(t time.Time) bool {
	return o.Active && !t.Before(o.Start) && t.Before(o.End)
}

// Site is a monitored location belonging to a client.
type Site struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	ClientID string `json:"client_id"`
	Name     string `json:"name,omitempty"`
	InCharge string `json:"in_charge,omitempty"`
}

// Client is a customer of a tenant.
type Client struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name,omitempty"`
	Owner     string `json:"owner,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

// ScheduleSource reads on-call schedules for a tenant and client.
type ScheduleSource interface {
	OnCallEntries(ctx context.Context, tenantID, clientID string, at time.Time) ([]OnCallEntry, error)
}

// SiteSource reads the sites of a client.
type SiteSource interface {
	SitesForClient(ctx context.Context, tenantID, clientID string) ([]Site, error)
}

// ClientSource reads a client record.
type ClientSource interface {
	GetClient(ctx context.Context, tenantID, clientID string) (*Client, bool, error)
}

// OnCallResolver is one strategy for finding who should receive an
// escalation. It returns "" when it has no answer.
type OnCallResolver interface {
	Name() string
	ResolveOnCall(ctx context.Context, tenantID, clientID string, at time.Time) (string, error)
}

// ScheduleResolver picks the person on an active schedule slot covering the
// time, preferring slots scoped to the client over tenant-wide ones.
type ScheduleResolver struct {
	Source ScheduleSource
}

// Name implements OnCallResolver.
func (ScheduleResolver) Name() string { return "on_call_schedule" }

// ResolveOnCall returns the person on the best matching active slot, or "".
func (r ScheduleResolver) ResolveOnCall(ctx context.Context, tenantID, clientID string, at time.Time) (string, error) {
	entries, err := r.Source.OnCallEntries(ctx, tenantID, clientID, at)
	if err != nil {
		return "", err
	}
	var tenantWide string
	for i := range entries {
		en := &entries[i]
		if en.TenantID != tenantID || en.Person == "" || !en.Covers(at) {
			continue
		}
		switch en.ClientID {
		case clientID:
			return en.Person, nil
		case "":
			if tenantWide == "" {
				tenantWide = en.Person
			}
		}
	}
	return tenantWide, nil
}

// SiteInChargeResolver picks the in-charge of any site under the client.
type SiteInChargeResolver struct {
	Source SiteSource
}

// Name implements OnCallResolver.
func (SiteInChargeResolver) Name() string { return "site_in_charge" }

// ResolveOnCall returns the first site in-charge found for the client, or "".
func (r SiteInChargeResolver) ResolveOnCall(ctx context.Context, tenantID, clientID string, _ time.Time) (string, error) {
	sites, err := r.Source.SitesForClient(ctx, tenantID, clientID)
	if err != nil {
		return "", err
	}
	for _, s := range sites {
		if s.InCharge != "" {
			return s.InCharge, nil
		}
	}
	return "", nil
}

// ClientOwnerResolver falls back to the client's owner, then its creator.
type ClientOwnerResolver struct {
	Source ClientSource
}

// Name implements OnCallResolver.
func (ClientOwnerResolver) Name() string { return "client_owner" }

// ResolveOnCall returns the client owner, else its creator, or "" for an unknown client.
func (r ClientOwnerResolver) ResolveOnCall(ctx context.Context, tenantID, clientID string, _ time.Time) (string, error) {
	c, ok, err := r.Source.GetClient(ctx, tenantID, clientID)
	if err != nil || !ok {
		return "", err
	}
	if c.Owner != "" {
		return c.Owner, nil
	}
	return c.CreatedBy, nil
}

// OnCallChain tries each resolver in order and takes the first non-empty target.
type OnCallChain []OnCallResolver

// DefaultOnCallChain builds the schedule → site in-charge → client owner chain.
func DefaultOnCallChain(schedules ScheduleSource, sites SiteSource, clients ClientSource) OnCallChain {
	return OnCallChain{
		ScheduleResolver{Source: schedules},
		SiteInChargeResolver{Source: sites},
		ClientOwnerResolver{Source: clients},
	}
}

// Resolve returns the first non-empty target and the name of the resolver
// that produced it. A failing resolver does not stop the chain; its error is
// returned only when no later resolver found a target.
func (c OnCallChain) Resolve(ctx context.Context, tenantID, clientID string, at time.Time) (target, via string, err error) {
	var errs []error
	for _, r := range c {
		t, err := r.ResolveOnCall(ctx, tenantID, clientID, at)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			continue
		}
		if t != "" {
			return t, r.Name(), nil
		}
	}
	return "", "", errors.Join(errs...)
}
