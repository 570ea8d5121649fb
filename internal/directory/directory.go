// Package directory serves maintenance windows, on-call schedules, sites
// and clients from a static YAML file. It stands in for the platform's own
// tables when warden runs without PostgreSQL.
package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/warden/internal/alerting"
)

// File is the on-disk layout.
type File struct {
	MaintenanceWindows []MaintenanceWindow `yaml:"maintenance_windows"`
	OnCall             []OnCallEntry       `yaml:"on_call"`
	Sites              []Site              `yaml:"sites"`
	Clients            []Client            `yaml:"clients"`
}

// MaintenanceWindow drops alerts for a tenant, optionally scoped to one client.
type MaintenanceWindow struct {
	ID              string    `yaml:"id"`
	TenantID        string    `yaml:"tenant_id"`
	ClientID        string    `yaml:"client_id"`
	Start           time.Time `yaml:"start"`
	End             time.Time `yaml:"end"`
	SuppressAll     bool      `yaml:"suppress_all"`
	SuppressedTypes []string  `yaml:"suppressed_types"`
}

// OnCallEntry is one schedule slot. An empty client_id covers the whole tenant.
type OnCallEntry struct {
	TenantID string    `yaml:"tenant_id"`
	ClientID string    `yaml:"client_id"`
	Person   string    `yaml:"person"`
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`

	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

type Site struct {
	ID       string `yaml:"id"`
	TenantID string `yaml:"tenant_id"`
	ClientID string `yaml:"client_id"`
	Name     string `yaml:"name"`
	InCharge string `yaml:"in_charge"`
}

type Client struct {
	ID        string `yaml:"id"`
	TenantID  string `yaml:"tenant_id"`
	Name      string `yaml:"name"`
	Owner     string `yaml:"owner"`
	CreatedBy string `yaml:"created_by"`
}

// Directory is an immutable, validated snapshot of a File.
type Directory struct {
	windows map[string][]alerting.MaintenanceWindow // tenant -> windows
	oncall  map[string][]alerting.OnCallEntry       // tenant -> entries
	sites   map[string][]alerting.Site              // tenant|client -> sites
	clients map[string]*alerting.Client             // tenant|client -> client
}

// Load reads and validates a directory file.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("directory file %s: %w", path, err)
	}
	return d, nil
}

// Parse decodes and validates YAML directory data. Unknown keys are rejected.
func Parse(data []byte) (*Directory, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return build(&f), nil
}

// Empty returns a directory with no records.
func Empty() *Directory {
	return build(&File{})
}

// Validate checks required fields and time ranges.
func (f *File) Validate() error {
	var errs []error
	for i, w := range f.MaintenanceWindows {
		if w.TenantID == "" {
			errs = append(errs, fmt.Errorf("maintenance_windows[%d]: tenant_id is required", i))
		}
		if !w.End.After(w.Start) {
			errs = append(errs, fmt.Errorf("maintenance_windows[%d]: end must be after start", i))
		}
		if !w.SuppressAll && len(w.SuppressedTypes) == 0 {
			errs = append(errs, fmt.Errorf("maintenance_windows[%d]: suppresses nothing", i))
		}
	}
	for i, o := range f.OnCall {
		if o.TenantID == "" || o.Person == "" {
			errs = append(errs, fmt.Errorf("on_call[%d]: tenant_id and person are required", i))
		}
		if !o.End.After(o.Start) {
			errs = append(errs, fmt.Errorf("on_call[%d]: end must be after start", i))
		}
	}
	for i, s := range f.Sites {
		if s.ID == "" || s.TenantID == "" || s.ClientID == "" {
			errs = append(errs, fmt.Errorf("sites[%d]: id, tenant_id and client_id are required", i))
		}
	}
	seen := make(map[string]bool, len(f.Clients))
	for i, c := range f.Clients {
		if c.ID == "" || c.TenantID == "" {
			errs = append(errs, fmt.Errorf("clients[%d]: id and tenant_id are required", i))
			continue
		}
		k := key(c.TenantID, c.ID)
		if seen[k] {
			errs = append(errs, fmt.Errorf("clients[%d]: duplicate client %s", i, c.ID))
		}
		seen[k] = true
	}
	return errors.Join(errs...)
}

func key(tenantID, clientID string) string {
	return tenantID + "|" + clientID
}

func build(f *File) *Directory {
	d := &Directory{
		windows: make(map[string][]alerting.MaintenanceWindow),
		oncall:  make(map[string][]alerting.OnCallEntry),
		sites:   make(map[string][]alerting.Site),
		clients: make(map[string]*alerting.Client),
	}
	for i, w := range f.MaintenanceWindows {
		id := w.ID
		if id == "" {
			id = fmt.Sprintf("mw-%d", i+1)
		}
		d.windows[w.TenantID] = append(d.windows[w.TenantID], alerting.MaintenanceWindow{
			ID:              id,
			TenantID:        w.TenantID,
			ClientID:        w.ClientID,
			Start:           w.Start.UTC(),
			End:             w.End.UTC(),
			SuppressAll:     w.SuppressAll,
			SuppressedTypes: alerting.NewStringSet(w.SuppressedTypes...),
		})
	}
	for _, o := range f.OnCall {
		active := o.Active == nil || *o.Active
		d.oncall[o.TenantID] = append(d.oncall[o.TenantID], alerting.OnCallEntry{
			TenantID: o.TenantID,
			ClientID: o.ClientID,
			Person:   o.Person,
			Start:    o.Start.UTC(),
			End:      o.End.UTC(),
			Active:   active,
		})
	}
	for _, s := range f.Sites {
		k := key(s.TenantID, s.ClientID)
		d.sites[k] = append(d.sites[k], alerting.Site(s))
	}
	for k := range d.sites {
		sort.Slice(d.sites[k], func(i, j int) bool { return d.sites[k][i].ID < d.sites[k][j].ID })
	}
	for _, c := range f.Clients {
		cl := alerting.Client(c)
		d.clients[key(c.TenantID, c.ID)] = &cl
	}
	return d
}

// MaintenanceWindows returns the tenant's windows in effect at at.
func (d *Directory) MaintenanceWindows(_ context.Context, tenantID string, at time.Time) ([]alerting.MaintenanceWindow, error) {
	var out []alerting.MaintenanceWindow
	for _, w := range d.windows[tenantID] {
		if w.Covers(at) {
			out = append(out, w)
		}
	}
	return out, nil
}

// OnCallEntries returns the active slots covering at for the client,
// including tenant-wide slots. Client-specific slots come first.
func (d *Directory) OnCallEntries(_ context.Context, tenantID, clientID string, at time.Time) ([]alerting.OnCallEntry, error) {
	var scoped, wide []alerting.OnCallEntry
	for _, o := range d.oncall[tenantID] {
		if !o.Covers(at) {
			continue
		}
		switch o.ClientID {
		case clientID:
			scoped = append(scoped, o)
		case "":
			wide = append(wide, o)
		}
	}
	return append(scoped, wide...), nil
}

// SitesForClient returns the client's sites ordered by ID.
func (d *Directory) SitesForClient(_ context.Context, tenantID, clientID string) ([]alerting.Site, error) {
	sites := d.sites[key(tenantID, clientID)]
	out := make([]alerting.Site, len(sites))
	copy(out, sites)
	return out, nil
}

// GetClient retrieves a client record.
func (d *Directory) GetClient(_ context.Context, tenantID, clientID string) (*alerting.Client, bool, error) {
	c, ok := d.clients[key(tenantID, clientID)]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}
