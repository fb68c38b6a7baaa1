// Package status reports whether the collaborators a groundsql process
// depends on are ready: the relational store, the state store, the schema
// snapshot and the oracle configuration. The gateway serves the result at
// /health and the CLI prints it from doctor.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/canonica-labs/groundsql/pkg/models"
)

// DefaultProbeTimeout bounds each probe.
const DefaultProbeTimeout = 5 * time.Second

// Component names.
const (
	ComponentStore  = "store"
	ComponentStates = "state_store"
	ComponentSchema = "schema"
	ComponentOracle = "oracle"
)

// Probe checks one component. A nil error means ready; message describes
// the component either way.
type Probe struct {
	Name  string
	Check func(ctx context.Context) (message string, err error)
}

// ComponentStatus represents the status of a component.
type ComponentStatus struct {
	Name    string `json:"name"`
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// StatusResult represents the result of a status check.
type StatusResult struct {
	Ready      bool              `json:"ready"`
	Reason     string            `json:"reason,omitempty"`
	Version    string            `json:"version"`
	Components []ComponentStatus `json:"components"`
}

// StatusChecker provides status checking functionality.
type StatusChecker interface {
	GetStatus(ctx context.Context) (*StatusResult, error)
}

// Checker runs probes. All probes run concurrently; the result keeps probe
// order.
type Checker struct {
	version string
	timeout time.Duration
	probes  []Probe
}

// NewChecker creates a checker.
func NewChecker(version string, probes ...Probe) *Checker {
	return &Checker{version: version, timeout: DefaultProbeTimeout, probes: probes}
}

// WithTimeout sets the per-probe timeout.
func (c *Checker) WithTimeout(d time.Duration) *Checker {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// GetStatus implements StatusChecker. The process is ready only when every
// probe passes; Reason names the first failing one.
func (c *Checker) GetStatus(ctx context.Context) (*StatusResult, error) {
	result := &StatusResult{
		Ready:      true,
		Version:    c.version,
		Components: make([]ComponentStatus, len(c.probes)),
	}

	var wg sync.WaitGroup
	for i, p := range c.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			msg, err := p.Check(pctx)
			cs := ComponentStatus{Name: p.Name, Ready: err == nil, Message: msg}
			if err != nil {
				cs.Message = err.Error()
				if msg != "" {
					cs.Message = msg + ": " + err.Error()
				}
			}
			result.Components[i] = cs
		}(i, p)
	}
	wg.Wait()

	for _, cs := range result.Components {
		if !cs.Ready {
			result.Ready = false
			if result.Reason == "" {
				result.Reason = cs.Name + " not ready: " + cs.Message
			}
		}
	}
	return result, nil
}

// Model returns the API view of the result.
func (r *StatusResult) Model() models.HealthResponse {
	out := models.HealthResponse{Status: "ready", Version: r.Version}
	if !r.Ready {
		out.Status = "not_ready"
	}
	for _, c := range r.Components {
		out.Components = append(out.Components, models.Component{Name: c.Name, Ready: c.Ready, Message: c.Message})
	}
	return out
}
