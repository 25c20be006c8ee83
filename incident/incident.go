// Package incident implements Incident Inference: a detector that opens an
// IncidentRecord when a junction's congestion stays HIGH for longer than a
// sustain window, and closes it once congestion drops back down. Three
// simultaneously open incidents across the grid escalate the Mode Manager
// into INCIDENT, and the mode returns to NORMAL once none is open.
package incident

import (
	"fmt"
	"sync"
	"time"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
)

// ModeManager is the narrow slice of safety/mode.Manager the Detector drives.
type ModeManager interface {
	TransitionTo(to models.SystemMode, reason string, forced bool) bool
	CurrentMode() models.SystemMode
}

const (
	defaultSustainWindow = 120 * time.Second
	escalationThreshold  = 3
)

type watch struct {
	since time.Time
	opened bool
	incidentID string
}

// Detector tracks how long each junction has stayed HIGH and opens/closes
// IncidentRecords accordingly.
type Detector struct {
	mu sync.Mutex

	SustainWindow time.Duration
	Mode          ModeManager
	Clock         clock.Clock

	watches map[string]*watch
	open    map[string]models.IncidentRecord
	history []models.IncidentRecord
	seq     int
}

// New returns a Detector with the documented default sustain window.
func New(mode ModeManager, clk clock.Clock) *Detector {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Detector{
		SustainWindow: defaultSustainWindow,
		Mode:          mode,
		Clock:         clk,
		watches:       make(map[string]*watch),
		open:          make(map[string]models.IncidentRecord),
	}
}

// Observe inspects one tick's junction density classifications, opening or
// clearing incidents as congestion crosses the sustain window, then
// escalates the Mode Manager to INCIDENT once escalationThreshold incidents
// are simultaneously open.
func (d *Detector) Observe(densities map[string]models.JunctionDensityData) []models.IncidentRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.Clock.Now()

	for junctionID, jd := range densities {
		w, tracking := d.watches[junctionID]
		if jd.CongestionLevel != models.High {
			if tracking {
				delete(d.watches, junctionID)
			}
			if rec, isOpen := d.open[junctionID]; isOpen {
				cleared := now
				rec.ClearedAt = &cleared
				d.history = append(d.history, rec)
				delete(d.open, junctionID)
			}
			continue
		}
		if !tracking {
			d.watches[junctionID] = &watch{since: now}
			continue
		}
		if !w.opened && now.Sub(w.since) >= d.SustainWindow {
			w.opened = true
			d.seq++
			rec := models.IncidentRecord{
				IncidentID: fmt.Sprintf("INC-%05d", d.seq),
				JunctionID: junctionID,
				DetectedAt: now,
				Severity:   models.High,
				Cause:      "sustained high congestion",
			}
			w.incidentID = rec.IncidentID
			d.open[junctionID] = rec
		}
	}

	if len(d.open) >= escalationThreshold && d.Mode != nil && d.Mode.CurrentMode() == models.ModeNormal {
		d.Mode.TransitionTo(models.ModeIncident, fmt.Sprintf("%d junctions in sustained high congestion", len(d.open)), false)
	} else if len(d.open) == 0 && d.Mode != nil && d.Mode.CurrentMode() == models.ModeIncident {
		d.Mode.TransitionTo(models.ModeNormal, "congestion cleared", false)
	}

	out := make([]models.IncidentRecord, 0, len(d.open))
	for _, rec := range d.open {
		out = append(out, rec)
	}
	return out
}

// History returns up to limit most recently cleared incidents, newest last.
func (d *Detector) History(limit int) []models.IncidentRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > len(d.history) {
		limit = len(d.history)
	}
	start := len(d.history) - limit
	out := make([]models.IncidentRecord, limit)
	copy(out, d.history[start:])
	return out
}
