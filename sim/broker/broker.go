// Package broker exposes a running simulation to external software: a
// mutex-guarded snapshot store fed by the step loop, a REST API for reading
// state and queuing parameter mutations, and a WebSocket hub streaming step
// results. Together these form the software-in-the-loop control surface.
package broker

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridsim/gridsim/sim"
	"github.com/gridsim/gridsim/sim/monitor"
)

// Snapshot is the JSON form of one microgrid step result.
type Snapshot struct {
	Time   time.Time          `json:"time"`
	Fields map[string]float64 `json:"fields"`
}

// SetRequest queues a parameter mutation to be applied between steps.
type SetRequest struct {
	Microgrid string `json:"microgrid"`
	Key       string `json:"key"`
	Value     any    `json:"value"`
}

// Broker is a sim.Controller that caches the latest step results for API
// consumers and applies queued parameter mutations from the step loop, so
// that all microgrid state is still mutated only between steps.
type Broker struct {
	mu           sync.RWMutex
	microgrids   map[string]*sim.Microgrid
	names        []string
	latest       map[string]Snapshot
	history      map[string][]Snapshot
	historyLimit int
	pending      []SetRequest
	hub          *Hub
}

// New creates a broker over the given microgrids. historyLimit bounds the
// per-microgrid snapshot history; 0 selects a default of 1024 entries.
func New(microgrids []*sim.Microgrid, historyLimit int) *Broker {
	if historyLimit <= 0 {
		historyLimit = 1024
	}
	b := &Broker{
		microgrids:   make(map[string]*sim.Microgrid, len(microgrids)),
		latest:       make(map[string]Snapshot),
		history:      make(map[string][]Snapshot),
		historyLimit: historyLimit,
		hub:          NewHub(),
	}
	for _, mg := range microgrids {
		b.microgrids[mg.Name()] = mg
		b.names = append(b.names, mg.Name())
	}
	sort.Strings(b.names)
	return b
}

// Step implements sim.Controller: it records the step's results and applies
// queued set requests. A failing set request is logged and dropped, never
// allowed to halt the simulation.
func (b *Broker) Step(now time.Time, results map[string]sim.StepResult) error {
	b.mu.Lock()
	for name, res := range results {
		snap := Snapshot{Time: now, Fields: monitor.Flatten(res)}
		b.latest[name] = snap
		h := append(b.history[name], snap)
		if len(h) > b.historyLimit {
			h = h[len(h)-b.historyLimit:]
		}
		b.history[name] = h
	}
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, req := range pending {
		mg, ok := b.microgrids[req.Microgrid]
		if !ok {
			logrus.Warnf("broker: set request for unknown microgrid %q dropped", req.Microgrid)
			continue
		}
		if err := mg.SetParameter(req.Key, req.Value); err != nil {
			logrus.WithError(err).Warnf("broker: set request %q on microgrid %q rejected", req.Key, req.Microgrid)
		}
	}

	b.broadcast(now, results)
	return nil
}

// Finalize implements sim.Controller.
func (b *Broker) Finalize() {
	b.hub.Close()
}

// Hub returns the broker's WebSocket hub.
func (b *Broker) Hub() *Hub { return b.hub }

// Microgrids returns the managed microgrid names, sorted.
func (b *Broker) Microgrids() []string { return b.names }

// Latest returns the most recent snapshot for a microgrid.
func (b *Broker) Latest(microgrid string) (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.latest[microgrid]
	return snap, ok
}

// History returns the retained snapshots for a microgrid within [start, end].
// Zero times leave the corresponding bound open.
func (b *Broker) History(microgrid string, start, end time.Time) []Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Snapshot
	for _, snap := range b.history[microgrid] {
		if !start.IsZero() && snap.Time.Before(start) {
			continue
		}
		if !end.IsZero() && snap.Time.After(end) {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// QueueSetRequest schedules a parameter mutation for the next step boundary.
func (b *Broker) QueueSetRequest(req SetRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.microgrids[req.Microgrid]; !ok {
		return fmt.Errorf("unknown microgrid %q", req.Microgrid)
	}
	b.pending = append(b.pending, req)
	return nil
}

// stepEnvelope is the WebSocket message broadcast after every step.
type stepEnvelope struct {
	Type       string              `json:"type"`
	Time       time.Time           `json:"time"`
	Microgrids map[string]Snapshot `json:"microgrids"`
}

func (b *Broker) broadcast(now time.Time, results map[string]sim.StepResult) {
	if b.hub.ClientCount() == 0 || len(results) == 0 {
		return
	}
	env := stepEnvelope{Type: "step", Time: now, Microgrids: make(map[string]Snapshot, len(results))}
	for name, res := range results {
		env.Microgrids[name] = Snapshot{Time: now, Fields: monitor.Flatten(res)}
	}
	msg, err := json.Marshal(env)
	if err != nil {
		logrus.WithError(err).Warn("broker: failed to marshal step envelope")
		return
	}
	b.hub.Broadcast(msg)
}
