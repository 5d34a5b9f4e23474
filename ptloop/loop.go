// Package ptloop implements the cooperative, single-threaded event
// loop that drives one or more algorithm instances against a shared
// Network and event Bus: Poll the network, drain the bus, let every
// live instance react, repeat until all instances are done.
package ptloop

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ecmptrace/paristraceroute/algorithm"
	"github.com/ecmptrace/paristraceroute/event"
	"github.com/ecmptrace/paristraceroute/lattice"
	"github.com/ecmptrace/paristraceroute/network"
)

// State is the loop's lifecycle stage.
type State int

const (
	StateInit State = iota
	StateRunning
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// instance pairs a running algorithm.Instance with its owning Lattice
// so the loop can report per-instance completion.
type instance struct {
	alg   algorithm.Instance
	lat   *lattice.Lattice
	runID string
}

// Loop owns the network, the bus, and every algorithm instance running
// against them. It is not safe for concurrent use; Run blocks the
// calling goroutine until every instance finishes or Terminate is
// called.
type Loop struct {
	net *network.Network
	bus *event.Bus

	quantum time.Duration
	logger  *logrus.Entry

	state     State
	instances []*instance
}

// Create returns a Loop ready to accept algorithm instances. quantum
// bounds how long a single Poll call may block waiting for a reply;
// it is the granularity at which the loop notices termination
// requests and timeouts.
func Create(net *network.Network, bus *event.Bus, quantum time.Duration, logger *logrus.Entry) *Loop {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	l := &Loop{net: net, bus: bus, quantum: quantum, logger: logger, state: StateInit}
	bus.Subscribe(l.dispatch)
	return l
}

// AddAlgorithm constructs an instance via a and starts it immediately.
// Adding instances once Run is underway is fine: the next iteration
// will drive the new instance along with the rest.
func (l *Loop) AddAlgorithm(a algorithm.Algorithm, lat *lattice.Lattice, opts algorithm.Options) error {
	if l.state == StateStopped {
		return fmt.Errorf("ptloop: cannot add algorithm, loop already stopped")
	}
	inst, err := a.NewInstance(l.net, l.bus, lat, opts)
	if err != nil {
		return fmt.Errorf("ptloop: %s: %w", a.Name(), err)
	}
	if err := inst.Start(); err != nil {
		return fmt.Errorf("ptloop: %s: start: %w", a.Name(), err)
	}
	runID := uuid.NewString()
	l.instances = append(l.instances, &instance{alg: inst, lat: lat, runID: runID})
	l.logger.WithFields(logrus.Fields{"algorithm": a.Name(), "run_id": runID}).Info("instance started")
	return nil
}

// Run drives the loop until every instance reports Done, or Terminate
// is called from another goroutine's perspective is not supported —
// Terminate is meant to be called from within an OnEvent callback or
// before Run, since the loop is single-threaded by design.
func (l *Loop) Run() {
	l.state = StateRunning
	for l.state == StateRunning {
		l.net.Poll(l.quantum)
		l.bus.Drain()
		l.reapFinished()
		if len(l.instances) == 0 {
			l.state = StateTerminating
		}
	}
	l.net.DropOutstanding()
	l.state = StateStopped
}

func (l *Loop) dispatch(e event.Event) {
	for _, inst := range l.instances {
		if err := inst.alg.OnEvent(e); err != nil {
			l.logger.WithFields(logrus.Fields{"run_id": inst.runID, "err": err}).Warn("instance OnEvent failed")
		}
	}
}

func (l *Loop) reapFinished() {
	live := l.instances[:0]
	for _, inst := range l.instances {
		if inst.alg.Done() {
			l.logger.WithField("run_id", inst.runID).Info("instance finished")
			continue
		}
		live = append(live, inst)
	}
	l.instances = live
}

// Terminate asks every running instance to stop; Run returns at the end
// of its current iteration and drops any still-outstanding probes.
func (l *Loop) Terminate() {
	for _, inst := range l.instances {
		inst.alg.Stop()
	}
	l.state = StateTerminating
}

// InstanceStop stops a single instance by lattice identity, used when
// a CLI wants to cancel one target among several concurrent runs.
func (l *Loop) InstanceStop(lat *lattice.Lattice) {
	for _, inst := range l.instances {
		if inst.lat == lat {
			inst.alg.Stop()
		}
	}
}

// Free releases the loop's network resources. Call after Run returns.
func (l *Loop) Free() error {
	return l.net.Close()
}
