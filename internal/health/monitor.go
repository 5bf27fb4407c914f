package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"go.uber.org/zap"
)

// Registry is the part of the connection registry the monitor mutates.
// Update runs fn under the registry's lock on the live client record.
type Registry interface {
	Update(clientID string, fn func(c *types.Client) error) (types.Client, error)
	List() []types.Client
}

// Monitor drives the client status state machine. It never keeps its own
// copy of a client; every change goes through the registry.
type Monitor struct {
	registry Registry
	clock    clock.Clock
	logger   *zap.Logger
	bus      *Bus

	timeout  time.Duration
	interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewMonitor(registry Registry, clk clock.Clock, timeout, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		registry: registry,
		clock:    clk,
		logger:   logger,
		bus:      NewBus(),
		timeout:  timeout,
		interval: interval,
	}
}

func (m *Monitor) Subscribe() *Subscription { return m.bus.Subscribe() }

func (m *Monitor) Unsubscribe(s *Subscription) { m.bus.Unsubscribe(s) }

// Timeout is the heartbeat timeout used by the sweep.
func (m *Monitor) Timeout() time.Duration { return m.timeout }

// RecordRegistration marks a freshly bound client Online.
func (m *Monitor) RecordRegistration(clientID string) error {
	return m.touch(clientID, "registered")
}

// RecordHeartbeat refreshes last-seen and brings the client back Online
// if it was in any other state.
func (m *Monitor) RecordHeartbeat(clientID string) error {
	return m.touch(clientID, "heartbeat")
}

func (m *Monitor) touch(clientID, reason string) error {
	var previous types.ClientStatus
	changed := false

	_, err := m.registry.Update(clientID, func(c *types.Client) error {
		c.LastSeen = m.clock.Now()
		if c.Status == types.StatusOnline {
			return nil
		}
		if err := types.ValidateTransition(c.Status, types.StatusOnline); err != nil {
			return err
		}
		previous = c.Status
		c.Status = types.StatusOnline
		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		m.emitStatus(clientID, previous, types.StatusOnline, reason)
	}
	return nil
}

// SetStatus applies a validated transition. Setting the current status
// again is a no-op and reports changed=false.
func (m *Monitor) SetStatus(clientID string, status types.ClientStatus, reason string) (bool, error) {
	var previous types.ClientStatus
	changed := false

	_, err := m.registry.Update(clientID, func(c *types.Client) error {
		if c.Status == status {
			return nil
		}
		if err := types.ValidateTransition(c.Status, status); err != nil {
			return err
		}
		previous = c.Status
		c.Status = status
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		m.emitStatus(clientID, previous, status, reason)
	}
	return changed, nil
}

// ReportError moves a client into Error with the device's message.
func (m *Monitor) ReportError(clientID, message string) error {
	if _, err := m.registry.Update(clientID, func(c *types.Client) error {
		c.LastError = message
		return nil
	}); err != nil {
		return err
	}
	_, err := m.SetStatus(clientID, types.StatusError, message)
	return err
}

// RecordDisconnect is called once the connection is gone and the client
// has left the registry.
func (m *Monitor) RecordDisconnect(clientID string) {
	m.bus.Publish(Event{
		Type:     EventDisconnected,
		ClientID: clientID,
		At:       m.clock.Now(),
	})
}

// StaleClients returns clients whose last-seen is older than timeout.
func (m *Monitor) StaleClients(timeout time.Duration) []types.Client {
	cutoff := m.clock.Now().Add(-timeout)

	var stale []types.Client
	for _, c := range m.registry.List() {
		if c.LastSeen.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	return stale
}

// Sweep moves every stale Online client to Offline and returns how many
// it moved.
func (m *Monitor) Sweep() int {
	moved := 0
	for _, c := range m.StaleClients(m.timeout) {
		if c.Status != types.StatusOnline {
			continue
		}

		cutoff := m.clock.Now().Add(-m.timeout)
		changed := false
		_, err := m.registry.Update(c.ID, func(live *types.Client) error {
			// A heartbeat may have landed since the snapshot.
			if live.Status != types.StatusOnline || !live.LastSeen.Before(cutoff) {
				return nil
			}
			live.Status = types.StatusOffline
			changed = true
			return nil
		})
		if err != nil {
			continue
		}

		if changed {
			moved++
			m.logger.Info("Client heartbeat timed out",
				zap.String("client_id", c.ID),
				zap.Time("last_seen", c.LastSeen))
			m.emitStatus(c.ID, types.StatusOnline, types.StatusOffline, "heartbeat timeout")
		}
	}
	return moved
}

func (m *Monitor) emitStatus(clientID string, from, to types.ClientStatus, reason string) {
	m.logger.Debug("Client status changed",
		zap.String("client_id", clientID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))

	m.bus.Publish(Event{
		Type:     EventStatusChanged,
		ClientID: clientID,
		Previous: from,
		Current:  to,
		Reason:   reason,
		At:       m.clock.Now(),
	})
}

// Start runs the periodic sweep until Stop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if m.interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", m.interval)
	}

	m.running = true
	m.stopChan = make(chan struct{})
	ticker := m.clock.NewTicker(m.interval)
	m.wg.Add(1)

	go m.sweepLoop(m.stopChan, ticker)

	m.logger.Info("Health monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout))

	return nil
}

// Stop ends the sweep and waits for it to return. Subscribers are closed.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.bus.Close()

	m.logger.Info("Health monitor stopped")
}

func (m *Monitor) sweepLoop(stop <-chan struct{}, ticker *clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("Health sweep completed", zap.Int("offline", n))
			}
		}
	}
}
