// Package malspp is the application entry point: a Manager owns the
// transports of a node and Endpoints exchange MAL interactions over them.
package malspp

import (
	"fmt"
	"sort"
	"sync"

	"avaneesh/malspp-go/pkg/channel"
	"avaneesh/malspp-go/pkg/internal/logger"
	"avaneesh/malspp-go/pkg/transport"
)

// Manager is the root object for MAL/SPP operations
// It manages transports and provides the main API entry point
type Manager struct {
	transports map[string]*transport.Transport
	mu         sync.RWMutex
	logger     logger.Logger
}

// NewManager creates a new manager
func NewManager() *Manager {
	return NewManagerWithLogger(logger.GetDefault())
}

// NewManagerWithLogger creates a new manager with custom logger
func NewManagerWithLogger(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Manager{
		transports: make(map[string]*transport.Transport),
		logger:     log,
	}
}

// AddTransport creates and opens a transport on the given physical
// channel. opts are applied after the manager's id and logger.
func (m *Manager) AddTransport(id string, config transport.TransportConfig, physical channel.PhysicalChannel, opts ...transport.Option) (*transport.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transports[id]; exists {
		return nil, fmt.Errorf("transport %s already exists", id)
	}

	all := append([]transport.Option{transport.WithID(id), transport.WithLogger(m.logger)}, opts...)
	tr, err := transport.New(config, physical, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	if err := tr.Open(); err != nil {
		return nil, fmt.Errorf("failed to open transport: %w", err)
	}

	m.transports[id] = tr
	m.logger.Info("Manager: Added transport %s", id)
	return tr, nil
}

// RemoveTransport closes and removes a transport
func (m *Manager) RemoveTransport(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, exists := m.transports[id]
	if !exists {
		return fmt.Errorf("transport %s not found", id)
	}

	if err := tr.Close(); err != nil {
		m.logger.Error("Error closing transport %s: %v", id, err)
	}

	delete(m.transports, id)
	m.logger.Info("Manager: Removed transport %s", id)
	return nil
}

// GetTransport returns a transport by ID
func (m *Manager) GetTransport(id string) (*transport.Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tr, exists := m.transports[id]
	return tr, exists
}

// Transports returns every transport ordered by ID
func (m *Manager) Transports() []*transport.Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*transport.Transport, 0, len(m.transports))
	for _, tr := range m.transports {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// TransportCount returns the number of transports
func (m *Manager) TransportCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transports)
}

// Collector returns a Prometheus collector over the current transports.
func (m *Manager) Collector() *transport.Collector {
	return transport.NewCollector(m.Transports()...)
}

// Shutdown shuts down the manager and all transports
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Manager: Shutting down")

	for id, tr := range m.transports {
		if err := tr.Close(); err != nil {
			m.logger.Error("Error closing transport %s: %v", id, err)
		}
	}

	m.transports = make(map[string]*transport.Transport)
	m.logger.Info("Manager: Shutdown complete")
	return nil
}

// SetLogger sets the logger used for transports added later
func (m *Manager) SetLogger(log logger.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = log
}
