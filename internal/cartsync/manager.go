package cartsync

import (
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/cartbridge/pkg/coreapi"
)

const (
	defaultEngineIdleTTL = 30 * time.Minute
	evictSweepThreshold  = 256
)

// Manager hands out one engine per cart owner. Engines are created lazily
// on first use and evicted after sitting idle, so a burst of guest traffic
// does not pin memory forever.
type Manager struct {
	params  EngineParams
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	engines map[string]*managedEngine
	closed  bool
}

type managedEngine struct {
	engine   *Engine
	lastUsed time.Time
}

// NewManager validates the shared engine dependencies once up front.
func NewManager(params EngineParams) (*Manager, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("core client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Manager{
		params:  params,
		idleTTL: defaultEngineIdleTTL,
		now:     time.Now,
		engines: make(map[string]*managedEngine),
	}, nil
}

// EngineFor returns the engine bound to the given owner key, creating it
// on first use. The owner key distinguishes authenticated users from
// guests ("user:<id>" vs "guest:<token>").
func (m *Manager) EngineFor(ownerKey string, creds coreapi.Credentials) (*Engine, error) {
	if ownerKey == "" {
		return nil, fmt.Errorf("owner key required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("manager is closed")
	}

	if entry, ok := m.engines[ownerKey]; ok {
		entry.lastUsed = m.now()
		entry.engine.SetIdentity(ownerKey, creds)
		return entry.engine, nil
	}

	if len(m.engines) >= evictSweepThreshold {
		m.evictIdleLocked()
	}

	eng, err := NewEngine(m.params)
	if err != nil {
		return nil, err
	}
	eng.SetIdentity(ownerKey, creds)
	m.engines[ownerKey] = &managedEngine{engine: eng, lastUsed: m.now()}
	return eng, nil
}

// evictIdleLocked drops engines untouched for longer than the idle TTL.
// Caller holds m.mu.
func (m *Manager) evictIdleLocked() {
	cutoff := m.now().Add(-m.idleTTL)
	for key, entry := range m.engines {
		if entry.lastUsed.Before(cutoff) {
			entry.engine.Close()
			delete(m.engines, key)
		}
	}
}

// Close stops every managed engine. The manager must not be used after.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for key, entry := range m.engines {
		entry.engine.Close()
		delete(m.engines, key)
	}
}
