package credential

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"antigravity2api-go/internal/events"
	"antigravity2api-go/internal/oauth"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// In-flight operation names used for affordance-level debouncing: while one of
// these is outstanding for a credential, a second identical request is
// rejected instead of queued.
const (
	OpDelete  = "delete"
	OpCheck   = "check"
	OpRefresh = "refresh"
)

const (
	credentialStateSuffix = ".state.json"
	statePersistInterval  = 10 * time.Second
	watchDebounceInterval = 300 * time.Millisecond
)

// Options configure how the credential manager behaves.
type Options struct {
	AuthDir string
	Sources []CredentialSource
	// Token refresh. A nil Refresher falls back to a default OAuth manager;
	// the server injects its configured one.
	RefreshAheadSeconds int
	RefreshMaxRetries   int
	Refresher           TokenRefresher
	// Optional stores
	StateStore StateStore
}

// Manager owns the credential pool: loading from sources, mutation, state
// persistence, and change events.
type Manager struct {
	credentials []*Credential
	mu          sync.RWMutex
	authDir     string
	sources     []CredentialSource
	credSource  map[string]CredentialSource

	// Hot reload
	reloadCh    chan struct{}
	watchOnce   sync.Once
	watcher     *fsnotify.Watcher
	reloadMu    sync.Mutex
	reloadTimer *time.Timer
	persistMu   sync.Mutex
	lastPersist map[string]time.Time

	// In-flight operation guards
	inflight   map[string]map[string]struct{}
	inflightMu sync.Mutex

	// Token refresh policy
	refreshAheadSec   int
	refreshMaxRetries int
	refresher         TokenRefresher
	refreshGroup      map[string]*refreshCall
	refreshGroupMu    sync.Mutex

	stateStore StateStore
	publisher  events.Publisher
}

// NewManager creates a new credential manager.
func NewManager(opts Options) *Manager {
	ahead := opts.RefreshAheadSeconds
	if ahead <= 0 {
		ahead = 300
	}
	retries := opts.RefreshMaxRetries
	if retries <= 0 {
		retries = 3
	}
	ref := opts.Refresher
	if ref == nil {
		ref = oauth.NewManager()
	}

	mgr := &Manager{
		credentials:       make([]*Credential, 0),
		authDir:           opts.AuthDir,
		sources:           filterSources(opts.Sources),
		credSource:        make(map[string]CredentialSource),
		reloadCh:          make(chan struct{}, 1),
		lastPersist:       make(map[string]time.Time),
		inflight:          make(map[string]map[string]struct{}),
		refreshAheadSec:   ahead,
		refreshMaxRetries: retries,
		refresher:         ref,
		refreshGroup:      make(map[string]*refreshCall),
		stateStore:        opts.StateStore,
	}

	if len(mgr.sources) == 0 && mgr.authDir != "" {
		mgr.sources = []CredentialSource{NewFileSource(mgr.authDir)}
	}

	return mgr
}

func filterSources(sources []CredentialSource) []CredentialSource {
	if len(sources) == 0 {
		return nil
	}
	out := make([]CredentialSource, 0, len(sources))
	for _, src := range sources {
		if src != nil {
			out = append(out, src)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SetEventPublisher wires the event hub used to broadcast credential changes.
func (m *Manager) SetEventPublisher(p events.Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// LoadCredentials loads credentials from configured sources.
func (m *Manager) LoadCredentials() error {
	ctx := context.Background()
	if len(m.sources) == 0 {
		return fmt.Errorf("no credential sources configured")
	}

	aggregated := make([]*Credential, 0)
	sourceIndex := make(map[string]CredentialSource)
	seen := make(map[string]struct{})

	for _, src := range m.sources {
		creds, err := src.Load(ctx)
		if err != nil {
			log.WithError(err).Warnf("credential source %s load failed", src.Name())
			continue
		}
		for _, cred := range creds {
			if cred == nil {
				continue
			}
			if cred.ID == "" {
				log.Warnf("credential source %s returned credential without id", src.Name())
				continue
			}
			if _, exists := seen[cred.ID]; exists {
				log.Warnf("duplicate credential id %s found in source %s, skipping", cred.ID, src.Name())
				continue
			}
			if cred.Source == "" {
				cred.Source = src.Name()
			}
			if stateful, ok := src.(StatefulCredentialSource); ok {
				if err := stateful.RestoreState(ctx, cred); err != nil {
					log.WithError(err).Warnf("restore state failed for %s via source %s", cred.ID, src.Name())
				}
			} else {
				m.restoreCredentialState(cred)
			}
			aggregated = append(aggregated, cred)
			sourceIndex[cred.ID] = src
			seen[cred.ID] = struct{}{}
		}
	}

	sort.Slice(aggregated, func(i, j int) bool {
		return aggregated[i].ID < aggregated[j].ID
	})

	m.mu.Lock()
	m.credentials = aggregated
	m.credSource = sourceIndex
	m.mu.Unlock()

	m.persistMu.Lock()
	m.lastPersist = make(map[string]time.Time, len(aggregated))
	m.persistMu.Unlock()

	log.Infof("Loaded %d credentials from %d source(s)", len(aggregated), len(m.sources))
	m.emitCredentialSnapshot(aggregated)
	return nil
}

// GetAllCredentials returns a cloned snapshot of the pool.
func (m *Manager) GetAllCredentials() []*Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clones := make([]*Credential, len(m.credentials))
	for i, cred := range m.credentials {
		clones[i] = cred.Clone()
	}
	return clones
}

// GetCredentialByID returns a cloned credential by id if present.
func (m *Manager) GetCredentialByID(id string) (*Credential, bool) {
	if id == "" {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cred := range m.credentials {
		if cred != nil && cred.ID == id {
			return cred.Clone(), true
		}
	}
	return nil, false
}

// AddCredential registers a new credential and persists it to the first
// writable source. A missing ID gets a generated one.
func (m *Manager) AddCredential(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("credential is nil")
	}
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.Type == "" {
		if cred.APIKey != "" {
			cred.Type = TypeAPIKey
		} else {
			cred.Type = TypeGoogleOAuth
		}
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	cred.Healthy = true

	m.mu.RLock()
	for _, existing := range m.credentials {
		if existing != nil && existing.ID == cred.ID {
			m.mu.RUnlock()
			return fmt.Errorf("credential %s already exists", cred.ID)
		}
	}
	m.mu.RUnlock()

	if err := m.saveCredential(cred); err != nil {
		return err
	}

	m.mu.Lock()
	m.credentials = append(m.credentials, cred)
	sort.Slice(m.credentials, func(i, j int) bool {
		return m.credentials[i].ID < m.credentials[j].ID
	})
	m.mu.Unlock()

	log.Infof("Added credential %s (%s)", cred.ID, cred.Type)
	m.emitCredentialEvent("added", cred.Clone())
	return nil
}

// UpdateCredential applies fn to the live credential, persists the record,
// and returns a clone of the result.
func (m *Manager) UpdateCredential(credID string, fn func(*Credential)) (*Credential, error) {
	target, err := m.mutateCredential(credID, func(c *Credential) error {
		fn(c)
		c.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.saveCredential(target.Clone()); err != nil {
		log.Warnf("Failed to persist updated credential %s: %v", credID, err)
	}
	log.Infof("Updated credential %s", credID)
	m.emitCredentialEvent("updated", target.Clone())
	return target.Clone(), nil
}

// DisableCredential manually disables a credential.
func (m *Manager) DisableCredential(credID string) error {
	target, err := m.mutateCredential(credID, func(c *Credential) error {
		c.Disabled = true
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Disabled credential %s", credID)
	m.persistCredentialState(target, true)
	m.emitCredentialEvent("disabled", target.Clone())
	return nil
}

// EnableCredential manually enables a credential.
func (m *Manager) EnableCredential(credID string) error {
	target, err := m.mutateCredential(credID, func(c *Credential) error {
		c.Disabled = false
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Enabled credential %s", credID)
	m.persistCredentialState(target, true)
	m.emitCredentialEvent("enabled", target.Clone())
	return nil
}

// ResetCredential clears runtime counters and error state for one credential.
func (m *Manager) ResetCredential(credID string) error {
	target, err := m.mutateCredential(credID, func(c *Credential) error {
		c.resetStatsLocked()
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Reset stats for credential %s", credID)
	m.persistCredentialState(target, true)
	m.emitCredentialEvent("reset", target.Clone())
	return nil
}

// ResetAllStats clears runtime counters for every credential.
func (m *Manager) ResetAllStats() {
	m.mu.RLock()
	creds := append([]*Credential(nil), m.credentials...)
	m.mu.RUnlock()

	for _, cred := range creds {
		cred.ResetStats()
		m.persistCredentialState(cred, false)
	}
}

// DeleteCredential removes a credential from the pool and its backing source.
func (m *Manager) DeleteCredential(credID string) error {
	target, src, err := m.removeCredential(credID)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if writable, ok := src.(WritableCredentialSource); ok {
		if err := writable.Delete(ctx, credID); err != nil {
			return fmt.Errorf("failed to delete credential via %s: %w", src.Name(), err)
		}
	}
	log.Infof("Deleted credential %s", credID)
	m.deleteCredentialState(credID)
	if target != nil {
		m.emitCredentialEvent("deleted", target.Clone())
	}
	return nil
}

// mutateCredential applies fn to the live credential under the pool read lock
// and the credential's own write lock, so concurrent Clone/snapshot readers
// never observe a half-applied mutation. fn must not call Credential methods
// that take the lock themselves.
func (m *Manager) mutateCredential(credID string, fn func(*Credential) error) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cred := range m.credentials {
		if cred != nil && cred.ID == credID {
			cred.mu.Lock()
			err := fn(cred)
			cred.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return cred, nil
		}
	}
	return nil, fmt.Errorf("credential %s not found", credID)
}

func (m *Manager) removeCredential(credID string) (*Credential, CredentialSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, cred := range m.credentials {
		if cred != nil && cred.ID == credID {
			m.credentials = append(m.credentials[:i], m.credentials[i+1:]...)
			src := m.credSource[credID]
			delete(m.credSource, credID)
			if src == nil {
				src = m.firstWritableSourceLocked()
			}
			if src == nil {
				return nil, nil, fmt.Errorf("credential %s has no backing source", credID)
			}
			return cred, src, nil
		}
	}
	return nil, nil, fmt.Errorf("credential %s not found", credID)
}

func (m *Manager) firstWritableSourceLocked() CredentialSource {
	for _, src := range m.sources {
		if _, ok := src.(WritableCredentialSource); ok {
			return src
		}
	}
	return nil
}

func (m *Manager) getCredentialSource(id string) CredentialSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credSource[id]
}

// TryBeginOp marks op as in flight for the credential. It returns false when
// the same operation is already running, which callers turn into a conflict
// response rather than starting a duplicate.
func (m *Manager) TryBeginOp(credID, op string) bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()

	ops := m.inflight[credID]
	if ops == nil {
		ops = make(map[string]struct{})
		m.inflight[credID] = ops
	}
	if _, busy := ops[op]; busy {
		return false
	}
	ops[op] = struct{}{}
	return true
}

// EndOp clears the in-flight marker set by TryBeginOp.
func (m *Manager) EndOp(credID, op string) {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()

	if ops := m.inflight[credID]; ops != nil {
		delete(ops, op)
		if len(ops) == 0 {
			delete(m.inflight, credID)
		}
	}
}

// InFlight reports which guarded operations are currently running for the
// credential.
func (m *Manager) InFlight(credID string) map[string]bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()

	out := make(map[string]bool, 3)
	for op := range m.inflight[credID] {
		out[op] = true
	}
	return out
}
