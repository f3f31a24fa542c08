package credential

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// persistCredentialState writes the credential's runtime state through its
// source or the configured StateStore. Unless force is set, writes are
// debounced per credential so hot paths do not hammer the disk.
func (m *Manager) persistCredentialState(cred *Credential, force bool) {
	if cred == nil || cred.ID == "" {
		return
	}

	if !force {
		m.persistMu.Lock()
		last, ok := m.lastPersist[cred.ID]
		if ok && time.Since(last) < statePersistInterval {
			m.persistMu.Unlock()
			return
		}
		m.lastPersist[cred.ID] = time.Now()
		m.persistMu.Unlock()
	} else {
		m.persistMu.Lock()
		m.lastPersist[cred.ID] = time.Now()
		m.persistMu.Unlock()
	}

	ctx := context.Background()
	state := cred.SnapshotState()

	if src := m.getCredentialSource(cred.ID); src != nil {
		if stateful, ok := src.(StatefulCredentialSource); ok {
			if err := stateful.PersistState(ctx, cred, state); err != nil {
				log.WithError(err).Warnf("persist state failed for %s via source %s", cred.ID, src.Name())
			}
			return
		}
	}
	if m.stateStore != nil {
		if err := m.stateStore.Persist(ctx, cred, state); err != nil {
			log.WithError(err).Warnf("persist state failed for %s", cred.ID)
		}
	}
}

// restoreCredentialState loads runtime state from the StateStore when the
// credential's source does not manage state itself.
func (m *Manager) restoreCredentialState(cred *Credential) {
	if cred == nil || m.stateStore == nil {
		return
	}
	state, err := m.stateStore.Restore(context.Background(), cred)
	if err != nil {
		return
	}
	cred.RestoreState(state)
}

func (m *Manager) deleteCredentialState(credID string) {
	if credID == "" {
		return
	}
	ctx := context.Background()
	if src := m.getCredentialSource(credID); src != nil {
		if stateful, ok := src.(StatefulCredentialSource); ok {
			_ = stateful.DeleteState(ctx, credID)
		}
	}
	if m.stateStore != nil {
		_ = m.stateStore.Delete(ctx, credID)
	}
	m.persistMu.Lock()
	delete(m.lastPersist, credID)
	m.persistMu.Unlock()
}

// saveCredential persists a credential record via its source, falling back to
// the first writable source for new credentials.
func (m *Manager) saveCredential(cred *Credential) error {
	ctx := context.Background()
	if src := m.getCredentialSource(cred.ID); src != nil {
		if writable, ok := src.(WritableCredentialSource); ok {
			return writable.Save(ctx, cred)
		}
	}
	for _, src := range m.sources {
		writable, ok := src.(WritableCredentialSource)
		if !ok {
			continue
		}
		if err := writable.Save(ctx, cred); err != nil {
			return err
		}
		if cred.Source == "" {
			cred.Source = src.Name()
		}
		m.mu.Lock()
		m.credSource[cred.ID] = src
		m.mu.Unlock()
		return nil
	}
	log.Warnf("no writable source available for credential %s", cred.ID)
	return nil
}
