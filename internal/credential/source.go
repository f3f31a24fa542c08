package credential

import (
	"context"
)

// CredentialSource is the read interface for credential backends (directory,
// remote store, ...).
type CredentialSource interface {
	Name() string
	Load(ctx context.Context) ([]*Credential, error)
}

// WritableCredentialSource supports writing credentials back to the source.
type WritableCredentialSource interface {
	CredentialSource
	Save(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context, id string) error
}

// StatefulCredentialSource persists runtime state (health flags, counters)
// alongside the credential itself.
type StatefulCredentialSource interface {
	CredentialSource
	RestoreState(ctx context.Context, cred *Credential) error
	PersistState(ctx context.Context, cred *Credential, state *CredentialState) error
	DeleteState(ctx context.Context, id string) error
}
