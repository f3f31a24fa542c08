package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// FileSource loads and saves credentials from a local directory of JSON
// files, one credential per file.
type FileSource struct {
	dir  string
	name string
}

// NewFileSource builds a file source. dir should be absolute or pre-expanded.
func NewFileSource(dir string) *FileSource {
	clean := filepath.Clean(dir)
	return &FileSource{
		dir:  clean,
		name: "file:" + clean,
	}
}

// Dir returns the backing directory.
func (s *FileSource) Dir() string {
	return s.dir
}

func (s *FileSource) Name() string {
	return s.name
}

// Load reads every *.json credential file in the directory. Files that fail
// to parse are skipped with a warning so one bad file cannot take down the
// whole pool.
func (s *FileSource) Load(_ context.Context) ([]*Credential, error) {
	if s.dir == "" {
		return nil, fmt.Errorf("file source directory not configured")
	}
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read credential directory: %w", err)
	}
	var creds []*Credential
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		if strings.HasSuffix(strings.ToLower(file.Name()), credentialStateSuffix) {
			continue
		}
		fullPath := filepath.Join(s.dir, file.Name())
		data, err := os.ReadFile(fullPath)
		if err != nil {
			log.WithError(err).Warnf("credential file source: failed to read %s", file.Name())
			continue
		}
		cred, err := decodeCredentialFile(data)
		if err != nil {
			log.WithError(err).Warnf("credential file source: failed to parse %s", file.Name())
			continue
		}
		if cred.ID == "" {
			cred.ID = strings.TrimSuffix(file.Name(), ".json")
		}
		cred.Source = s.Name()
		creds = append(creds, cred)
	}
	return creds, nil
}

// decodeCredentialFile parses a credential file and fills in the type when the
// file predates the type field. Shape sniffing mirrors what the provider
// accepts: token material means OAuth, a bare key means API key.
func decodeCredentialFile(data []byte) (*Credential, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("not valid JSON")
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, err
	}
	if cred.Type == "" {
		switch {
		case gjson.GetBytes(data, "access_token").Exists() || gjson.GetBytes(data, "refresh_token").Exists():
			cred.Type = TypeGoogleOAuth
		case gjson.GetBytes(data, "api_key").Exists():
			cred.Type = TypeAPIKey
		}
	}
	// Legacy files carry no health flag; a loaded credential starts healthy
	// unless the file says otherwise.
	if !gjson.GetBytes(data, "is_healthy").Exists() {
		cred.Healthy = true
	}
	return &cred, nil
}

// Save writes the credential back to its file.
func (s *FileSource) Save(_ context.Context, cred *Credential) error {
	if s.dir == "" {
		return fmt.Errorf("file source directory not configured")
	}
	if cred == nil {
		return fmt.Errorf("credential is nil")
	}
	if cred.ID == "" {
		return fmt.Errorf("credential id is required")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("prepare credential directory: %w", err)
	}
	path := filepath.Join(s.dir, ensureJSONExtension(cred.ID))
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential %s: %w", cred.ID, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credential %s: %w", cred.ID, err)
	}
	return nil
}

// Delete removes the credential file.
func (s *FileSource) Delete(_ context.Context, id string) error {
	if s.dir == "" {
		return fmt.Errorf("file source directory not configured")
	}
	if id == "" {
		return fmt.Errorf("credential id is required")
	}
	path := filepath.Join(s.dir, ensureJSONExtension(id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete credential %s: %w", id, err)
	}
	return nil
}

// RestoreState loads the credential's state file if present.
func (s *FileSource) RestoreState(_ context.Context, cred *Credential) error {
	if cred == nil {
		return nil
	}
	path := s.statePath(cred.ID)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	var state CredentialState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}
	cred.RestoreState(&state)
	return nil
}

// PersistState writes the state file atomically.
func (s *FileSource) PersistState(_ context.Context, cred *Credential, state *CredentialState) error {
	if cred == nil || state == nil {
		return nil
	}
	if s.dir == "" {
		return fmt.Errorf("file source directory not configured")
	}
	if cred.ID == "" {
		return fmt.Errorf("credential id missing")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("prepare state directory: %w", err)
	}
	path := s.statePath(cred.ID)
	if path == "" {
		return fmt.Errorf("state path unavailable")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// DeleteState removes the state file.
func (s *FileSource) DeleteState(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	path := s.statePath(id)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

func (s *FileSource) statePath(id string) string {
	if s.dir == "" || id == "" {
		return ""
	}
	base := strings.TrimSuffix(id, filepath.Ext(id))
	return filepath.Join(s.dir, base+credentialStateSuffix)
}

func ensureJSONExtension(id string) string {
	if filepath.Ext(id) != "" {
		return id
	}
	return id + ".json"
}
