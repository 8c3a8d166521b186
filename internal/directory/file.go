// Package directory resolves external identities to registered local users.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type fileContent struct {
	Users []*domain.LocalUser `yaml:"users"`
}

// FileDirectory keeps users in a YAML file. Merges are written back to the
// file.
type FileDirectory struct {
	path string

	mu    sync.RWMutex
	users []*domain.LocalUser
}

var _ domain.UserDirectory = (*FileDirectory)(nil)

// NewFileDirectory loads the users from path. A missing file is an empty
// directory; it is created on the first merge.
func NewFileDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload rereads the file.
func (d *FileDirectory) Reload() error {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", d.path).Msg("User directory file does not exist, starting empty")
		d.mu.Lock()
		d.users = nil
		d.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read user directory %s: %w", d.path, err)
	}

	var content fileContent
	if err := yaml.Unmarshal(data, &content); err != nil {
		return fmt.Errorf("failed to parse user directory %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.users = content.Users
	d.mu.Unlock()
	log.Info().Str("path", d.path).Int("users", len(content.Users)).Msg("User directory loaded")
	return nil
}

func (d *FileDirectory) FindByExternalID(_ context.Context, provider, externalID string) (*domain.LocalUser, error) {
	return d.find(func(u *domain.LocalUser) bool { return u.HasExternalID(provider, externalID) })
}

func (d *FileDirectory) FindByDN(_ context.Context, dn string) (*domain.LocalUser, error) {
	return d.find(func(u *domain.LocalUser) bool { return slices.Contains(u.DNs, dn) })
}

func (d *FileDirectory) FindByName(_ context.Context, name string) (*domain.LocalUser, error) {
	return d.find(func(u *domain.LocalUser) bool { return u.Name == name })
}

func (d *FileDirectory) find(match func(*domain.LocalUser) bool) (*domain.LocalUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// MergeUser applies changes to the named user and persists the file.
func (d *FileDirectory) MergeUser(_ context.Context, name string, changes domain.UserChanges) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := slices.IndexFunc(d.users, func(u *domain.LocalUser) bool { return u.Name == name })
	if idx < 0 {
		return domain.ErrUserNotFound
	}
	updated := cloneUser(d.users[idx])
	updated.Apply(changes)

	users := slices.Clone(d.users)
	users[idx] = updated
	if err := d.write(users); err != nil {
		return err
	}
	d.users = users
	log.Info().Str("user", name).Strs("dns", changes.DNs).Strs("groups", changes.Groups).Msg("User record merged")
	return nil
}

// write must be called with the write lock held. The file is replaced by a
// rename so readers never see a partial file.
func (d *FileDirectory) write(users []*domain.LocalUser) error {
	data, err := yaml.Marshal(fileContent{Users: users})
	if err != nil {
		return fmt.Errorf("failed to encode user directory: %w", err)
	}
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".users-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write user directory: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write user directory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write user directory: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("failed to replace user directory %s: %w", d.path, err)
	}
	return nil
}

func cloneUser(u *domain.LocalUser) *domain.LocalUser {
	c := *u
	c.DNs = slices.Clone(u.DNs)
	c.Groups = slices.Clone(u.Groups)
	if u.ExternalIDs != nil {
		c.ExternalIDs = make(map[string][]string, len(u.ExternalIDs))
		for k, v := range u.ExternalIDs {
			c.ExternalIDs[k] = slices.Clone(v)
		}
	}
	return &c
}
