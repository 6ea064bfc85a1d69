// ABOUTME: User directory backed by the store, with YAML seed bootstrap
// ABOUTME: Implements the messaging service's Directory collaborator

package identity

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gearshare/courier/internal/store"
)

// UserStore is what the directory needs from persistence.
type UserStore interface {
	UpsertUser(ctx context.Context, user *store.User) error
	GetUser(ctx context.Context, id string) (*store.User, error)
	SearchUsersByNamePrefix(ctx context.Context, prefix string, limit int) ([]*store.User, error)
}

// Directory resolves user profiles and serves name-prefix search. It is a
// read-through view over the mirrored users table: profiles arrive from
// verified identity tokens and from conversation starts, never from an
// in-process cache of search results.
type Directory struct {
	users UserStore
}

// NewDirectory creates a directory over the given user store.
func NewDirectory(users UserStore) *Directory {
	return &Directory{users: users}
}

// SearchByNamePrefix returns users whose display name starts with prefix.
// Matching is case-sensitive; equal names order by id.
func (d *Directory) SearchByNamePrefix(ctx context.Context, prefix string, limit int) ([]*store.User, error) {
	return d.users.SearchUsersByNamePrefix(ctx, prefix, limit)
}

// Resolve returns the stored profile for id.
func (d *Directory) Resolve(ctx context.Context, id string) (*store.User, error) {
	return d.users.GetUser(ctx, id)
}

// RecordIdentity mirrors a verified identity into the directory, so a user
// becomes searchable the first time a request carries their token.
func (d *Directory) RecordIdentity(ctx context.Context, ident *Identity) error {
	if ident.Name == "" && ident.Email == "" {
		// Token carried no profile claims; keep whatever we already have
		return nil
	}
	return d.users.UpsertUser(ctx, &store.User{
		ID:    ident.UserID,
		Name:  ident.Name,
		Email: ident.Email,
	})
}

// seedFile is the on-disk YAML bootstrap format.
type seedFile struct {
	Users []struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
	} `yaml:"users"`
}

// LoadSeed reads a YAML user seed file and mirrors its profiles into the
// directory. Intended for development and test environments where no auth
// service pushes users in.
func (d *Directory) LoadSeed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parsing seed file: %w", err)
	}

	for i, u := range seed.Users {
		if u.ID == "" {
			return i, fmt.Errorf("seed user %d: id is required", i)
		}
		err := d.users.UpsertUser(ctx, &store.User{ID: u.ID, Name: u.Name, Email: u.Email})
		if err != nil {
			return i, fmt.Errorf("seeding user %q: %w", u.ID, err)
		}
	}
	return len(seed.Users), nil
}
