package directory

// Package directory implements the fixed catalog of identities that may log in.
// Entries come from a YAML seed file or the built-in demo set; mock passwords are
// bcrypt-hashed at load and never kept in plain text.

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
)

// DemoPassword is the mock credential of every built-in demo identity.
const DemoPassword = "password"

var (
	// ErrDuplicateEntry is returned when two entries share an id or an email.
	ErrDuplicateEntry = errors.New("duplicate directory entry")
	// ErrInvalidEntry is returned for entries missing required fields.
	ErrInvalidEntry = errors.New("invalid directory entry")
)

// Entry is one seed record. Exactly one of Password and PasswordHash should be set.
type Entry struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	Avatar       string `yaml:"avatar,omitempty"`
	Password     string `yaml:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// SeedFile is the YAML document layout.
type SeedFile struct {
	Users []Entry `yaml:"users"`
}

// Options configures hashing.
type Options struct {
	// HashCost is the bcrypt cost used for plain seed passwords. Zero means bcrypt.DefaultCost.
	HashCost int
}

// Directory is immutable after construction and safe for concurrent use.
type Directory struct {
	byID      map[string]domainauth.Identity
	byEmail   map[string]string
	hashes    map[string][]byte
	ordered   []domainauth.Identity
	dummyHash []byte
}

// DemoEntries returns the built-in demo identities.
func DemoEntries() []Entry {
	return []Entry{
		{ID: "user-1", Email: "admin@example.com", Name: "Admin User", Role: string(domainauth.RoleAdmin), Password: DemoPassword},
		{ID: "user-2", Email: "manager@example.com", Name: "Manager User", Role: string(domainauth.RoleManager), Password: DemoPassword},
		{ID: "user-3", Email: "user@example.com", Name: "Regular User", Role: string(domainauth.RoleUser), Password: DemoPassword},
	}
}

// NewDemo builds a Directory from DemoEntries.
func NewDemo(opts Options) (*Directory, error) {
	return New(DemoEntries(), opts)
}

// Load reads a YAML seed file.
func Load(path string, opts Options) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory seed: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse directory seed %s: %w", path, err)
	}
	return New(seed.Users, opts)
}

// New validates entries and builds a Directory.
func New(entries []Entry, opts Options) (*Directory, error) {
	cost := opts.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("rolefusion-dummy-credential"), cost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy credential: %w", err)
	}

	d := &Directory{
		byID:      make(map[string]domainauth.Identity, len(entries)),
		byEmail:   make(map[string]string, len(entries)),
		hashes:    make(map[string][]byte, len(entries)),
		dummyHash: dummy,
	}
	for i, e := range entries {
		id, hash, err := buildIdentity(e, cost)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		emailKey := normalizeEmail(id.Email)
		if _, dup := d.byID[id.ID]; dup {
			return nil, fmt.Errorf("%w: id %q", ErrDuplicateEntry, id.ID)
		}
		if _, dup := d.byEmail[emailKey]; dup {
			return nil, fmt.Errorf("%w: email %q", ErrDuplicateEntry, id.Email)
		}
		d.byID[id.ID] = id
		d.byEmail[emailKey] = id.ID
		d.hashes[id.ID] = hash
		d.ordered = append(d.ordered, id)
	}
	sort.Slice(d.ordered, func(i, j int) bool { return d.ordered[i].ID < d.ordered[j].ID })
	return d, nil
}

func buildIdentity(e Entry, cost int) (domainauth.Identity, []byte, error) {
	id := strings.TrimSpace(e.ID)
	email := strings.TrimSpace(e.Email)
	if id == "" || email == "" {
		return domainauth.Identity{}, nil, fmt.Errorf("%w: id and email are required", ErrInvalidEntry)
	}
	role, err := domainauth.ParseRole(e.Role)
	if err != nil {
		return domainauth.Identity{}, nil, fmt.Errorf("%s: %w", id, err)
	}

	var hash []byte
	switch {
	case e.PasswordHash != "":
		if _, costErr := bcrypt.Cost([]byte(e.PasswordHash)); costErr != nil {
			return domainauth.Identity{}, nil, fmt.Errorf("%w: %s: password_hash: %w", ErrInvalidEntry, id, costErr)
		}
		hash = []byte(e.PasswordHash)
	case e.Password != "":
		hash, err = bcrypt.GenerateFromPassword([]byte(e.Password), cost)
		if err != nil {
			return domainauth.Identity{}, nil, fmt.Errorf("hash password for %s: %w", id, err)
		}
	default:
		return domainauth.Identity{}, nil, fmt.Errorf("%w: %s: password or password_hash is required", ErrInvalidEntry, id)
	}

	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = email
	}
	return domainauth.Identity{
		ID:     id,
		Email:  email,
		Name:   name,
		Role:   role,
		Avatar: e.Avatar,
	}, hash, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindByEmail matches case-insensitively after trimming.
func (d *Directory) FindByEmail(email string) (domainauth.Identity, bool) {
	id, ok := d.byEmail[normalizeEmail(email)]
	if !ok {
		return domainauth.Identity{}, false
	}
	return d.byID[id], true
}

// FindByID returns the identity with the exact id.
func (d *Directory) FindByID(id string) (domainauth.Identity, bool) {
	ident, ok := d.byID[id]
	return ident, ok
}

// ListAll returns every identity ordered by id.
func (d *Directory) ListAll() []domainauth.Identity {
	out := make([]domainauth.Identity, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// VerifyPassword compares password against the stored hash of id. Unknown
// identities are compared against a dummy hash so both paths cost the same.
func (d *Directory) VerifyPassword(id domainauth.Identity, password string) bool {
	hash, ok := d.hashes[id.ID]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(d.dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
