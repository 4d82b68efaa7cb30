// Package access keeps the API users and their token hashes in a small
// json file next to the database. Tokens are only ever stored hashed.
package access

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"crawshaw.dev/jsonfile"

	"github.com/princesrivastav546-cell/pyhost/pkg/utils"
)

// AdminUser owns the daemon. It is created on first start and cannot be
// removed.
const AdminUser = "admin"

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserUnknown  = errors.New("user does not exist")
	ErrAdminRemoval = errors.New("the admin user cannot be removed")
)

type User struct {
	Name      string    `json:"name"`
	TokenHash string    `json:"token_hash"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

type registryData struct {
	Users map[string]User `json:"users"`
}

type Registry struct {
	f *jsonfile.JSONFile[registryData]
}

// Open loads the registry at path. On first start the file is created
// together with the admin user, its token is returned exactly once and
// never recoverable afterwards.
func Open(path string) (*Registry, string, error) {
	f, err := jsonfile.Load[registryData](path)
	if errors.Is(err, fs.ErrNotExist) {
		return create(path)
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading access registry: %w", err)
	}

	return &Registry{f: f}, "", nil
}

func create(path string) (*Registry, string, error) {
	f, err := jsonfile.New[registryData](path)
	if err != nil {
		return nil, "", fmt.Errorf("creating access registry: %w", err)
	}

	token, err := utils.NewToken()
	if err != nil {
		return nil, "", err
	}

	err = f.Write(func(data *registryData) error {
		data.Users = map[string]User{
			AdminUser: {
				Name:      AdminUser,
				TokenHash: hashToken(token),
				Admin:     true,
				CreatedAt: time.Now().UTC(),
			},
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	return &Registry{f: f}, token, nil
}

// AddUser registers a user and returns the generated token. The token is
// not stored, only its hash.
func (r *Registry) AddUser(name string) (string, error) {
	if name == "" {
		return "", errors.New("user name must not be empty")
	}

	token, err := utils.NewToken()
	if err != nil {
		return "", err
	}

	err = r.f.Write(func(data *registryData) error {
		if _, ok := data.Users[name]; ok {
			return fmt.Errorf("%w: %s", ErrUserExists, name)
		}
		data.Users[name] = User{
			Name:      name,
			TokenHash: hashToken(token),
			CreatedAt: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

func (r *Registry) RemoveUser(name string) error {
	if name == AdminUser {
		return ErrAdminRemoval
	}

	return r.f.Write(func(data *registryData) error {
		if _, ok := data.Users[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUserUnknown, name)
		}
		delete(data.Users, name)
		return nil
	})
}

// ResetToken replaces a user's token and returns the new one.
func (r *Registry) ResetToken(name string) (string, error) {
	token, err := utils.NewToken()
	if err != nil {
		return "", err
	}

	err = r.f.Write(func(data *registryData) error {
		user, ok := data.Users[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUserUnknown, name)
		}
		user.TokenHash = hashToken(token)
		data.Users[name] = user
		return nil
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

// Authenticate resolves a presented token to its user. The comparison
// runs over every user so timing reveals nothing about which names exist.
func (r *Registry) Authenticate(token string) (User, bool) {
	presented := []byte(hashToken(token))

	var (
		matched User
		found   bool
	)
	r.f.Read(func(data *registryData) {
		for _, user := range data.Users {
			if subtle.ConstantTimeCompare(presented, []byte(user.TokenHash)) == 1 {
				matched = user
				found = true
			}
		}
	})

	return matched, found
}

// ListUsers returns all users sorted by name, token hashes stripped.
func (r *Registry) ListUsers() []User {
	var users []User
	r.f.Read(func(data *registryData) {
		for _, user := range data.Users {
			user.TokenHash = ""
			users = append(users, user)
		}
	})

	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })

	return users
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
