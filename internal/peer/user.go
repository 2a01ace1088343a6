package peer

import (
	"fmt"
	"strings"

	"github.com/jmpoep/aspia/internal/crypto"
)

// UserFlags is the bitset of per-user switches.
type UserFlags uint32

// UserEnabled marks an account that may authenticate. Disabled accounts take
// the same decoy path as unknown users.
const UserEnabled UserFlags = 1

// SaltSize is the salt length for newly created verifiers.
const SaltSize = 64

// SeedKeySize is the seed key length. The seed key needs at least 256 bits
// of entropy; it feeds the decoy verifier for unknown usernames.
const SeedKeySize = 64

// User is one stored account record: SRP verifier material plus the session
// types the account is allowed to open.
type User struct {
	Name     string
	Group    int // SRP group id (modulus bit size)
	Salt     []byte
	Verifier []byte
	Sessions uint32
	Flags    UserFlags
}

// IsValid reports whether the record holds usable verifier material.
func (u User) IsValid() bool {
	return u.Name != "" && len(u.Salt) > 0 && len(u.Verifier) > 0
}

// CreateUser builds a user record from a plaintext password: a fresh random
// salt and the SRP verifier v = g^x mod N over the given group.
func CreateUser(name, password string, group int, sessions uint32) (User, error) {
	if name == "" {
		return User{}, fmt.Errorf("username must not be empty")
	}
	ng, ok := crypto.GroupByBits(group)
	if !ok {
		return User{}, fmt.Errorf("unknown SRP group: %d", group)
	}

	saltBytes, err := crypto.RandomBytes(SaltSize)
	if err != nil {
		return User{}, err
	}

	salt := crypto.BigNumFromBytes(saltBytes)
	v := crypto.CalcV(name, crypto.UTF16LE(password), salt.Int(), ng.N, ng.G)

	return User{
		Name:     name,
		Group:    group,
		Salt:     salt.Bytes(),
		Verifier: v.Bytes(),
		Sessions: sessions,
		Flags:    UserEnabled,
	}, nil
}

// UserList is a read-only account lookup shared by all authenticator
// instances, plus the process-stable seed key for the decoy branch.
type UserList struct {
	users   []User
	seedKey []byte
}

// NewUserList creates a list over the given records with a fresh random seed
// key. The seed key stays constant for the lifetime of the process so that
// repeated probes for the same unknown username observe identical bytes.
func NewUserList(users []User) (*UserList, error) {
	seedKey, err := crypto.RandomBytes(SeedKeySize)
	if err != nil {
		return nil, err
	}
	return &UserList{users: users, seedKey: seedKey}, nil
}

// Find returns the record for name, matched case-insensitively. The zero
// User is returned when there is no match; callers must check IsValid.
func (ul *UserList) Find(name string) User {
	for _, u := range ul.users {
		if strings.EqualFold(u.Name, name) {
			return u
		}
	}
	return User{}
}

// SeedKey returns the process-stable decoy seed.
func (ul *UserList) SeedKey() []byte {
	return ul.seedKey
}
