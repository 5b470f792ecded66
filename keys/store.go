package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
)

// KeyStore is a directory of authority seeds.
//
// Layout: <dir>/<name>/root.key and <dir>/<name>/roles/<role>.key, each a
// hex-encoded 32-byte seed with mode 0600.
type KeyStore struct {
	Directory string
}

type KeyEntry struct {
	Name     string
	Identity address.Address
	Roles    []string
}

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".certledger", "keys"), nil
}

// Open returns a KeyStore rooted at directory, or at DefaultDirectory when empty.
func Open(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootPath(name string) string {
	return filepath.Join(ks.Directory, name, "root.key")
}

func (ks *KeyStore) rolePath(name, role string) string {
	return filepath.Join(ks.Directory, name, "roles", role+".key")
}

func checkIdent(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	for _, char := range s {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", char, kind)
	}
	return nil
}

func CheckKeyName(name string) error { return checkIdent("key name", name) }

func CheckRole(role string) error { return checkIdent("role", role) }

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("expected seed length of 32 bytes, got %d", len(data))
	}
	return data, nil
}

func saveSeed(filePath string, seed []byte, overwrite bool) error {
	if len(seed) != 32 {
		return fmt.Errorf("expected seed length of 32 bytes")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

func loadSeed(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(data))
}

// InitRoot stores seed as the root key of name and returns its identity.
func (ks *KeyStore) InitRoot(name string, seed []byte, overwrite bool) (address.Address, string, error) {
	if err := CheckKeyName(name); err != nil {
		return address.Zero, "", err
	}
	id, err := IdentityFromSeed(seed)
	if err != nil {
		return address.Zero, "", err
	}
	filePath := ks.rootPath(name)
	if err := saveSeed(filePath, seed, overwrite); err != nil {
		return address.Zero, "", err
	}
	return id, filePath, nil
}

// DeriveRole derives and stores the role key of name.
func (ks *KeyStore) DeriveRole(name, role string, overwrite bool) (address.Address, string, error) {
	if err := CheckKeyName(name); err != nil {
		return address.Zero, "", err
	}
	rootSeed, err := loadSeed(ks.rootPath(name))
	if err != nil {
		return address.Zero, "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return address.Zero, "", err
	}
	filePath := ks.rolePath(name, role)
	if err := saveSeed(filePath, roleSeed, overwrite); err != nil {
		return address.Zero, "", err
	}
	id, err := IdentityFromSeed(roleSeed)
	return id, filePath, err
}

// Seed loads the root seed of name, or its role seed when role is set.
func (ks *KeyStore) Seed(name, role string) ([]byte, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	if role == "" {
		return loadSeed(ks.rootPath(name))
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	return loadSeed(ks.rolePath(name, role))
}

// Identity returns the public identity of a stored key.
func (ks *KeyStore) Identity(name, role string) (address.Address, error) {
	seed, err := ks.Seed(name, role)
	if err != nil {
		return address.Zero, err
	}
	return IdentityFromSeed(seed)
}

// Signer resolves a signing key from, in order: a hex seed, a key file, or a
// stored name and optional role.
func (ks *KeyStore) Signer(seedHex, keyFile, name, role string) (*authority.Signer, error) {
	var (
		seed []byte
		err  error
	)
	switch {
	case seedHex != "":
		seed, err = ParseSeedHex(seedHex)
	case keyFile != "":
		seed, err = loadSeed(keyFile)
	case name != "":
		seed, err = ks.Seed(name, role)
	default:
		return nil, errors.New("no signer provided")
	}
	if err != nil {
		return nil, err
	}
	return authority.NewSigner(seed)
}

// List returns stored keys sorted by name, each with its sorted roles.
func (ks *KeyStore) List() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var result []KeyEntry
	for _, name := range names {
		id, err := ks.Identity(name, "")
		if err != nil {
			continue
		}
		var roles []string
		roleEntries, rerr := os.ReadDir(filepath.Join(ks.Directory, name, "roles"))
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if !roleEntry.IsDir() && strings.HasSuffix(roleEntry.Name(), ".key") {
					roles = append(roles, strings.TrimSuffix(roleEntry.Name(), ".key"))
				}
			}
			sort.Strings(roles)
		}
		result = append(result, KeyEntry{Name: name, Identity: id, Roles: roles})
	}
	return result, nil
}
