package refdata

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"cosflow/internal/services"
	"cosflow/internal/store"
)

// File is the decoded seed document.
type File struct {
	Users     []User     `yaml:"users"`
	Operators []Operator `yaml:"operators"`

	// baseDir resolves relative certificate paths.
	baseDir string
}

// User is a seeded workflow participant.
type User struct {
	ID        int64  `yaml:"id"`
	Username  string `yaml:"username"`
	FirstName string `yaml:"first_name"`
	FullName  string `yaml:"full_name"`
	Role      Role   `yaml:"role"`
}

// Operator is a seeded line operator with its certificates.
type Operator struct {
	NIK          string        `yaml:"nik"`
	Name         string        `yaml:"name"`
	Line         string        `yaml:"line"`
	Certificates []Certificate `yaml:"certificates"`
}

// Certificate lists the files merged into one stored certificate, or an
// already merged base64 payload.
type Certificate struct {
	Files  []string `yaml:"files"`
	Base64 string   `yaml:"base64"`
}

// Role accepts either a numeric role id or a role name.
type Role store.Role

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Role) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: role must be a scalar", node.Line)
	}
	parsed, ok := store.ParseRole(node.Value)
	if !ok {
		return fmt.Errorf("line %d: unknown role %q", node.Line, node.Value)
	}
	*r = Role(parsed)
	return nil
}

// Parse decodes seed data. Relative certificate paths resolve against baseDir.
func Parse(data []byte, baseDir string) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, services.Wrap(services.ErrDecode, "refdata", "parse", "seed payload is empty", nil)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, services.Wrap(services.ErrDecode, "refdata", "parse", "decode seed file", err)
	}
	f.baseDir = baseDir
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and parses a seed file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("refdata: read %s: %w", path, err)
	}
	f, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("refdata: %s: %w", path, err)
	}
	return f, nil
}

func (f *File) validate() error {
	seenUsers := make(map[int64]bool, len(f.Users))
	for i, u := range f.Users {
		field := fmt.Sprintf("users[%d]", i)
		switch {
		case u.ID <= 0:
			return services.InvalidField(field+".id", "must be positive")
		case strings.TrimSpace(u.Username) == "":
			return services.InvalidField(field+".username", "is required")
		case !store.Role(u.Role).Valid():
			return services.InvalidField(field+".role", "is required")
		case seenUsers[u.ID]:
			return services.InvalidField(field+".id", fmt.Sprintf("duplicate user id %d", u.ID))
		}
		seenUsers[u.ID] = true
	}
	seenOperators := make(map[string]bool, len(f.Operators))
	for i, op := range f.Operators {
		field := fmt.Sprintf("operators[%d]", i)
		nik := strings.TrimSpace(op.NIK)
		switch {
		case nik == "":
			return services.InvalidField(field+".nik", "is required")
		case strings.TrimSpace(op.Name) == "":
			return services.InvalidField(field+".name", "is required")
		case seenOperators[nik]:
			return services.InvalidField(field+".nik", fmt.Sprintf("duplicate operator %s", nik))
		}
		seenOperators[nik] = true
		for j, c := range op.Certificates {
			hasFiles := len(c.Files) > 0
			hasPayload := strings.TrimSpace(c.Base64) != ""
			if hasFiles == hasPayload {
				return services.InvalidField(fmt.Sprintf("%s.certificates[%d]", field, j), "set exactly one of files or base64")
			}
		}
	}
	return nil
}

func (f *File) resolve(path string) string {
	if filepath.IsAbs(path) || f.baseDir == "" {
		return path
	}
	return filepath.Join(f.baseDir, path)
}
