package authz

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"libraryapi/internal/apperror"
)

// Permission is one capability token of the closed vocabulary.
type Permission uint8

const (
	CreateBooks Permission = iota + 1
	ModifyBooks
	DisableBooks
	ModifyUsers
	DisableUsers
)

var permissionCodes = map[Permission]string{
	CreateBooks:  "create_books",
	ModifyBooks:  "modify_books",
	DisableBooks: "disable_books",
	ModifyUsers:  "modify_users",
	DisableUsers: "disable_users",
}

var permissionsByCode = func() map[string]Permission {
	m := make(map[string]Permission, len(permissionCodes))
	for p, code := range permissionCodes {
		m[code] = p
	}
	return m
}()

// All lists the vocabulary in declaration order.
func All() []Permission {
	return []Permission{CreateBooks, ModifyBooks, DisableBooks, ModifyUsers, DisableUsers}
}

func (p Permission) String() string {
	if code, ok := permissionCodes[p]; ok {
		return code
	}
	return fmt.Sprintf("permission(%d)", uint8(p))
}

func (p Permission) Valid() bool {
	_, ok := permissionCodes[p]
	return ok
}

// ParsePermission converts a token to a Permission. Unknown tokens are a
// validation failure.
func ParsePermission(code string) (Permission, error) {
	p, ok := permissionsByCode[strings.TrimSpace(code)]
	if !ok {
		return 0, apperror.Validation("unknown permission %q", code)
	}
	return p, nil
}

// Set is a bitset of permissions.
type Set uint32

func NewSet(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s = s.With(p)
	}
	return s
}

// FullSet grants every permission in the vocabulary.
func FullSet() Set {
	return NewSet(All()...)
}

// ParseSet builds a Set from tokens, failing on the first unknown one.
func ParseSet(codes []string) (Set, error) {
	var s Set
	for _, code := range codes {
		if strings.TrimSpace(code) == "" {
			continue
		}
		p, err := ParsePermission(code)
		if err != nil {
			return 0, err
		}
		s = s.With(p)
	}
	return s, nil
}

func (s Set) With(p Permission) Set {
	if !p.Valid() {
		return s
	}
	return s | 1<<p
}

func (s Set) Has(p Permission) bool {
	return p.Valid() && s&(1<<p) != 0
}

func (s Set) Empty() bool {
	return s == 0
}

// Strings returns the sorted token list.
func (s Set) Strings() []string {
	out := make([]string, 0, len(permissionCodes))
	for _, p := range All() {
		if s.Has(p) {
			out = append(out, p.String())
		}
	}
	sort.Strings(out)
	return out
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	parsed, err := ParseSet(codes)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value stores the set as a comma separated token list.
func (s Set) Value() (driver.Value, error) {
	return strings.Join(s.Strings(), ","), nil
}

func (s *Set) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = 0
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into authz.Set", src)
	}
	parsed, err := ParseSet(strings.Split(raw, ","))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
