// Package auth provides roles and object privileges for the aggregate catalog.
// Roles authenticate with bcrypt passwords; privileges are kept as ACLs keyed
// by catalog object, with PUBLIC defaults for objects that have no explicit ACL.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
)

var (
	// ErrRoleNotFound is returned when a role doesn't exist.
	ErrRoleNotFound = errors.New("role not found")
	// ErrRoleExists is returned when trying to create an existing role.
	ErrRoleExists = errors.New("role already exists")
	// ErrInvalidPassword is returned when password doesn't match.
	ErrInvalidPassword = errors.New("invalid password")
)

// Public is the pseudo-role every role is a member of.
const Public = "PUBLIC"

// AdminPasswordEnv overrides the generated bootstrap password.
const AdminPasswordEnv = "VERIDICAL_AGG_ADMIN_PASSWORD"

// Priv represents a privilege type.
type Priv string

const (
	PrivUsage   Priv = "USAGE"
	PrivCreate  Priv = "CREATE"
	PrivExecute Priv = "EXECUTE"
	PrivAll     Priv = "ALL"
)

// ParsePriv maps a privilege keyword to a Priv.
func ParsePriv(s string) (Priv, error) {
	switch Priv(s) {
	case PrivUsage, PrivCreate, PrivExecute, PrivAll:
		return Priv(s), nil
	case "ALL PRIVILEGES":
		return PrivAll, nil
	}
	return "", dberr.Syntax("unrecognized privilege type %q", s)
}

// ObjectClass is the kind of object a privilege applies to.
type ObjectClass string

const (
	ClassType      ObjectClass = "type"
	ClassNamespace ObjectClass = "schema"
	ClassFunction  ObjectClass = "function"
)

// Object identifies a privilege-bearing catalog object.
type Object struct {
	Class   ObjectClass
	ID      string // stable identifier (OID or namespace name)
	Display string // name used in error messages
}

// Key is the ACL map key of the object.
func (o Object) Key() string {
	return string(o.Class) + ":" + o.ID
}

// TypeObject refers to a data type.
func TypeObject(oid uint32, display string) Object {
	return Object{Class: ClassType, ID: fmt.Sprint(oid), Display: display}
}

// NamespaceObject refers to a namespace (schema).
func NamespaceObject(name string) Object {
	return Object{Class: ClassNamespace, ID: name, Display: name}
}

// FunctionObject refers to a function.
func FunctionObject(oid uint32, display string) Object {
	return Object{Class: ClassFunction, ID: fmt.Sprint(oid), Display: display}
}

// defaultPublic lists what PUBLIC holds on objects without an explicit ACL.
var defaultPublic = map[ObjectClass][]Priv{
	ClassType:     {PrivUsage},
	ClassFunction: {PrivExecute},
}

// publicNamespace additionally grants CREATE to PUBLIC by default.
const publicNamespace = "public"

func defaultACL(o Object) map[string][]Priv {
	acl := make(map[string][]Priv)
	if privs, ok := defaultPublic[o.Class]; ok {
		acl[Public] = append([]Priv(nil), privs...)
	}
	if o.Class == ClassNamespace && o.ID == publicNamespace {
		acl[Public] = []Priv{PrivUsage, PrivCreate}
	}
	return acl
}

// Role represents a database role.
type Role struct {
	Name         string `json:"name"`
	PasswordHash string `json:"password_hash"`
	Superuser    bool   `json:"superuser"`
}

type persisted struct {
	Roles []*Role                        `json:"roles"`
	ACLs  map[string]map[string][]Priv `json:"acls"`
}

// bcrypt cost for new password hashes.
var bcryptCost = 12

// RoleCatalog manages roles and object ACLs.
type RoleCatalog struct {
	mu       sync.RWMutex
	roles    map[string]*Role
	acls     map[string]map[string][]Priv // object key -> grantee -> privileges
	filePath string                       // empty for an in-memory catalog

	bootstrapPassword string
}

func generateRandomPassword(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewRoleCatalog opens the role catalog stored under dataDir. An empty dataDir
// yields an in-memory catalog. When no roles exist a superuser "admin" is
// created; its password comes from AdminPasswordEnv or is generated.
func NewRoleCatalog(dataDir string) (*RoleCatalog, error) {
	rc := &RoleCatalog{
		roles: make(map[string]*Role),
		acls:  make(map[string]map[string][]Priv),
	}
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		rc.filePath = filepath.Join(dataDir, "roles.json")
		if err := rc.load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load roles: %w", err)
		}
	}

	if len(rc.roles) == 0 {
		adminPw := os.Getenv(AdminPasswordEnv)
		if adminPw == "" {
			pw, err := generateRandomPassword(12)
			if err != nil {
				return nil, fmt.Errorf("generate default admin password: %w", err)
			}
			adminPw = pw
			rc.bootstrapPassword = pw
		}
		if err := rc.CreateRole("admin", adminPw, true); err != nil {
			return nil, fmt.Errorf("create default admin: %w", err)
		}
	}
	return rc, nil
}

// BootstrapPassword returns the generated admin password, or "" when none was
// generated during this open.
func (rc *RoleCatalog) BootstrapPassword() string {
	return rc.bootstrapPassword
}

func (rc *RoleCatalog) load() error {
	data, err := os.ReadFile(rc.filePath)
	if err != nil {
		return err
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	for _, r := range p.Roles {
		rc.roles[r.Name] = r
	}
	if p.ACLs != nil {
		rc.acls = p.ACLs
	}
	return nil
}

// Caller must hold rc.mu.
func (rc *RoleCatalog) save() error {
	if rc.filePath == "" {
		return nil
	}
	p := persisted{Roles: make([]*Role, 0, len(rc.roles)), ACLs: rc.acls}
	for _, r := range rc.roles {
		p.Roles = append(p.Roles, r)
	}
	sort.Slice(p.Roles, func(i, j int) bool { return p.Roles[i].Name < p.Roles[j].Name })

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(rc.filePath, data, 0600)
}

// CreateRole creates a new role.
func (rc *RoleCatalog) CreateRole(name, password string, superuser bool) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if name == Public {
		return dberr.Definition("role name %q is reserved", name)
	}
	if _, exists := rc.roles[name]; exists {
		return ErrRoleExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("generate bcrypt hash: %w", err)
	}
	rc.roles[name] = &Role{Name: name, PasswordHash: string(hash), Superuser: superuser}
	return rc.save()
}

// DropRole removes a role and every privilege granted to it.
func (rc *RoleCatalog) DropRole(name string, ifExists bool) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.roles[name]; !exists {
		if ifExists {
			return nil
		}
		return ErrRoleNotFound
	}
	delete(rc.roles, name)
	for _, acl := range rc.acls {
		delete(acl, name)
	}
	return rc.save()
}

// SetSuperuser sets or unsets superuser status.
func (rc *RoleCatalog) SetSuperuser(name string, superuser bool) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	role, exists := rc.roles[name]
	if !exists {
		return ErrRoleNotFound
	}
	role.Superuser = superuser
	return rc.save()
}

// Authenticate verifies name and password.
func (rc *RoleCatalog) Authenticate(name, password string) (*Role, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	role, exists := rc.roles[name]
	if !exists {
		return nil, ErrRoleNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(role.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}
	return role, nil
}

// GetRole returns a role by name.
func (rc *RoleCatalog) GetRole(name string) (*Role, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	role, exists := rc.roles[name]
	if !exists {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

// IsSuperuser reports whether name is an existing superuser.
func (rc *RoleCatalog) IsSuperuser(name string) bool {
	role, err := rc.GetRole(name)
	return err == nil && role.Superuser
}

// ListRoles returns all role names, sorted.
func (rc *RoleCatalog) ListRoles() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	names := make([]string, 0, len(rc.roles))
	for name := range rc.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Caller must hold rc.mu for writing.
func (rc *RoleCatalog) materialize(o Object) map[string][]Priv {
	acl, ok := rc.acls[o.Key()]
	if !ok {
		acl = defaultACL(o)
		rc.acls[o.Key()] = acl
	}
	return acl
}

// Grant grants a privilege on an object to grantee (a role or PUBLIC).
func (rc *RoleCatalog) Grant(grantee string, o Object, priv Priv) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.roles[grantee]; !exists && grantee != Public {
		return ErrRoleNotFound
	}
	acl := rc.materialize(o)
	for _, p := range acl[grantee] {
		if p == priv || p == PrivAll {
			return nil
		}
	}
	acl[grantee] = append(acl[grantee], priv)
	return rc.save()
}

// Revoke revokes a privilege on an object from grantee. Revoking ALL removes
// every privilege the grantee holds on the object.
func (rc *RoleCatalog) Revoke(grantee string, o Object, priv Priv) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.roles[grantee]; !exists && grantee != Public {
		return ErrRoleNotFound
	}
	acl := rc.materialize(o)
	kept := make([]Priv, 0, len(acl[grantee]))
	for _, p := range acl[grantee] {
		if priv == PrivAll || p == priv {
			continue
		}
		if p == PrivAll {
			// ALL minus one privilege: expand to what remains
			for _, q := range classPrivs(o.Class) {
				if q != priv {
					kept = append(kept, q)
				}
			}
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		delete(acl, grantee)
	} else {
		acl[grantee] = kept
	}
	return rc.save()
}

func classPrivs(c ObjectClass) []Priv {
	switch c {
	case ClassType:
		return []Priv{PrivUsage}
	case ClassNamespace:
		return []Priv{PrivUsage, PrivCreate}
	case ClassFunction:
		return []Priv{PrivExecute}
	}
	return nil
}

// HasPrivilege checks if role holds priv on the object, directly or via PUBLIC.
func (rc *RoleCatalog) HasPrivilege(role string, o Object, priv Priv) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	r, exists := rc.roles[role]
	if !exists {
		return false
	}
	if r.Superuser {
		return true
	}

	acl, ok := rc.acls[o.Key()]
	if !ok {
		acl = defaultACL(o)
	}
	for _, grantee := range []string{role, Public} {
		for _, p := range acl[grantee] {
			if p == priv || p == PrivAll {
				return true
			}
		}
	}
	return false
}

// CheckAccess verifies role holds priv on the object, returning a permission
// error naming the object if not.
func (rc *RoleCatalog) CheckAccess(role string, o Object, priv Priv) error {
	if !rc.HasPrivilege(role, o, priv) {
		return dberr.Permission("permission denied for %s %s", o.Class, o.Display)
	}
	return nil
}

// ACL returns a copy of the effective ACL on the object.
func (rc *RoleCatalog) ACL(o Object) map[string][]Priv {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	acl, ok := rc.acls[o.Key()]
	if !ok {
		return defaultACL(o)
	}
	out := make(map[string][]Priv, len(acl))
	for k, v := range acl {
		out[k] = append([]Priv(nil), v...)
	}
	return out
}
