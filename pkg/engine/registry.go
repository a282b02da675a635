package engine

import (
	"sort"
	"strings"
	"sync"
	"time"

	cberrors "github.com/ha1tch/callbind/pkg/errors"
)

// Registry maintains the procedures of an engine.
type Registry struct {
	mu            sync.RWMutex
	procedures    map[string]*Procedure // key: lowercase schema.name
	defaultSchema string
}

// NewRegistry creates a registry. Unqualified names resolve in
// defaultSchema.
func NewRegistry(defaultSchema string) *Registry {
	return &Registry{
		procedures:    make(map[string]*Procedure),
		defaultSchema: strings.ToUpper(defaultSchema),
	}
}

// DefaultSchema returns the schema used for unqualified names.
func (r *Registry) DefaultSchema() string { return r.defaultSchema }

// Register adds a procedure. A procedure of the same name must not exist.
func (r *Registry) Register(proc *Procedure) error {
	return r.add(proc, false)
}

// Replace adds a procedure, replacing any of the same name
// (CREATE OR REPLACE).
func (r *Registry) Replace(proc *Procedure) error {
	return r.add(proc, true)
}

func (r *Registry) add(proc *Procedure, replace bool) error {
	if err := r.validate(proc); err != nil {
		return err
	}
	if proc.Schema == "" {
		proc.Schema = r.defaultSchema
	}
	proc.Schema = strings.ToUpper(proc.Schema)
	proc.Name = strings.ToUpper(proc.Name)
	if proc.CreatedAt.IsZero() {
		proc.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(proc.QualifiedName())
	if _, ok := r.procedures[key]; ok && !replace {
		return engineError("Registry.Register", sqlDuplicate, stateDuplicate,
			"routine %s already exists", proc.QualifiedName())
	}
	r.procedures[key] = proc
	return nil
}

func (r *Registry) validate(proc *Procedure) error {
	if proc == nil || proc.Name == "" {
		return cberrors.New(cberrors.ErrCodeConfigInvalid, "procedure has no name").
			WithOp("Registry.Register").
			Err()
	}
	if proc.Body == nil {
		return cberrors.Newf(cberrors.ErrCodeConfigInvalid, "procedure %s has no body", proc.Name).
			WithOp("Registry.Register").
			Err()
	}
	seen := make(map[string]bool, len(proc.Params))
	for i, d := range proc.Params {
		if !d.Mode.Valid() {
			return cberrors.Newf(cberrors.ErrCodeInvalidDirection, "procedure %s: parameter %d has invalid mode", proc.Name, i+1).
				WithOp("Registry.Register").
				Err()
		}
		if err := d.Type.Validate(); err != nil {
			return cberrors.Wrapf(err, cberrors.GetCode(err), "procedure %s: parameter %s", proc.Name, d.Name).
				WithOp("Registry.Register").
				Err()
		}
		if !d.Type.Sized() {
			return cberrors.Newf(cberrors.ErrCodeUnsupportedType, "procedure %s: parameter %s needs a size", proc.Name, d.Name).
				WithOp("Registry.Register").
				Err()
		}
		name := strings.ToUpper(d.Name)
		if name == "" || seen[name] {
			return engineError("Registry.Register", sqlDuplicateParam, stateDuplicateParam,
				"duplicate or empty parameter name %q in %s", d.Name, proc.Name)
		}
		seen[name] = true
	}
	return nil
}

// Drop removes a procedure.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.key(name)
	if _, ok := r.procedures[key]; !ok {
		return engineError("Registry.Drop", sqlUndefinedName, stateUndefinedName,
			"%s in %s type *N not found", name, "PROCEDURE")
	}
	delete(r.procedures, key)
	return nil
}

// Lookup finds a procedure by [schema.]name, ignoring case. Unqualified
// names resolve in the default schema.
func (r *Registry) Lookup(name string) (*Procedure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if proc, ok := r.procedures[r.key(name)]; ok {
		return proc, nil
	}
	return nil, engineError("Registry.Lookup", sqlUndefinedName, stateUndefinedName,
		"%s in *LIBL type *N not found", strings.ToUpper(name))
}

// List returns all procedures sorted by qualified name.
func (r *Registry) List() []*Procedure {
	r.mu.RLock()
	defer r.mu.RUnlock()

	procs := make([]*Procedure, 0, len(r.procedures))
	for _, proc := range r.procedures {
		procs = append(procs, proc)
	}
	sort.Slice(procs, func(i, j int) bool {
		return procs[i].QualifiedName() < procs[j].QualifiedName()
	})
	return procs
}

// Count returns the number of registered procedures.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.procedures)
}

func (r *Registry) key(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if !strings.Contains(key, ".") {
		key = strings.ToLower(r.defaultSchema) + "." + key
	}
	return key
}
