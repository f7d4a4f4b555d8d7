package fsys

import (
	"fmt"

	"github.com/google/uuid"

	"fatsim/pkg/dir"
)

// Lease marks a file as in use by one caller. It is advisory: Delete
// refuses while any lease for the name is held, but reads and writes
// do not check — callers bracket their own operations with
// Acquire/Release.
type Lease struct {
	Name  string
	Token string
}

// Acquire registers a lease on name. Several leases may be held for the
// same name at once; each needs its own Release. The file does not have
// to exist: a lease taken before create still guards the name.
func (fs *FS) Acquire(name string) (Lease, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return Lease{}, fmt.Errorf("fsys: acquire: %w", ErrClosed)
	}

	norm, err := dir.Normalize(name, fs.mode)
	if err != nil {
		return Lease{}, fmt.Errorf("fsys: acquire %q: %w", name, err)
	}

	token := uuid.NewString()

	if fs.leases[norm] == nil {
		fs.leases[norm] = make(map[string]struct{})
	}
	fs.leases[norm][token] = struct{}{}

	fs.log.Debug("lease acquired", "name", norm, "holders", len(fs.leases[norm]))

	return Lease{Name: norm, Token: token}, nil
}

// Release drops a lease returned by Acquire. Releasing an unknown,
// foreign or already released lease fails with [ErrLeaseNotHeld].
func (fs *FS) Release(l Lease) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return fmt.Errorf("fsys: release: %w", ErrClosed)
	}

	tokens, ok := fs.leases[l.Name]
	if !ok {
		return fmt.Errorf("fsys: release %s: %w", l.Name, ErrLeaseNotHeld)
	}

	if _, ok := tokens[l.Token]; !ok {
		return fmt.Errorf("fsys: release %s: %w", l.Name, ErrLeaseNotHeld)
	}

	delete(tokens, l.Token)
	if len(tokens) == 0 {
		delete(fs.leases, l.Name)
	}

	fs.log.Debug("lease released", "name", l.Name)

	return nil
}
