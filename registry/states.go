package registry

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// StateDeleted is implied by tombstoning and cannot be used as a named
// state.
const StateDeleted = "deleted"

var stateNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{2,63}$`)

// CreateState registers a state name. It reports whether the state was
// newly created.
func (r *Registry) CreateState(ctx context.Context, name string) (bool, error) {
	if name == StateDeleted {
		return false, fmt.Errorf("%s: %w", name, ErrReservedState)
	}
	if !stateNameRe.MatchString(name) {
		return false, fmt.Errorf("%w: %q", ErrInvalidStateName, name)
	}

	exists, err := r.Store.StateExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := r.Store.CreateState(ctx, name, time.Now().UTC()); err != nil {
		return false, err
	}
	r.Log.Infof("Created state %s", name)
	return true, nil
}

// SetState attaches a registered state to a live revision. Setting a
// state the revision already has is a no-op.
func (r *Registry) SetState(ctx context.Context, project, id, state string) error {
	if state == StateDeleted {
		return fmt.Errorf("%s: %w", state, ErrReservedState)
	}

	m, err := r.getLive(ctx, project, id)
	if err != nil {
		return err
	}

	exists, err := r.Store.StateExists(ctx, state)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: %w", state, ErrStateNotFound)
	}

	return r.Store.SetManifestState(ctx, m.ID, state, time.Now().UTC())
}

// UnsetState detaches a state from a live revision. Unsetting a state
// the revision does not have is a no-op.
func (r *Registry) UnsetState(ctx context.Context, project, id, state string) error {
	if state == StateDeleted {
		return fmt.Errorf("%s: %w", state, ErrReservedState)
	}

	m, err := r.getLive(ctx, project, id)
	if err != nil {
		return err
	}

	return r.Store.UnsetManifestState(ctx, m.ID, state)
}
