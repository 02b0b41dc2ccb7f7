package accessctl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carevault/accessctl/logger"
)

// RoleResolver caches role memberships in memory so subject matching never
// blocks on the identity store. The cache is rebuilt wholesale on Refresh and
// swapped in atomically; readers always see a complete snapshot.
type RoleResolver struct {
	store   RoleMembershipStore
	timeout atomic.Int64 // nanoseconds; retunable at runtime while refreshes run
	log     logger.Logger

	refreshMu sync.Mutex
	snap      atomic.Pointer[roleSnapshot]
}

type roleSnapshot struct {
	// role name -> set of principal ids
	members map[string]map[string]struct{}
	loaded  time.Time
}

func NewRoleResolver(store RoleMembershipStore, timeout time.Duration, log logger.Logger) *RoleResolver {
	if log == nil {
		log = logger.Nop{}
	}
	r := &RoleResolver{store: store, log: log}
	r.timeout.Store(int64(timeout))
	r.snap.Store(&roleSnapshot{members: map[string]map[string]struct{}{}})
	return r
}

func (r *RoleResolver) setTimeout(d time.Duration) {
	r.timeout.Store(int64(d))
}

// HasRole reports whether the principal holds the role in the current
// snapshot. It never blocks on I/O.
func (r *RoleResolver) HasRole(principalID, role string) bool {
	if principalID == "" || role == "" {
		return false
	}
	set, ok := r.snap.Load().members[role]
	if !ok {
		return false
	}
	_, ok = set[principalID]
	return ok
}

// Refresh bulk-loads memberships and swaps in a fresh snapshot. On failure
// the previous snapshot stays in place and the error is returned for the
// caller to log or surface.
func (r *RoleResolver) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if r.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.timeout.Load()))
	defer cancel()

	memberships, err := r.store.ListMemberships(ctx)
	if err != nil {
		return err
	}
	members := make(map[string]map[string]struct{})
	for _, m := range memberships {
		set, ok := members[m.Role]
		if !ok {
			set = make(map[string]struct{})
			members[m.Role] = set
		}
		set[m.SubjectID] = struct{}{}
	}
	r.snap.Store(&roleSnapshot{members: members, loaded: time.Now()})
	r.log.Debug("role cache refreshed", "roles", len(members), "memberships", len(memberships))
	return nil
}

// LastLoaded returns when the current snapshot was built; zero if Refresh
// has never succeeded.
func (r *RoleResolver) LastLoaded() time.Time {
	return r.snap.Load().loaded
}
