package orchestrator

import (
	"sync"

	"github.com/rotisserie/eris"
)

// leaseRegistry enforces one active migration per POS connection.
// Vendor exports are not transactional; two migrations draining the
// same connection would race on the same data.
type leaseRegistry struct {
	mu     sync.Mutex
	leases map[string]string // connectionID -> migrationID
}

func newLeaseRegistry() *leaseRegistry {
	return &leaseRegistry{leases: make(map[string]string)}
}

// Acquire takes the lease for a connection. Re-acquiring for the same
// migration is a no-op, so resumed migrations do not deadlock on their
// own lease.
func (r *leaseRegistry) Acquire(connectionID, migrationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.leases[connectionID]; ok && holder != migrationID {
		return eris.Errorf("orchestrator: connection %s already leased to migration %s", connectionID, holder)
	}
	r.leases[connectionID] = migrationID
	return nil
}

// Release frees the lease if held by the given migration.
func (r *leaseRegistry) Release(connectionID, migrationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.leases[connectionID]; ok && holder == migrationID {
		delete(r.leases, connectionID)
	}
}
