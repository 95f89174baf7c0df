package synapse

import "github.com/google/uuid"

// newID mints an opaque id for memories, facts, waypoints, and jobs.
func newID() string {
	return uuid.NewString()
}
