package store

import "fmt"

// Resource identifies the kind of key namespaced under an environment in
// the Redis-backed adapter.
type Resource string

const (
	ResourceBooking Resource = "bookings"
	ResourceLock    Resource = "locks"
)

// EnvKey constructs a fully qualified Redis key for an environment-scoped
// resource. Format: assign:env:{environment}:{resource}:{id}
func EnvKey(environment string, resource Resource, id string) string {
	return fmt.Sprintf("assign:env:%s:%s:%s", environment, resource, id)
}

// EnvPrefix constructs a scan-pattern prefix for an environment resource.
func EnvPrefix(environment string, resource Resource) string {
	return fmt.Sprintf("assign:env:%s:%s:", environment, resource)
}
