package datastore

import "fmt"

// Datastore target names for <lock>/<unlock>/<get-config>/<copy-config>,
// shared by both backends so lock rows/keys are keyed consistently. Named
// LockTarget* (rather than plain Target*) since pkg/netconf and
// cmd/netconfctl both reference these names.
const (
	LockTargetRunning   = "running"
	LockTargetCandidate = "candidate"
	LockTargetStartup   = "startup"
)

// ValidateLockTarget rejects any target name outside the three NETCONF
// datastores this engine exposes.
func ValidateLockTarget(target string) error {
	switch target {
	case LockTargetRunning, LockTargetCandidate, LockTargetStartup:
		return nil
	default:
		return NewError(ErrCodeValidation, fmt.Sprintf("unsupported lock target: %q", target), nil)
	}
}
