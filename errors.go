package accessctl

import "errors"

var (
	// ErrPolicyNotFound is returned by updates and removals that name an
	// unknown rule id.
	ErrPolicyNotFound = errors.New("accessctl: policy not found")

	// ErrPolicyExists is returned when inserting a rule whose id is taken.
	ErrPolicyExists = errors.New("accessctl: policy already exists")

	// ErrInvalidPolicy is returned when a rule fails validation.
	ErrInvalidPolicy = errors.New("accessctl: invalid policy")

	// ErrRecordNotFound is returned by ownership lookups for unknown records.
	ErrRecordNotFound = errors.New("accessctl: record not found")

	// ErrStoreUnavailable marks a backing store that cannot be reached at
	// all, as opposed to a query that merely failed.
	ErrStoreUnavailable = errors.New("accessctl: store unavailable")

	// ErrUnsupportedCondition is returned when a condition expression is not
	// one of the recognized forms.
	ErrUnsupportedCondition = errors.New("accessctl: unsupported condition expression")
)
