package directory

import "context"

// Kind distinguishes users from groups.
type Kind string

const (
	KindUser  Kind = "User"
	KindGroup Kind = "Group"
)

// Object is a read-only reference to a user or group in the directory.
type Object struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

func User(id string) Object  { return Object{ID: id, Kind: KindUser} }
func Group(id string) Object { return Object{ID: id, Kind: KindGroup} }

// Outcome classifies the result of a single membership mutation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeAlreadyInDesiredState
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeAlreadyInDesiredState:
		return "already_in_desired_state"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// MemberOutcome is the per-member result of AddMembers/RemoveMembers.
// Err is set for OutcomeTransient and may carry a *RateLimitedError.
type MemberOutcome struct {
	Member  Object
	Outcome Outcome
	Err     error
}

// Client is the subset of the directory API the sync engine needs.
//
// AddMembers and RemoveMembers report one outcome per requested member. A
// non-nil error means the call as a whole failed and no member outcome is
// trustworthy; callers treat every member as transient in that case.
type Client interface {
	GetChildren(ctx context.Context, groupID string) ([]Object, error)
	AddMembers(ctx context.Context, groupID string, members []Object) ([]MemberOutcome, error)
	RemoveMembers(ctx context.Context, groupID string, members []Object) ([]MemberOutcome, error)
}
