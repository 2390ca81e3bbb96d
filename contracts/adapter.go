package contracts

// PolicyType identifies a policy kind
type PolicyType uint32

// Policy is a runtime-configurable behaviour attached to adapters and requests
type Policy interface {
	PolicyType() PolicyType
}

// AdapterState is the state of an object adapter or its manager
type AdapterState int

const (
	AdapterHolding AdapterState = iota
	AdapterActive
	AdapterDiscarding
	AdapterInactive
	AdapterNonExistent
)

func (s AdapterState) String() string {
	switch s {
	case AdapterHolding:
		return "holding"
	case AdapterActive:
		return "active"
	case AdapterDiscarding:
		return "discarding"
	case AdapterInactive:
		return "inactive"
	case AdapterNonExistent:
		return "non-existent"
	default:
		return "unknown"
	}
}

// ObjectAdapter is the server-side collaborator that owns servants
type ObjectAdapter interface {
	AdapterID() []byte
	AdapterName() []string
	ServerID() string
	ORBID() string
	ManagerID() int
	State() AdapterState
	// EffectivePolicy returns the adapter policy of the given type
	EffectivePolicy(policyType PolicyType) (Policy, bool)
}

// Servant implements the operations of a target object
type Servant interface {
	// RepositoryIDs lists the interfaces the servant supports, most derived first
	RepositoryIDs() []string
}
