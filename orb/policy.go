package orb

import (
	"fmt"
	"time"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/interceptors"
)

// RoundtripTimeoutPolicyType is the policy type of RoundtripTimeoutPolicy
const RoundtripTimeoutPolicyType contracts.PolicyType = 32

// RoundtripTimeoutPolicy bounds one invocation, retries included
type RoundtripTimeoutPolicy struct {
	Timeout time.Duration
}

// PolicyType implements contracts.Policy
func (RoundtripTimeoutPolicy) PolicyType() contracts.PolicyType {
	return RoundtripTimeoutPolicyType
}

// policyInitializer registers the factories of the runtime's own policies
type policyInitializer struct{}

func (policyInitializer) PreInit(info *interceptors.InitInfo) error {
	return info.RegisterPolicyFactory(RoundtripTimeoutPolicyType,
		interceptors.PolicyFactoryFunc(func(_ contracts.PolicyType, value any) (contracts.Policy, error) {
			timeout, err := durationOf(value)
			if err != nil {
				return nil, err
			}
			if timeout <= 0 {
				return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
			}
			return RoundtripTimeoutPolicy{Timeout: timeout}, nil
		}))
}

func (policyInitializer) PostInit(*interceptors.InitInfo) error {
	return nil
}

func durationOf(value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(v)
	default:
		return 0, fmt.Errorf("unsupported timeout value %T", value)
	}
}

// policySet indexes request policies by type. Later entries win.
type policySet map[contracts.PolicyType]contracts.Policy

func newPolicySet(policies []contracts.Policy) policySet {
	if len(policies) == 0 {
		return nil
	}
	set := make(policySet, len(policies))
	for _, p := range policies {
		if p != nil {
			set[p.PolicyType()] = p
		}
	}
	return set
}

func (s policySet) roundtripTimeout() (time.Duration, bool) {
	p, ok := s[RoundtripTimeoutPolicyType].(RoundtripTimeoutPolicy)
	if !ok {
		return 0, false
	}
	return p.Timeout, true
}
