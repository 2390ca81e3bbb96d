package interceptors

import (
	"github.com/glimte/mmate-orb/contracts"
)

// IORInfo is the view IOR interceptors get of an object adapter being created
type IORInfo interface {
	// GetEffectivePolicy returns the adapter policy of the given type
	GetEffectivePolicy(policyType contracts.PolicyType) (contracts.Policy, error)
	// AddIORComponent adds a component to every profile of references the adapter creates
	AddIORComponent(component contracts.TaggedComponent) error
	AdapterID() ([]byte, error)
	ManagerID() (int, error)
	State() (contracts.AdapterState, error)
}

type iorInfoState int

const (
	iorInfoInitial iorInfoState = iota
	iorInfoEstablished
	iorInfoDone
)

var iorInfoStateNames = [...]string{"EstablishComponents", "ComponentsEstablished", "completed adapter creation"}

type iorInfo struct {
	adapter    contracts.ObjectAdapter
	state      iorInfoState
	components []contracts.TaggedComponent
}

var _ IORInfo = (*iorInfo)(nil)

func newIORInfo(adapter contracts.ObjectAdapter) *iorInfo {
	return &iorInfo{adapter: adapter}
}

func (i *iorInfo) allow(name string, states ...iorInfoState) error {
	for _, s := range states {
		if i.state == s {
			return nil
		}
	}
	return &OrderingError{Accessor: name, Point: iorInfoStateNames[i.state]}
}

// GetEffectivePolicy returns the adapter policy of the given type
func (i *iorInfo) GetEffectivePolicy(policyType contracts.PolicyType) (contracts.Policy, error) {
	if err := i.allow("GetEffectivePolicy", iorInfoInitial); err != nil {
		return nil, err
	}
	policy, ok := i.adapter.EffectivePolicy(policyType)
	if !ok {
		return nil, badPolicy(policyType)
	}
	return policy, nil
}

// AddIORComponent adds a component to the references the adapter creates
func (i *iorInfo) AddIORComponent(component contracts.TaggedComponent) error {
	if err := i.allow("AddIORComponent", iorInfoInitial); err != nil {
		return err
	}
	i.components = append(i.components, component)
	return nil
}

// AdapterID returns the id of the adapter
func (i *iorInfo) AdapterID() ([]byte, error) {
	if err := i.allow("AdapterID", iorInfoInitial, iorInfoEstablished); err != nil {
		return nil, err
	}
	return i.adapter.AdapterID(), nil
}

// ManagerID returns the id of the adapter manager
func (i *iorInfo) ManagerID() (int, error) {
	if err := i.allow("ManagerID", iorInfoInitial, iorInfoEstablished); err != nil {
		return 0, err
	}
	return i.adapter.ManagerID(), nil
}

// State returns the adapter state
func (i *iorInfo) State() (contracts.AdapterState, error) {
	if err := i.allow("State", iorInfoInitial, iorInfoEstablished); err != nil {
		return contracts.AdapterNonExistent, err
	}
	return i.adapter.State(), nil
}
