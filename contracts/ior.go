package contracts

import (
	"bytes"
	"fmt"
	"strings"
)

// ComponentID identifies a tagged component inside a profile
type ComponentID uint32

// TaggedComponent is an opaque addressing annotation attached to a profile
type TaggedComponent struct {
	ID   ComponentID `json:"id"`
	Data []byte      `json:"data"`
}

// Profile describes one way of reaching an object
type Profile struct {
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	ObjectKey  []byte            `json:"objectKey"`
	Components []TaggedComponent `json:"components,omitempty"`
}

// Address returns the host:port form of the profile endpoint
func (p *Profile) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Component returns the first component with the given id
func (p *Profile) Component(id ComponentID) (TaggedComponent, bool) {
	for _, c := range p.Components {
		if c.ID == id {
			return c, true
		}
	}
	return TaggedComponent{}, false
}

// ComponentsByID returns every component with the given id
func (p *Profile) ComponentsByID(id ComponentID) []TaggedComponent {
	var result []TaggedComponent
	for _, c := range p.Components {
		if c.ID == id {
			result = append(result, c)
		}
	}
	return result
}

// IOR is an interoperable object reference: a repository id plus the profiles
// through which the object can be reached
type IOR struct {
	TypeID   string    `json:"typeId"`
	Profiles []Profile `json:"profiles"`
}

// NewIOR creates a single-profile reference
func NewIOR(typeID, host string, port int, objectKey []byte) *IOR {
	return &IOR{
		TypeID: typeID,
		Profiles: []Profile{{
			Host:      host,
			Port:      port,
			ObjectKey: append([]byte(nil), objectKey...),
		}},
	}
}

// IsNil reports whether the reference designates no object
func (r *IOR) IsNil() bool {
	return r == nil || len(r.Profiles) == 0
}

// PrimaryProfile returns the first profile of the reference
func (r *IOR) PrimaryProfile() (*Profile, bool) {
	if r.IsNil() {
		return nil, false
	}
	return &r.Profiles[0], true
}

// ObjectKey returns the object key of the primary profile
func (r *IOR) ObjectKey() []byte {
	p, ok := r.PrimaryProfile()
	if !ok {
		return nil
	}
	return p.ObjectKey
}

// Equal compares repository id and every profile endpoint and key
func (r *IOR) Equal(other *IOR) bool {
	if r.IsNil() || other.IsNil() {
		return r.IsNil() == other.IsNil()
	}
	if r.TypeID != other.TypeID || len(r.Profiles) != len(other.Profiles) {
		return false
	}
	for i := range r.Profiles {
		a, b := r.Profiles[i], other.Profiles[i]
		if a.Host != b.Host || a.Port != b.Port || !bytes.Equal(a.ObjectKey, b.ObjectKey) {
			return false
		}
	}
	return true
}

// String renders the reference for logs
func (r *IOR) String() string {
	if r.IsNil() {
		return "IOR:nil"
	}
	addrs := make([]string, 0, len(r.Profiles))
	for i := range r.Profiles {
		addrs = append(addrs, r.Profiles[i].Address())
	}
	return fmt.Sprintf("IOR:%s@%s", r.TypeID, strings.Join(addrs, ","))
}
