package models

import "strings"

// Capability is a single reason an actor may override section rules.
type Capability uint8

const (
	CapabilityGlobalAdmin Capability = 1 << iota
	CapabilitySectionOwner
	CapabilityDepartmentPeer
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapabilityGlobalAdmin, "GLOBAL_ADMIN"},
	{CapabilitySectionOwner, "SECTION_OWNER"},
	{CapabilityDepartmentPeer, "DEPARTMENT_PEER"},
}

// Authority is the capability set an actor holds for one section.
type Authority uint8

// Has reports whether the set contains c.
func (a Authority) Has(c Capability) bool {
	return uint8(a)&uint8(c) != 0
}

// With returns a copy of the set including c.
func (a Authority) With(c Capability) Authority {
	return Authority(uint8(a) | uint8(c))
}

// CanOverride reports whether any capability is held.
func (a Authority) CanOverride() bool {
	return a != 0
}

// String renders the set, e.g. "SECTION_OWNER|DEPARTMENT_PEER".
func (a Authority) String() string {
	if a == 0 {
		return "NONE"
	}
	var names []string
	for _, c := range capabilityNames {
		if a.Has(c.cap) {
			names = append(names, c.name)
		}
	}
	return strings.Join(names, "|")
}
