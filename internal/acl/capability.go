// Package acl implements per-document access checks and principal
// resolution: the closed capability set, the direct-document /
// container-document / group-membership walk, recipient expansion, and
// secret authentication.
package acl

// Capability is one bit of the closed capability set. Grants are stored
// as a bitmask so a single ACL entry can carry more than one capability.
type Capability uint16

const (
	Read Capability = 1 << iota
	ReadItems
	AddItems
	RemoveItems
	ModifyItems
	Modify
	Delete
	CreateChild
	Administer
)

var names = [...]struct {
	cap  Capability
	name string
}{
	{Read, "read"},
	{ReadItems, "readItems"},
	{AddItems, "addItems"},
	{RemoveItems, "removeItems"},
	{ModifyItems, "modifyItems"},
	{Modify, "modify"},
	{Delete, "delete"},
	{CreateChild, "createChild"},
	{Administer, "administer"},
}

// Has reports whether mask grants every bit set in required.
func Has(mask, required Capability) bool {
	return mask&required == required
}

// ParseName maps a capability's external name to its bit, or 0 if the
// name isn't one of the closed set.
func ParseName(name string) Capability {
	for _, n := range names {
		if n.name == name {
			return n.cap
		}
	}
	return 0
}

func (c Capability) String() string {
	if c == 0 {
		return ""
	}
	s := ""
	for _, n := range names {
		if c&n.cap != 0 {
			if s != "" {
				s += ","
			}
			s += n.name
		}
	}
	return s
}
