package structs

import hashset "github.com/hashicorp/go-set/v3"

// HostMode reflects an agent's maintenance mode.
type HostMode string

const (
	ModeNone     HostMode = "NONE"
	ModeDraining HostMode = "DRAINING"
	ModeDrained  HostMode = "DRAINED"
)

// Attribute is a named, multi-valued agent attribute. The value set may
// never be empty.
type Attribute struct {
	Name   string
	Values *hashset.Set[string]
}

// NewAttribute builds an Attribute from a name and a non-empty list of
// values.
func NewAttribute(name string, values ...string) Attribute {
	return Attribute{Name: name, Values: hashset.From(values)}
}

// HostAttributes is the per-agent maintenance-mode and attribute record
// (spec §3).
type HostAttributes struct {
	Host       string
	Mode       HostMode
	Attributes map[string]Attribute
}

// Merge combines an incoming (possibly partial) attribute record with the
// previous one: the previous mode is preserved when the incoming record
// omits it (empty HostMode), and attributes are replaced wholesale per
// name (an agent re-offering always sends its full current attribute set).
func (h HostAttributes) Merge(incoming HostAttributes) HostAttributes {
	merged := HostAttributes{
		Host:       h.Host,
		Mode:       incoming.Mode,
		Attributes: incoming.Attributes,
	}
	if merged.Host == "" {
		merged.Host = incoming.Host
	}
	if incoming.Mode == "" {
		merged.Mode = h.Mode
	}
	if merged.Attributes == nil {
		merged.Attributes = h.Attributes
	}
	return merged
}

// Get returns the named attribute and whether it is present.
func (h HostAttributes) Get(name string) (Attribute, bool) {
	a, ok := h.Attributes[name]
	return a, ok
}
