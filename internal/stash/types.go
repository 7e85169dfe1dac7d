// Package stash holds the wire types returned by the public-stash-tabs feed
// and the normalized rows derived from them.
package stash

import "encoding/json"

// Page is one public-stash-tabs response body.
type Page struct {
	NextChangeID string  `json:"next_change_id"`
	Stashes      []Stash `json:"stashes"`
}

// Stash is one account's public tab.
type Stash struct {
	ID          string `json:"id"`
	Public      bool   `json:"public"`
	AccountName string `json:"accountName,omitempty"`
	StashName   string `json:"stash,omitempty"`
	StashType   string `json:"stashType"`
	League      string `json:"league,omitempty"`
	Items       []Item `json:"items"`
}

// Item is a single raw item record. Only the fields the normalizer reads
// are modeled; the upstream payload carries many more that the core does
// not project into ItemRow.
type Item struct {
	League      string       `json:"league,omitempty"`
	Name        string       `json:"name"`
	TypeLine    string       `json:"typeLine"`
	BaseType    string       `json:"baseType"`
	ILvl        int          `json:"ilvl"`
	FrameType   int          `json:"frameType"`
	Corrupted   bool         `json:"corrupted,omitempty"`
	StackSize   int          `json:"stackSize,omitempty"`
	Note        string       `json:"note,omitempty"`
	Sockets     []Socket     `json:"sockets,omitempty"`
	Properties  []Property   `json:"properties,omitempty"`
	ImplicitMods []string    `json:"implicitMods,omitempty"`
	Influences  *Influences  `json:"influences,omitempty"`
}

// Socket describes one item socket; Group ties sockets belonging to the
// same visible link chain together.
type Socket struct {
	Group int    `json:"group"`
	Attr  string `json:"attr,omitempty"`
	SColour string `json:"sColour,omitempty"`
}

// Property is a name/value entry from an item's properties list (gem
// level, quality, map tier, and similar facts are all carried this way).
type Property struct {
	Name        string  `json:"name"`
	Values      [][]Value `json:"values"`
	DisplayMode int     `json:"displayMode,omitempty"`
}

// Value is a single cell of a Property's Values matrix. The upstream feed
// emits either a string or an integer in the first slot depending on the
// property; Raw captures both without choosing a Go type up front.
type Value struct {
	Raw json.RawMessage
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (v *Value) UnmarshalJSON(data []byte) error {
	v.Raw = append(v.Raw[:0], data...)
	return nil
}

// String returns the value's textual form regardless of whether the
// underlying JSON token was a string or a number.
func (v Value) String() string {
	var s string
	if err := json.Unmarshal(v.Raw, &s); err == nil {
		return s
	}
	return string(v.Raw)
}

// Influences records which influence flags are set on a base item.
type Influences struct {
	Shaper   bool `json:"shaper,omitempty"`
	Elder    bool `json:"elder,omitempty"`
	Hunter   bool `json:"hunter,omitempty"`
	Crusader bool `json:"crusader,omitempty"`
	Redeemer bool `json:"redeemer,omitempty"`
	Warlord  bool `json:"warlord,omitempty"`
}

// Labels returns the set of influence names present, in a fixed order.
func (inf *Influences) Labels() []string {
	if inf == nil {
		return nil
	}
	var out []string
	if inf.Shaper {
		out = append(out, "shaper")
	}
	if inf.Elder {
		out = append(out, "elder")
	}
	if inf.Hunter {
		out = append(out, "hunter")
	}
	if inf.Crusader {
		out = append(out, "crusader")
	}
	if inf.Redeemer {
		out = append(out, "redeemer")
	}
	if inf.Warlord {
		out = append(out, "warlord")
	}
	return out
}
