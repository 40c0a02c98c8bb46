package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Param describes one event input.
type Param struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed"`
}

// EventDescriptor is the typed view of an event ABI entry.
type EventDescriptor struct {
	Name      string      `json:"name"`
	Signature string      `json:"signature"`
	ID        common.Hash `json:"id"`
	Anonymous bool        `json:"anonymous"`
	Params    []Param     `json:"params"`

	Event abi.Event `json:"-"`
}

// Describe builds a descriptor from a parsed event. Unnamed inputs carry the
// positional names go-ethereum assigns (arg0, arg1, ...).
func Describe(ev abi.Event) EventDescriptor {
	name := ev.RawName
	if name == "" {
		name = ev.Name
	}
	params := make([]Param, 0, len(ev.Inputs))
	for _, input := range ev.Inputs {
		params = append(params, Param{
			Name:    input.Name,
			Type:    input.Type.String(),
			Indexed: input.Indexed,
		})
	}
	return EventDescriptor{
		Name:      name,
		Signature: ev.Sig,
		ID:        ev.ID,
		Anonymous: ev.Anonymous,
		Params:    params,
		Event:     ev,
	}
}

// EventDescriptors returns every event of the ABI ordered by signature.
func EventDescriptors(parsed abi.ABI) []EventDescriptor {
	out := make([]EventDescriptor, 0, len(parsed.Events))
	for _, ev := range parsed.Events {
		out = append(out, Describe(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Signature != out[j].Signature {
			return out[i].Signature < out[j].Signature
		}
		return out[i].Event.Name < out[j].Event.Name
	})
	return out
}

// ParseABI parses a JSON ABI document. The document may be the ABI array itself
// or a JSON string holding it, as returned by explorer APIs.
func ParseABI(raw json.RawMessage) (abi.ABI, error) {
	doc, err := NormalizeABI(raw)
	if err != nil {
		return abi.ABI{}, err
	}
	if IsEmptyABI(doc) {
		return abi.ABI{}, fmt.Errorf("abi is empty")
	}
	parsed, err := abi.JSON(bytes.NewReader(doc))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

// NormalizeABI unwraps a string-encoded ABI into its JSON array form.
func NormalizeABI(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return json.RawMessage(trimmed), nil
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, fmt.Errorf("decode abi string: %w", err)
	}
	inner = string(bytes.TrimSpace([]byte(inner)))
	if inner != "" && inner[0] != '[' {
		return nil, fmt.Errorf("abi string is not a json array: %.40q", inner)
	}
	return json.RawMessage(inner), nil
}

// IsEmptyABI reports whether a query carries no usable ABI.
func IsEmptyABI(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", `""`, "[]":
		return true
	}
	return false
}
