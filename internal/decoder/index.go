package decoder

import (
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"eventscope/internal/contract"
)

// Index maps event signature hashes and names to event descriptors. It is
// built once and never mutated, so it may be shared between goroutines.
type Index struct {
	byID      map[common.Hash]*contract.EventDescriptor
	byName    map[string]*contract.EventDescriptor
	ambiguous map[string][]string
}

// NewIndex builds an Index from the event subset of an ABI. Two events with the
// same signature hash fail construction. Overloaded names stay reachable by
// hash and by their disambiguated name (Transfer0, ...), but a lookup by the
// shared name reports an AmbiguousEventNameError.
func NewIndex(parsed abi.ABI) (*Index, error) {
	descs := contract.EventDescriptors(parsed)

	idx := &Index{
		byID:      make(map[common.Hash]*contract.EventDescriptor, len(descs)),
		byName:    make(map[string]*contract.EventDescriptor, len(descs)),
		ambiguous: make(map[string][]string),
	}

	byRawName := make(map[string][]*contract.EventDescriptor)
	for i := range descs {
		desc := &descs[i]
		if !desc.Anonymous {
			if prev, ok := idx.byID[desc.ID]; ok {
				return nil, &DuplicateEventError{
					ID:         desc.ID,
					Signatures: []string{prev.Signature, desc.Signature},
				}
			}
			idx.byID[desc.ID] = desc
		}

		byRawName[desc.Name] = append(byRawName[desc.Name], desc)
		if desc.Event.Name != desc.Name {
			idx.byName[desc.Event.Name] = desc
		}
	}

	for name, group := range byRawName {
		if len(group) == 1 {
			idx.byName[name] = group[0]
			continue
		}
		sigs := make([]string, 0, len(group))
		for _, desc := range group {
			sigs = append(sigs, desc.Signature)
		}
		sort.Strings(sigs)
		idx.ambiguous[name] = sigs
	}

	return idx, nil
}

// Len returns the number of events addressable by signature hash.
func (i *Index) Len() int {
	return len(i.byID)
}

// ByID looks up an event by its signature hash.
func (i *Index) ByID(id common.Hash) (*contract.EventDescriptor, bool) {
	desc, ok := i.byID[id]
	return desc, ok
}

// ByName looks up an event by name.
func (i *Index) ByName(name string) (*contract.EventDescriptor, error) {
	if sigs, ok := i.ambiguous[name]; ok {
		return nil, &AmbiguousEventNameError{Name: name, Signatures: sigs}
	}
	desc, ok := i.byName[name]
	if !ok {
		return nil, &UnknownEventNameError{Name: name}
	}
	return desc, nil
}
