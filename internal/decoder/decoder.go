package decoder

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"eventscope/internal/contract"
	"eventscope/internal/model"
)

// Fields is the decoded payload of one log, in ABI declaration order.
type Fields struct {
	Names  []string
	Values map[string]any
}

// Len returns the number of decoded params.
func (f Fields) Len() int {
	return len(f.Names)
}

// Decoder decodes raw logs of one contract.
type Decoder struct {
	index *Index
}

// New builds a Decoder and its signature index from a parsed ABI.
func New(parsed abi.ABI) (*Decoder, error) {
	idx, err := NewIndex(parsed)
	if err != nil {
		return nil, err
	}
	return &Decoder{index: idx}, nil
}

// Index exposes the signature index.
func (d *Decoder) Index() *Index {
	return d.index
}

// Match selects the event a log was emitted as, using topic0.
func (d *Decoder) Match(row model.RawLog) (*contract.EventDescriptor, bool) {
	if row.Topic0 == "" {
		return nil, false
	}
	word, err := parseWord(row.Topic0)
	if err != nil {
		return nil, false
	}
	return d.index.ByID(word)
}

// Decode decodes one log. When eventName is empty the event is selected by
// topic0, otherwise by name.
func (d *Decoder) Decode(row model.RawLog, eventName string) (Fields, error) {
	var desc *contract.EventDescriptor
	if eventName != "" {
		var err error
		desc, err = d.index.ByName(eventName)
		if err != nil {
			return Fields{}, err
		}
	} else {
		var ok bool
		desc, ok = d.Match(row)
		if !ok {
			return Fields{}, &UnknownEventError{Topic0: row.Topic0}
		}
	}
	return DecodeEvent(desc, row)
}

// DecodeEvent decodes a log against a known event. Indexed params consume topic
// slots in declaration order starting after the signature topic; the
// non-indexed params are unpacked together from the data blob, which is read
// at most once and never when the event has no non-indexed params.
func DecodeEvent(desc *contract.EventDescriptor, row model.RawLog) (Fields, error) {
	inputs := desc.Event.Inputs
	fields := Fields{
		Names:  make([]string, 0, len(inputs)),
		Values: make(map[string]any, len(inputs)),
	}
	if len(inputs) == 0 {
		return fields, nil
	}

	topics := row.Topics()
	next := 1
	if desc.Anonymous {
		next = 0
	}

	var (
		dataValues []interface{}
		dataRead   bool
		dataPos    int
	)
	for _, input := range inputs {
		var value interface{}
		if input.Indexed {
			if next >= len(topics) || topics[next] == "" {
				return Fields{}, &MalformedLogError{
					Event: desc.Signature,
					Err:   fmt.Errorf("missing topic%d for indexed param %s", next, input.Name),
				}
			}
			word, err := parseWord(topics[next])
			if err != nil {
				return Fields{}, &MalformedLogError{Event: desc.Signature, Err: fmt.Errorf("topic%d: %w", next, err)}
			}
			next++
			value, err = decodeTopic(input.Type, word)
			if err != nil {
				return Fields{}, &MalformedLogError{Event: desc.Signature, Err: fmt.Errorf("param %s: %w", input.Name, err)}
			}
		} else {
			if !dataRead {
				var err error
				dataValues, err = unpackData(inputs.NonIndexed(), row.Data)
				if err != nil {
					return Fields{}, &MalformedLogError{Event: desc.Signature, Err: err}
				}
				dataRead = true
			}
			value = normalizeValue(input.Type, dataValues[dataPos])
			dataPos++
		}

		fields.Names = append(fields.Names, input.Name)
		fields.Values[input.Name] = value
	}

	return fields, nil
}

// decodeTopic decodes and normalizes one indexed param. Reference types are
// stored in topics as the keccak256 hash of their encoding, so only the hash
// can be recovered.
func decodeTopic(t abi.Type, word common.Hash) (interface{}, error) {
	switch t.T {
	case abi.StringTy, abi.BytesTy, abi.SliceTy, abi.ArrayTy, abi.TupleTy:
		return word.Hex(), nil
	}
	values, err := abi.Arguments{{Type: t}}.Unpack(word[:])
	if err != nil {
		return nil, err
	}
	return normalizeValue(t, values[0]), nil
}

func unpackData(args abi.Arguments, dataHex string) ([]interface{}, error) {
	data, err := decodeHex(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}
	if len(values) != len(args) {
		return nil, fmt.Errorf("unpack data: expected %d values, got %d", len(args), len(values))
	}
	return values, nil
}

func parseWord(topic string) (common.Hash, error) {
	data, err := decodeHex(topic)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid topic: %w", err)
	}
	if len(data) > common.HashLength {
		return common.Hash{}, fmt.Errorf("topic length %d", len(data))
	}
	return common.BytesToHash(data), nil
}

func decodeHex(input string) ([]byte, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return []byte{}, nil
	}
	if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
		input = "0x" + input
	}
	return hexutil.Decode(input)
}
