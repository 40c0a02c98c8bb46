package decoder

import (
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// normalizeValue converts a go-ethereum decoded value into its output form
// following the ABI type: checksummed addresses, 0x-hex for bytes and
// bytesN, arbitrary precision integers, slices for arrays (uint8[] included)
// and maps keyed by component name for tuples.
func normalizeValue(t abi.Type, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		if _, ok := value.(*big.Int); !ok {
			return normalizeValue(t, rv.Elem().Interface())
		}
	}

	switch t.T {
	case abi.AddressTy:
		if addr, ok := value.(common.Address); ok {
			return addr.Hex()
		}
	case abi.BytesTy, abi.FixedBytesTy, abi.HashTy, abi.FunctionTy:
		if buf, ok := byteValue(rv); ok {
			return hexutil.Encode(buf)
		}
	case abi.IntTy, abi.UintTy:
		if n, ok := bigIntValue(value); ok {
			return n
		}
	case abi.SliceTy, abi.ArrayTy:
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			break
		}
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = normalizeValue(*t.Elem, rv.Index(i).Interface())
		}
		return out
	case abi.TupleTy:
		if rv.Kind() != reflect.Struct || rv.NumField() != len(t.TupleElems) {
			break
		}
		out := make(map[string]interface{}, len(t.TupleElems))
		for i, elem := range t.TupleElems {
			out[componentName(t, i, rv)] = normalizeValue(*elem, rv.Field(i).Interface())
		}
		return out
	}
	return value
}

// componentName prefers the component name declared in the ABI.
func componentName(t abi.Type, i int, rv reflect.Value) string {
	if i < len(t.TupleRawNames) && t.TupleRawNames[i] != "" {
		return t.TupleRawNames[i]
	}
	return rv.Type().Field(i).Name
}

func byteValue(rv reflect.Value) ([]byte, bool) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() != reflect.Uint8 {
			return nil, false
		}
		buf := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(buf), rv)
		return buf, true
	}
	return nil, false
}

func bigIntValue(value interface{}) (*big.Int, bool) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), true
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case int8:
		return big.NewInt(int64(v)), true
	case int16:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	}
	return nil, false
}
