package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRawLogJSONRoundTrip(t *testing.T) {
	original := RawLog{
		ChainID:          1,
		BlockNumber:      17855654,
		BlockHash:        "0xabc123",
		TransactionHash:  "0xdef456",
		TransactionIndex: 7,
		LogIndex:         12,
		ContractAddress:  "0x1111111111111111111111111111111111111111",
		Topic0:           "0xaaa",
		Topic1:           "0xbbb",
		Data:             "0xdeadbeef",
		Timestamp:        1700000000,
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded RawLog
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}

func TestRawLogUnmarshalTopicsArray(t *testing.T) {
	line := `{"block_number":5,"tx_hash":"0x01","address":"0x02","topics":["0xa","0xb","0xc"],"data":"0x"}`

	var row RawLog
	if err := json.Unmarshal([]byte(line), &row); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if row.Topic0 != "0xa" || row.Topic1 != "0xb" || row.Topic2 != "0xc" || row.Topic3 != "" {
		t.Fatalf("topic slots mismatch: %+v", row)
	}
	if row.TransactionHash != "0x01" || row.ContractAddress != "0x02" {
		t.Fatalf("legacy fields not mapped: %+v", row)
	}
	if got := row.Topics(); len(got) != 3 {
		t.Fatalf("expected 3 topics, got %d", len(got))
	}
}
