package units

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"eventscope/internal/model"
)

func TestNormalizeTransferAmount(t *testing.T) {
	amount, _ := new(big.Int).SetString("1000000000000000000", 10)
	table := model.NewTable("from", "to", "amount")
	table.AppendRow(model.Row{"from": "0x2", "to": "0x3", "amount": amount})

	if err := Normalize(table, []string{"amount"}, DefaultScale); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := table.Rows[0]["amount"]; got != 1.0 {
		t.Fatalf("amount = %v (%T), want 1.0", got, got)
	}
	if table.Rows[0]["from"] != "0x2" {
		t.Fatalf("other columns should be untouched")
	}
}

func TestNormalizeCellTypes(t *testing.T) {
	cases := []struct {
		name  string
		value any
		scale int
		want  float64
	}{
		{name: "big int", value: big.NewInt(2500), scale: 3, want: 2.5},
		{name: "int64", value: int64(-1500), scale: 3, want: -1.5},
		{name: "uint64", value: uint64(7), scale: 0, want: 7},
		{name: "json number", value: json.Number("125000"), scale: 5, want: 1.25},
		{name: "decimal string", value: "3000000", scale: 6, want: 3},
		{name: "float", value: float64(50), scale: 2, want: 0.5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			table := model.NewTable("v")
			table.AppendRow(model.Row{"v": tc.value})
			if err := Normalize(table, []string{"v"}, tc.scale); err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if got := table.Rows[0]["v"]; got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNormalizeSkipsNilAndAbsent(t *testing.T) {
	table := model.NewTable("amount")
	table.AppendRow(model.Row{"amount": nil})
	table.AppendRow(model.Row{})

	if err := Normalize(table, []string{"amount", "missing"}, DefaultScale); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if table.Rows[0]["amount"] != nil {
		t.Fatalf("nil cell should stay nil")
	}
	if _, ok := table.Rows[1]["amount"]; ok {
		t.Fatalf("absent cell should not be created")
	}
	if table.HasColumn("missing") {
		t.Fatalf("absent column should not be created")
	}
}

func TestNormalizeRejectsNonNumeric(t *testing.T) {
	table := model.NewTable("amount")
	table.AppendRow(model.Row{"amount": big.NewInt(10)})
	table.AppendRow(model.Row{"amount": "0xnotanumber"})

	err := Normalize(table, []string{"amount"}, 1)
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if convErr.Row != 1 || convErr.Column != "amount" {
		t.Fatalf("unexpected error location: %+v", convErr)
	}
	if _, ok := table.Rows[0]["amount"].(*big.Int); !ok {
		t.Fatalf("table should be untouched after a failed normalize")
	}
}
