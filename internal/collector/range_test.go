package collector

import (
	"reflect"
	"testing"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(100, 105, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 105},
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeSingle(t *testing.T) {
	got, err := SplitRange(5, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{{From: 5, To: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := SplitRange(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestPlanRange(t *testing.T) {
	last := func(n uint64) *uint64 { return &n }

	cases := []struct {
		name   string
		last   *uint64
		from   uint64
		span   uint64
		latest uint64
		want   BlockRange
		ok     bool
	}{
		{name: "resume after stored block", last: last(100), span: 10, latest: 1000, want: BlockRange{From: 101, To: 110}, ok: true},
		{name: "resume clamped to head", last: last(100), span: 10, latest: 105, want: BlockRange{From: 101, To: 105}, ok: true},
		{name: "caught up", last: last(100), span: 10, latest: 100},
		{name: "first run from block", from: 17855654, span: 10, latest: 17855700, want: BlockRange{From: 17855654, To: 17855663}, ok: true},
		{name: "first run tail", span: 10, latest: 500, want: BlockRange{From: 491, To: 500}, ok: true},
		{name: "short chain", span: 10, latest: 3, want: BlockRange{From: 0, To: 3}, ok: true},
		{name: "from block ahead of stored", last: last(5), from: 50, span: 5, latest: 100, want: BlockRange{From: 50, To: 54}, ok: true},
		{name: "from block ahead of head", from: 200, span: 5, latest: 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PlanRange(tc.last, tc.from, tc.span, tc.latest)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("range = %+v, want %+v", got, tc.want)
			}
		})
	}
}
