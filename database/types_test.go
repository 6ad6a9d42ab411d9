package database

import "testing"

func TestJSONBValueAndScan(t *testing.T) {
	src := JSONB{"company_id": "c1", "roles": float64(4)}
	v, err := src.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var dst JSONB
	if err := dst.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if dst.String("company_id") != "c1" || dst["roles"].(float64) != 4 {
		t.Fatalf("unexpected payload: %v", dst)
	}

	var empty JSONB
	if err := empty.Scan(nil); err != nil || empty == nil {
		t.Fatalf("expected empty map on nil scan")
	}
	if err := empty.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}

	var nilMap JSONB
	if v, _ := nilMap.Value(); v != "{}" {
		t.Fatalf("expected {} for nil map, got %v", v)
	}
}
