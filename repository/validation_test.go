package repository

import "testing"

func TestValidateOrderBy(t *testing.T) {
	tests := []struct {
		name    string
		orderBy string
		wantErr bool
	}{
		{"empty", "", false},
		{"column asc", "created_at ASC", false},
		{"column desc", "id DESC", false},
		{"bare column", "name", false},
		{"qualified", "customers.name asc", false},
		{"multiple", "name ASC, created_at DESC", false},
		{"updated_at is not UPDATE", "updated_at DESC", false},

		{"comment", "id--", true},
		{"union", "id UNION SELECT", true},
		{"stacked", "id; DROP TABLE customers", true},
		{"sleep", "id, SLEEP(5)", true},
		{"bad direction", "id RANDOM", true},
		{"too many parts", "id ASC DESC", true},
		{"special chars", "id@name", true},
		{"function", "COUNT(*)", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrderBy(tt.orderBy)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateOrderBy(%q) error = %v, wantErr %v", tt.orderBy, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSelect(t *testing.T) {
	tests := []struct {
		name    string
		selects []string
		wantErr bool
	}{
		{"empty", nil, false},
		{"columns", []string{"id", "name", "email"}, false},
		{"qualified", []string{"customers.id"}, false},
		{"alias", []string{"name AS customer_name"}, false},
		{"count", []string{"COUNT(*) AS total"}, false},
		{"sum", []string{"sum(amount)"}, false},

		{"drop", []string{"id", "name; DROP TABLE users"}, true},
		{"subquery", []string{"(SELECT 1)"}, true},
		{"comment", []string{"id--"}, true},
		{"nested function", []string{"SUM(LENGTH(name))"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSelect(tt.selects)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSelect(%v) error = %v, wantErr %v", tt.selects, err, tt.wantErr)
			}
		})
	}
}
