package validation

import (
	"testing"
)

func TestValidateRunID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"config style", "ner-smoke_v1.0.0_20250314T093000Z", false},
		{"uuid", "2f1c9d5e-8a47-4b6f-9c3d-1e5a7b9d2c4f", false},
		{"single char", "a", false},
		{"digits only", "20250314", false},
		{"dots", "model.v2", false},

		// Invalid identifiers - traversal and injection attempts
		{"empty", "", true},
		{"path traversal", "../../etc/passwd", true},
		{"slash", "runs/evil", true},
		{"backslash", `runs\evil`, true},
		{"starts with dot", ".hidden", true},
		{"starts with hyphen", "-rf", true},
		{"newline", "run\nid", true},
		{"null byte", "run\x00id", true},
		{"spaces", "run id", true},
		{"too long", strings128() + "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRunID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func strings128() string {
	b := make([]byte, 128)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestValidateRunIDMaxLength(t *testing.T) {
	if err := ValidateRunID(strings128()); err != nil {
		t.Errorf("ValidateRunID at max length should pass, got %v", err)
	}
}
