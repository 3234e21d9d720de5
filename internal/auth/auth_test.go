package auth

import (
	"strings"
	"testing"
)

func TestGenerateAndVerify(t *testing.T) {
	displayKey, prefix, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	if !strings.HasPrefix(displayKey, servicePrefix+"_") {
		t.Errorf("display key %q missing service prefix", displayKey)
	}
	if len(prefix) != prefixLength {
		t.Errorf("prefix length = %d, want %d", len(prefix), prefixLength)
	}

	if !VerifyAPIKey(displayKey, hash) {
		t.Error("freshly generated key failed verification")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	displayKey, prefix, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	otherHash := HashSecret("not-the-secret")

	if VerifyAPIKey(displayKey, otherHash) {
		t.Error("key verified against unrelated hash")
	}
	_ = prefix
}

func TestParseAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", servicePrefix + "_abcdef123456_secretpart", false},
		{"missing service prefix", "other_abcdef123456_secretpart", true},
		{"short prefix", servicePrefix + "_abc_secret", true},
		{"no secret separator", servicePrefix + "_abcdef123456", true},
		{"uppercase prefix", servicePrefix + "_ABCDEF123456_secret", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}
