package auth

import (
	"testing"
)

var testSecret = []byte("test-secret")

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "user-42")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	userID, err := ValidateToken(testSecret, token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("userID = %q, want user-42", userID)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(testSecret, "user-42")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := ValidateToken([]byte("other-secret"), token); err == nil {
		t.Error("expected validation to fail with a different secret")
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	if _, err := ValidateToken(testSecret, "not.a.token"); err == nil {
		t.Error("expected validation to fail for garbage input")
	}
}
