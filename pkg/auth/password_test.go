package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("segundo123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "segundo123" {
		t.Fatalf("hash must not equal plaintext")
	}
	if !CheckPassword("segundo123", hash) {
		t.Fatalf("correct password should verify")
	}
	if CheckPassword("otra-clave", hash) {
		t.Fatalf("wrong password should not verify")
	}
}

func TestCheckPasswordRejectsGarbageHash(t *testing.T) {
	if CheckPassword("x", "not-a-bcrypt-hash") {
		t.Fatalf("garbage hash should not verify")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("abcdef"); err != nil {
		t.Fatalf("6-char password should be valid: %v", err)
	}
	if err := ValidatePassword("  ab  "); err == nil {
		t.Fatalf("short password should be rejected")
	}
}
