package internal

import (
	"strings"
	"testing"
)

func TestPasswordHashVerify(t *testing.T) {
	hash, err := hashPassword("pw123!")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("expected argon2id PHC string, got %q", hash)
	}
	ok, err := verifyPassword(hash, "pw123!")
	if err != nil {
		t.Fatalf("verifyPassword: %v", err)
	}
	if !ok {
		t.Fatal("correct password rejected")
	}
	ok, err = verifyPassword(hash, "wrong")
	if err != nil {
		t.Fatalf("verifyPassword wrong: %v", err)
	}
	if ok {
		t.Fatal("wrong password accepted")
	}
}

func TestPasswordHashSalted(t *testing.T) {
	first, err := hashPassword("same-password")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	second, err := hashPassword("same-password")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same password must differ by salt")
	}
}

func TestVerifyPasswordMalformed(t *testing.T) {
	if _, err := verifyPassword("not-a-hash", "pw"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
	if _, err := verifyPassword("$sha256$deadbeef", "pw"); err == nil {
		t.Fatal("expected error for foreign hash format")
	}
}
