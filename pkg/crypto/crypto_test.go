package crypto

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cr3t")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cr3t" {
		t.Fatal("hash must not equal the password")
	}
	if !VerifyPassword("s3cr3t", hash) {
		t.Fatal("correct password must verify")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatal("wrong password must not verify")
	}
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(32)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateRandomString(32)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two random strings collided")
	}
}
