package security

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash([]byte("correct horse"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, []byte("correct horse")); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong")); err == nil {
		t.Fatal("Compare with wrong secret should fail")
	}
}

func TestHasher_CostClamped(t *testing.T) {
	if h := NewHasher(0); h.Cost != bcrypt.DefaultCost {
		t.Errorf("zero cost = %d, want default %d", h.Cost, bcrypt.DefaultCost)
	}
	if h := NewHasher(1); h.Cost != bcrypt.MinCost {
		t.Errorf("cost 1 = %d, want %d", h.Cost, bcrypt.MinCost)
	}
}

func TestHasher_CompareDummyDoesNotPanic(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	h.CompareDummy([]byte("anything"))
	var zero Hasher
	zero.CompareDummy([]byte("anything"))
}
