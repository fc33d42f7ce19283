package utils

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashTokenMatches(t *testing.T) {
	tok := NewAccessToken()
	hash, err := HashToken(tok, bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if hash == tok {
		t.Fatal("токен не должен храниться как есть")
	}
	if !TokenMatches(hash, tok) {
		t.Error("свой токен должен совпасть")
	}
	if TokenMatches(hash, NewAccessToken()) {
		t.Error("чужой токен не должен совпасть")
	}
	if TokenMatches("", tok) || TokenMatches(hash, "") {
		t.Error("пустые значения никогда не совпадают")
	}
}

func TestTicketIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTicketID()
		if len(id) != 27 || seen[id] {
			t.Fatalf("id %q", id)
		}
		seen[id] = true
	}
}
