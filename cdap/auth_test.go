package cdap

import "testing"

func TestSealOpenAuthValueRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("shared-secret-credential")

	av, err := SealAuthValue("password", plaintext, &key)
	if err != nil {
		t.Fatalf("SealAuthValue: %v", err)
	}
	if av.Name != "password" {
		t.Fatalf("AuthValue.Name = %q, want %q", av.Name, "password")
	}

	got, err := OpenAuthValue(av, &key)
	if err != nil {
		t.Fatalf("OpenAuthValue: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("OpenAuthValue = %q, want %q", got, plaintext)
	}
}

func TestOpenAuthValueRejectsWrongKey(t *testing.T) {
	var key, wrongKey [32]byte
	for i := range key {
		key[i] = byte(i)
		wrongKey[i] = byte(i + 1)
	}
	av, err := SealAuthValue("password", []byte("secret"), &key)
	if err != nil {
		t.Fatalf("SealAuthValue: %v", err)
	}
	if _, err := OpenAuthValue(av, &wrongKey); err == nil {
		t.Fatal("OpenAuthValue with the wrong key should fail")
	}
}

func TestOpenAuthValueEmptyIsNoOp(t *testing.T) {
	var key [32]byte
	got, err := OpenAuthValue(AuthValue{Name: "none"}, &key)
	if err != nil {
		t.Fatalf("OpenAuthValue on an empty value: %v", err)
	}
	if got != nil {
		t.Fatalf("OpenAuthValue on an empty value = %v, want nil", got)
	}
}
