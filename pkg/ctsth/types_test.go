package ctsth

import "testing"

func TestSignedTreeHead_Equal(t *testing.T) {
	a := SignedTreeHead{TreeSize: 10, Timestamp: 100, SHA256RootHash: []byte{1, 2, 3}, Signature: []byte{4, 5}}
	b := a
	if !a.Equal(b) {
		t.Fatalf("expected equal copies to be Equal")
	}

	b.TreeSize = 11
	if a.Equal(b) {
		t.Fatalf("expected different tree_size to not be Equal")
	}

	c := a
	c.SHA256RootHash = []byte{1, 2, 4}
	if a.Equal(c) {
		t.Fatalf("expected different root hash to not be Equal")
	}
}
