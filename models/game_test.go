package models

import "testing"

func TestGameCatalog(t *testing.T) {
	catalog, err := NewGameCatalog([]string{"Snake", "tetris", "Space Invaders", "snake"})
	if err != nil {
		t.Fatalf("NewGameCatalog: %v", err)
	}
	if got := catalog.Types(); len(got) != 3 || got[2] != "space-invaders" {
		t.Fatalf("types = %v", got)
	}
	if gt, ok := catalog.Lookup(" TETRIS "); !ok || gt != "tetris" {
		t.Fatalf("Lookup(TETRIS) = %q, %v", gt, ok)
	}
	if _, ok := catalog.Lookup("chess"); ok {
		t.Fatal("chess should not be in the catalog")
	}
	if _, err := NewGameCatalog(nil); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

func TestGameDisplayName(t *testing.T) {
	if got := GameDisplayName("space-invaders"); got != "Space Invaders" {
		t.Fatalf("display name = %q", got)
	}
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
	if err != nil {
		t.Fatalf("NormalizeAddress: %v", err)
	}
	if got != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("address = %s", got)
	}
	for _, bad := range []string{
		"abcdef0123456789abcdef0123456789abcdef01",
		"0x1234",
		"0xZZcdef0123456789abcdef0123456789abcdef01",
	} {
		if _, err := NormalizeAddress(bad); err == nil {
			t.Errorf("NormalizeAddress(%q) should fail", bad)
		}
	}
}

func TestNormalizeTxReference(t *testing.T) {
	ref := "0xAA" + "00112233445566778899aabbccddeeff" + "00112233445566778899aabbccddee"
	got, err := NormalizeTxReference(ref)
	if err != nil {
		t.Fatalf("NormalizeTxReference: %v", err)
	}
	if len(got) != 66 || got[:4] != "0xaa" {
		t.Fatalf("reference = %s", got)
	}
	if _, err := NormalizeTxReference("0x1234"); err == nil {
		t.Fatal("short reference should fail")
	}
	if _, err := NormalizeTxReference("tx-1"); err == nil {
		t.Fatal("non-hex reference should fail")
	}
}
