package license

import (
	"strings"
	"testing"
)

func TestGenerateKeyFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		key, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		if !KeyPattern.MatchString(key) {
			t.Fatalf("key %q does not match %s", key, KeyPattern)
		}
	}
}

func TestGenerateKeyUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		key, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key %q after %d keys", key, i)
		}
		seen[key] = struct{}{}
	}
}

func TestGenerateKeyUsesWholeAlphabet(t *testing.T) {
	counts := make(map[rune]int)
	for i := 0; i < 500; i++ {
		key, _ := GenerateKey()
		for _, r := range strings.ReplaceAll(key, "-", "") {
			counts[r]++
		}
	}
	// 10000 draws over 36 symbols; every symbol should turn up
	for _, r := range keyAlphabet {
		if counts[r] == 0 {
			t.Errorf("symbol %q never generated", r)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	if got := NormalizeKey("  abcde-12345-fghij-67890 \n"); got != "ABCDE-12345-FGHIJ-67890" {
		t.Errorf("NormalizeKey() = %q", got)
	}
}
