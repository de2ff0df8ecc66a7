package version

import "testing"

func TestString(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "v1.2.3"
	if got := String(); got != "darkpatent version v1.2.3" {
		t.Fatalf("String()=%q", got)
	}
}

func TestStringDefaultsToDev(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "   "
	if got := String(); got != "darkpatent version dev" {
		t.Fatalf("String()=%q", got)
	}
}
