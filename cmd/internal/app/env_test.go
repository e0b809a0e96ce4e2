package app

import (
	"testing"
	"time"
)

func TestEnvHelpers_Defaults(t *testing.T) {
	if got := EnvString("IMLAST_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("EnvString default: %q", got)
	}
	if got := EnvBool("IMLAST_TEST_UNSET", true); !got {
		t.Fatal("EnvBool default must hold")
	}
	if got := EnvInt("IMLAST_TEST_UNSET", 7); got != 7 {
		t.Fatalf("EnvInt default: %d", got)
	}
	if got := EnvDuration("IMLAST_TEST_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("EnvDuration default: %v", got)
	}
}

func TestEnvHelpers_Parsing(t *testing.T) {
	t.Setenv("IMLAST_TEST_BOOL", "true")
	if !EnvBool("IMLAST_TEST_BOOL", false) {
		t.Fatal("EnvBool must parse true")
	}

	t.Setenv("IMLAST_TEST_INT", "42")
	if got := EnvInt("IMLAST_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt: %d", got)
	}

	t.Setenv("IMLAST_TEST_INT_BAD", "-5")
	if got := EnvInt("IMLAST_TEST_INT_BAD", 1); got != 1 {
		t.Fatalf("EnvInt must reject non-positive: %d", got)
	}

	t.Setenv("IMLAST_TEST_ZERO", "0")
	if got := EnvIntAllowZero("IMLAST_TEST_ZERO", 9); got != 0 {
		t.Fatalf("EnvIntAllowZero must accept zero: %d", got)
	}

	t.Setenv("IMLAST_TEST_DUR", "250ms")
	if got := EnvDuration("IMLAST_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration: %v", got)
	}

	t.Setenv("IMLAST_TEST_CSV", " a, ,b ,c")
	got := EnvCSV("IMLAST_TEST_CSV", "")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("EnvCSV: %v", got)
	}
}
