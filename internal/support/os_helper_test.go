package support

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("SHRIKE_TEST_ENV", "value")
	if got := GetEnv("SHRIKE_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %s, want value", got)
	}

	if got := GetEnv("SHRIKE_TEST_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %s, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("SHRIKE_TEST_INT", "42")
	if got := GetEnvInt("SHRIKE_TEST_INT", 7); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}

	t.Setenv("SHRIKE_TEST_INT", "not-a-number")
	if got := GetEnvInt("SHRIKE_TEST_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt returned %d, want fallback for invalid value", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{
		"true":  true,
		"1":     true,
		"false": false,
		"0":     false,
	}
	for raw, want := range cases {
		t.Setenv("SHRIKE_TEST_BOOL", raw)
		if got := GetEnvBool("SHRIKE_TEST_BOOL", !want); got != want {
			t.Errorf("GetEnvBool(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("SHRIKE_TEST_DURATION", "90s")
	if got := GetEnvDuration("SHRIKE_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Fatalf("GetEnvDuration returned %v, want 90s", got)
	}

	t.Setenv("SHRIKE_TEST_DURATION", "soon")
	if got := GetEnvDuration("SHRIKE_TEST_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("GetEnvDuration returned %v, want fallback for invalid value", got)
	}
}
