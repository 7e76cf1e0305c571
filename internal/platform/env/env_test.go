package env

import (
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	got := String("LAUNCHPAD_STRING_DOES_NOT_EXIST", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestTrimmed_BlankUsesDefault(t *testing.T) {
	t.Setenv("LAUNCHPAD_TRIMMED_BLANK", "   ")
	if got := Trimmed("LAUNCHPAD_TRIMMED_BLANK", "fallback"); got != "fallback" {
		t.Fatalf("Trimmed()=%q, want fallback", got)
	}
	t.Setenv("LAUNCHPAD_TRIMMED_VALUE", "  redis://cache:6379  ")
	if got := Trimmed("LAUNCHPAD_TRIMMED_VALUE", "fallback"); got != "redis://cache:6379" {
		t.Fatalf("Trimmed()=%q, want trimmed value", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("LAUNCHPAD_STRING_KEY", "value")
	got := String("LAUNCHPAD_STRING_KEY", "fallback")
	if got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration_Default(t *testing.T) {
	got, err := Duration("LAUNCHPAD_DURATION_DOES_NOT_EXIST", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 5*time.Second {
		t.Fatalf("Duration()=%v, want 5s", got)
	}
}

func TestDuration_Override(t *testing.T) {
	t.Setenv("LAUNCHPAD_DURATION_KEY", "250ms")
	got, err := Duration("LAUNCHPAD_DURATION_KEY", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v, want 250ms", got)
	}
}

func TestDuration_Invalid(t *testing.T) {
	t.Setenv("LAUNCHPAD_DURATION_KEY_INVALID", "not-a-duration")
	_, err := Duration("LAUNCHPAD_DURATION_KEY_INVALID", 5*time.Second)
	if err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBool_Default(t *testing.T) {
	got, err := Bool("LAUNCHPAD_BOOL_DOES_NOT_EXIST", true)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if got != true {
		t.Fatalf("Bool()=%v, want true", got)
	}
}

func TestBool_Override(t *testing.T) {
	t.Setenv("LAUNCHPAD_BOOL_KEY", "false")
	got, err := Bool("LAUNCHPAD_BOOL_KEY", true)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if got != false {
		t.Fatalf("Bool()=%v, want false", got)
	}
}

func TestBool_Invalid(t *testing.T) {
	t.Setenv("LAUNCHPAD_BOOL_KEY_INVALID", "nope")
	_, err := Bool("LAUNCHPAD_BOOL_KEY_INVALID", false)
	if err == nil {
		t.Fatalf("Bool() expected error")
	}
}

func TestInt_Default(t *testing.T) {
	got, err := Int("LAUNCHPAD_INT_DOES_NOT_EXIST", 42)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 42 {
		t.Fatalf("Int()=%v, want 42", got)
	}
}

func TestInt_Override(t *testing.T) {
	t.Setenv("LAUNCHPAD_INT_KEY", "7")
	got, err := Int("LAUNCHPAD_INT_KEY", 42)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 7 {
		t.Fatalf("Int()=%v, want 7", got)
	}
}

func TestInt_Invalid(t *testing.T) {
	t.Setenv("LAUNCHPAD_INT_KEY_INVALID", "nope")
	_, err := Int("LAUNCHPAD_INT_KEY_INVALID", 42)
	if err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestFloat_Override(t *testing.T) {
	t.Setenv("LAUNCHPAD_WORKER_RATE", " 2.5 ")
	got, err := Float("LAUNCHPAD_WORKER_RATE", 10)
	if err != nil {
		t.Fatalf("Float() err=%v", err)
	}
	if got != 2.5 {
		t.Fatalf("Float()=%v, want 2.5", got)
	}
}

func TestFloat_Invalid(t *testing.T) {
	t.Setenv("LAUNCHPAD_WORKER_RATE_INVALID", "fast")
	if _, err := Float("LAUNCHPAD_WORKER_RATE_INVALID", 10); err == nil {
		t.Fatalf("Float() expected error")
	}
}
