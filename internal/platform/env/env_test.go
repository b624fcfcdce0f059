package env

import (
	"testing"
	"time"
)

func TestStringDefault(t *testing.T) {
	if got := String("EXRAY_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
	t.Setenv("EXRAY_TEST_SET", "value")
	if got := String("EXRAY_TEST_SET", "fallback"); got != "value" {
		t.Errorf("got %q", got)
	}
}

func TestIntParsing(t *testing.T) {
	if got, err := Int("EXRAY_TEST_UNSET", 42); err != nil || got != 42 {
		t.Errorf("got %d, %v", got, err)
	}
	t.Setenv("EXRAY_TEST_INT", "7")
	if got, err := Int("EXRAY_TEST_INT", 42); err != nil || got != 7 {
		t.Errorf("got %d, %v", got, err)
	}
	t.Setenv("EXRAY_TEST_INT", "not-a-number")
	if _, err := Int("EXRAY_TEST_INT", 42); err == nil {
		t.Error("want error for unparseable value")
	}
}

func TestBoolParsing(t *testing.T) {
	t.Setenv("EXRAY_TEST_BOOL", "true")
	if got, err := Bool("EXRAY_TEST_BOOL", false); err != nil || !got {
		t.Errorf("got %v, %v", got, err)
	}
	t.Setenv("EXRAY_TEST_BOOL", "yes")
	if _, err := Bool("EXRAY_TEST_BOOL", false); err == nil {
		t.Error("want error for non-boolean value")
	}
}

func TestDurationParsing(t *testing.T) {
	if got, err := Duration("EXRAY_TEST_UNSET", 5*time.Second); err != nil || got != 5*time.Second {
		t.Errorf("got %v, %v", got, err)
	}
	t.Setenv("EXRAY_TEST_DUR", "1m30s")
	if got, err := Duration("EXRAY_TEST_DUR", 0); err != nil || got != 90*time.Second {
		t.Errorf("got %v, %v", got, err)
	}
	t.Setenv("EXRAY_TEST_DUR", "soon")
	if _, err := Duration("EXRAY_TEST_DUR", 0); err == nil {
		t.Error("want error for unparseable value")
	}
}
