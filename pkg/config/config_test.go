package config

import (
	"strings"
	"testing"
)

type sample struct {
	Address string `env:"ADDRESS"`
	Nested  struct {
		Limit int `env:"LIMIT"`
	} `envPrefix:"NESTED_"`
	Untouched string `env:"UNTOUCHED"`
}

func TestParseEnv(t *testing.T) {
	t.Setenv("KATLER_ADDRESS", ":9090")
	t.Setenv("KATLER_NESTED_LIMIT", "7")

	s := sample{Address: ":8080", Untouched: "keep"}
	if err := ParseEnv(&s); err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	if s.Address != ":9090" || s.Nested.Limit != 7 {
		t.Errorf("parsed = %+v", s)
	}
	if s.Untouched != "keep" {
		t.Errorf("Untouched = %q, want keep", s.Untouched)
	}
}

func TestParseEnv_Invalid(t *testing.T) {
	t.Setenv("KATLER_NESTED_LIMIT", "many")

	var s sample
	if err := ParseEnv(&s); err == nil {
		t.Fatal("expected error for non-numeric limit")
	}
}

func TestVersionString(t *testing.T) {
	if got := VersionString("katler-server"); !strings.HasPrefix(got, "katler-server dev") {
		t.Errorf("VersionString = %q", got)
	}
	if info := GetBuildInfo(); info.GoVersion == "" || info.Version != Version {
		t.Errorf("build info = %+v", info)
	}
}
