package config

import "testing"

func TestNormalizeDepthRoundsUpToTier(t *testing.T) {
	t.Parallel()
	cases := map[int]int{
		1:    10,
		10:   10,
		11:   25,
		100:  100,
		101:  500,
		999:  1000,
		1000: 1000,
		5000: 1000,
	}
	for in, want := range cases {
		if got := NormalizeDepth(in); got != want {
			t.Errorf("NormalizeDepth(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Depth != 10 {
		t.Errorf("Depth = %d, want default 10", cfg.Depth)
	}
	if cfg.Health.PollInterval <= 0 {
		t.Error("expected a positive default poll interval")
	}
}

func TestValidateRequiresSymbols(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject an empty symbol set")
	}
	cfg.Symbols = []string{"BTC-USD"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with symbols set = %v, want nil", err)
	}
}
