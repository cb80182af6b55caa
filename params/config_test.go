package params

import "testing"

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("FEE_PER_MILLE", "25")
	t.Setenv("MAX_BATCH_SIZE", "5")
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("ADMIN_ADDR", "0x0000000000000000000000000000000000000042")

	cfg := LoadFromEnv("")
	if cfg.Engine.FeePerMille != 25 {
		t.Errorf("FeePerMille = %d, want 25", cfg.Engine.FeePerMille)
	}
	if cfg.Engine.MaxBatchSize != 5 {
		t.Errorf("MaxBatchSize = %d, want 5", cfg.Engine.MaxBatchSize)
	}
	if cfg.Node.APIAddr != ":9090" {
		t.Errorf("APIAddr = %s, want :9090", cfg.Node.APIAddr)
	}
	if cfg.Engine.AdminAddr != "0x0000000000000000000000000000000000000042" {
		t.Errorf("AdminAddr = %s", cfg.Engine.AdminAddr)
	}
	// Untouched fields keep their defaults.
	if cfg.Engine.CustodyAddr != Default().Engine.CustodyAddr {
		t.Errorf("CustodyAddr = %s, want default", cfg.Engine.CustodyAddr)
	}
}

func TestBadEnvValuesIgnored(t *testing.T) {
	t.Setenv("FEE_PER_MILLE", "lots")
	t.Setenv("MAX_BATCH_SIZE", "")

	cfg := LoadFromEnv("")
	def := Default()
	if cfg.Engine.FeePerMille != def.Engine.FeePerMille {
		t.Errorf("FeePerMille = %d, want default %d", cfg.Engine.FeePerMille, def.Engine.FeePerMille)
	}
	if cfg.Engine.MaxBatchSize != def.Engine.MaxBatchSize {
		t.Errorf("MaxBatchSize = %d, want default %d", cfg.Engine.MaxBatchSize, def.Engine.MaxBatchSize)
	}
}
