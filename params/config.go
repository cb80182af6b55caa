package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Engine struct {
	// FeePerMille is the platform fee taken from every settlement,
	// per-mille (50 = 5%). Admin-settable at runtime; this is the boot value.
	FeePerMille int64
	// MaxBatchSize caps items per batch acceptance. Admin-settable.
	MaxBatchSize int
	// AdminAddr is the single administrator identity (hex address). Gates
	// listing management, fee/batch configuration, and sweeps.
	AdminAddr string
	// CustodyAddr is the ledger account holding escrowed value.
	CustodyAddr string
}

type Node struct {
	APIAddr string // REST/WS listen address
	DataDir string // pebble journal location
	LogFile string // empty disables the file tee
}

type Config struct {
	Engine Engine
	Node   Node
}

func Default() Config {
	return Config{
		Engine: Engine{
			FeePerMille:  50, // 5%
			MaxBatchSize: 20,
			AdminAddr:    "0xAd0000000000000000000000000000000000000A",
			CustodyAddr:  "0xE5C0000000000000000000000000000000000000",
		},
		Node: Node{
			APIAddr: ":8080",
			DataDir: "data/escrowbook.db",
			LogFile: "data/bookd.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if fee := os.Getenv("FEE_PER_MILLE"); fee != "" {
		if v, err := strconv.ParseInt(fee, 10, 64); err == nil {
			cfg.Engine.FeePerMille = v
		}
	}
	if batch := os.Getenv("MAX_BATCH_SIZE"); batch != "" {
		if v, err := strconv.Atoi(batch); err == nil {
			cfg.Engine.MaxBatchSize = v
		}
	}
	if addr := os.Getenv("ADMIN_ADDR"); addr != "" {
		cfg.Engine.AdminAddr = addr
	}
	if addr := os.Getenv("CUSTODY_ADDR"); addr != "" {
		cfg.Engine.CustodyAddr = addr
	}
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.Node.APIAddr = addr
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if f := os.Getenv("LOG_FILE"); f != "" {
		cfg.Node.LogFile = f
	}

	return cfg
}
