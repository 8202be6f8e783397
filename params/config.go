package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
	"github.com/uhyunpark/hyperpredict/pkg/keeper"
)

type Node struct {
	APIAddr        string
	DataDir        string
	LogFile        string
	LogLevel       string
	EventLog       string // JSON-lines event log; empty disables it
	AllowedOrigins []string

	// DevMode enables the faucet and the manual oracle endpoints
	DevMode bool

	ChainID int64

	// Cron expression (with seconds) for the resolution keeper; "off" disables it
	KeeperSchedule string
}

type P2P struct {
	Enabled    bool
	ListenAddr string
	Bootstrap  []string
}

type Config struct {
	Engine predict.Config
	Node   Node
	P2P    P2P

	// Receives the oracle fee of every market created on this node
	OraclePayee common.Address
}

func Default() Config {
	return Config{
		Engine: predict.DefaultConfig(),
		Node: Node{
			APIAddr:        ":8080",
			DataDir:        "data",
			LogFile:        "data/node.log",
			LogLevel:       "info",
			AllowedOrigins: []string{"*"},
			DevMode:        true,
			ChainID:        1337,
			KeeperSchedule: keeper.DefaultSchedule,
		},
		P2P: P2P{
			ListenAddr: "/ip4/0.0.0.0/tcp/4001",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.EventLog = getEnv("EVENT_LOG", cfg.Node.EventLog)
	cfg.Node.KeeperSchedule = getEnv("KEEPER_SCHEDULE", cfg.Node.KeeperSchedule)
	cfg.Node.DevMode = getBool("DEV_MODE", cfg.Node.DevMode)
	cfg.Node.ChainID = getInt("CHAIN_ID", cfg.Node.ChainID)
	if origins := getList("CORS_ORIGINS"); len(origins) > 0 {
		cfg.Node.AllowedOrigins = origins
	}

	cfg.Engine.CreationFee = getInt("CREATION_FEE", cfg.Engine.CreationFee)
	cfg.Engine.OracleFee = getInt("ORACLE_FEE", cfg.Engine.OracleFee)
	cfg.Engine.Params.TradingFeeBps = getInt("TRADING_FEE_BPS", cfg.Engine.Params.TradingFeeBps)
	cfg.Engine.Params.MinOrderSize = getInt("MIN_ORDER_SIZE", cfg.Engine.Params.MinOrderSize)
	cfg.Engine.Params.MaxMatchesPerOrder = int(getInt("MAX_MATCHES_PER_ORDER", int64(cfg.Engine.Params.MaxMatchesPerOrder)))
	if sec := getInt("RESOLUTION_GRACE_SEC", -1); sec >= 0 {
		cfg.Engine.Params.ResolutionGrace = time.Duration(sec) * time.Second
	}
	if c := getInt("MIN_ORACLE_CONFIDENCE", -1); c >= 0 && c <= 100 {
		cfg.Engine.Params.MinOracleConfidence = uint8(c)
	}
	if owner := os.Getenv("FEE_OWNER"); common.IsHexAddress(owner) {
		cfg.Engine.FeeOwner = common.HexToAddress(owner)
	}
	if payee := os.Getenv("ORACLE_PAYEE"); common.IsHexAddress(payee) {
		cfg.OraclePayee = common.HexToAddress(payee)
	}

	cfg.P2P.Enabled = getBool("P2P_ENABLED", cfg.P2P.Enabled)
	cfg.P2P.ListenAddr = getEnv("P2P_LISTEN", cfg.P2P.ListenAddr)
	cfg.P2P.Bootstrap = getList("P2P_BOOTSTRAP")

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt ignores values that do not parse
func getInt(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getList splits a comma-separated value, dropping blanks
func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

