package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env              string // application environment (e.g. "dev", "prod")
	Port             string // HTTP port to listen on
	DBUser           string // database username
	DBPass           string // database password (optional)
	DBHost           string // database host address
	DBPort           string // database port number
	DBName           string // database name
	JWTSecret        string // secret used to verify access tokens
	LedgerRPCURL     string // JSON-RPC endpoint of the ledger node
	PlatformWallet   string // account receiving the platform share
	WebhookTokenHash string // bcrypt hash of the payment webhook token (empty disables the webhook)
	RabbitMQURL      string // broker URL; empty disables settlement events
	ProgramDir       string // badger directory of the program store; empty keeps it in memory
	SettlementLogDir string // directory receiving settlement.log
	CORSOrigins      string // comma separated allowed origins ("*" when empty)
	DBMigrate        bool   // apply the embedded schema at startup
	ConsultationFee  int    // fee recorded in the program's payment account
	LogLevel         string // debug, info, warn or error
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:              must("APP_ENV"),
		Port:             must("APP_PORT"),
		DBUser:           must("DB_USER"),
		DBPass:           os.Getenv("DB_PASS"), // empty allowed
		DBHost:           must("DB_HOST"),
		DBPort:           must("DB_PORT"),
		DBName:           must("DB_NAME"),
		JWTSecret:        must("JWT_SECRET"),
		LedgerRPCURL:     must("LEDGER_RPC_URL"),
		PlatformWallet:   must("PLATFORM_WALLET"),
		WebhookTokenHash: os.Getenv("WEBHOOK_TOKEN_HASH"),
		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		ProgramDir:       os.Getenv("PROGRAM_DIR"),
		SettlementLogDir: getenv("SETTLEMENT_LOG_DIR", "logs"),
		CORSOrigins:      getenv("CORS_ORIGINS", "*"),
		DBMigrate:        envBool("DB_MIGRATE", false),
		ConsultationFee:  envInt("CONSULTATION_FEE", 0),
		LogLevel:         getenv("LOG_LEVEL", "info"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
