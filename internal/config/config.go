package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Backend holds per-gateway settings. Values are fixed at load time and
// passed into adapter constructors; adapters never read the environment.
type Backend struct {
	MerchantID     string
	Key            string
	Currency       string
	Method         string // GET or POST
	Testing        bool
	TestMerchantID string
	TestKey        string

	// Transferuj restricts notification sources to known gateway IPs.
	// Empty means allow all.
	AllowedIPs []string

	// Platron asks the gateway to call back on these URLs.
	CheckURL  string
	ResultURL string

	// Merchant pages the payer lands on after the gateway finishes.
	SuccessURL string
	FailureURL string
}

// Credentials returns the merchant id and secret key, honoring test mode.
func (b Backend) Credentials() (string, string) {
	if b.Testing && b.TestMerchantID != "" {
		return b.TestMerchantID, b.TestKey
	}
	return b.MerchantID, b.Key
}

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string

	// Merchant pages the payer is forwarded to by the per-backend
	// success and failure routes.
	SuccessURL string
	FailureURL string

	Backends map[string]Backend
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     os.Getenv("DB_PORT"),
		AppPort:    os.Getenv("APP_PORT"),
		AppEnv:     os.Getenv("APP_ENV"),
		SuccessURL: os.Getenv("SUCCESS_URL"),
		FailureURL: os.Getenv("FAILURE_URL"),
		Backends:   loadBackends(),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

// loadBackends reads the settings block for every configured gateway.
// A backend is considered configured when its merchant id is set.
func loadBackends() map[string]Backend {
	backends := make(map[string]Backend)
	for _, name := range []string{"platron", "payanyway", "transferuj"} {
		prefix := strings.ToUpper(name) + "_"
		b := Backend{
			MerchantID:     os.Getenv(prefix + "MERCHANT_ID"),
			Key:            os.Getenv(prefix + "KEY"),
			Currency:       os.Getenv(prefix + "CURRENCY"),
			Method:         methodOrDefault(os.Getenv(prefix + "METHOD")),
			Testing:        os.Getenv(prefix+"TESTING") == "true",
			TestMerchantID: os.Getenv(prefix + "TEST_MERCHANT_ID"),
			TestKey:        os.Getenv(prefix + "TEST_KEY"),
			CheckURL:       os.Getenv(prefix + "CHECK_URL"),
			ResultURL:      os.Getenv(prefix + "RESULT_URL"),
			SuccessURL:     os.Getenv(prefix + "SUCCESS_URL"),
			FailureURL:     os.Getenv(prefix + "FAILURE_URL"),
		}
		if ips := os.Getenv(prefix + "ALLOWED_IPS"); ips != "" {
			b.AllowedIPs = strings.Split(ips, ",")
		}
		if b.MerchantID != "" {
			backends[name] = b
		}
	}
	return backends
}

func methodOrDefault(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method != "GET" && method != "POST" {
		return "GET"
	}
	return method
}
