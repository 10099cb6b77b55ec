package configs

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

/* =======================
   ENV LOADER
======================= */

var (
	JWTSecret string

	// Gateway credentials (provider selected via PAYMENT_GATEWAY_PROVIDER)
	PaystackSecretKey string
	PaystackBaseURL   string
	MidtransServerKey string
	MidtransUseProd   bool

	GatewayProvider string // "paystack" (default) | "midtrans"
	BillingCurrency string // tenant major currency, e.g. "NGN"
)

func LoadEnv() {
	if os.Getenv("RAILWAY_ENVIRONMENT") == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found, using system ENV")
		} else {
			log.Println(".env loaded")
		}
	} else {
		log.Println("running on Railway, using system ENV")
	}

	JWTSecret = GetEnv("JWT_SECRET")

	GatewayProvider = strings.ToLower(GetEnv("PAYMENT_GATEWAY_PROVIDER", "paystack"))
	PaystackSecretKey = GetEnv("PAYSTACK_SECRET_KEY")
	PaystackBaseURL = GetEnv("PAYSTACK_BASE_URL", "https://api.paystack.co")
	MidtransServerKey = GetEnv("MIDTRANS_SERVER_KEY")
	MidtransUseProd = GetEnv("MIDTRANS_ENV", "sandbox") == "production"
	BillingCurrency = GetEnv("BILLING_CURRENCY", "NGN")

	if JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET is not set")
	}
	switch GatewayProvider {
	case "paystack":
		if PaystackSecretKey == "" {
			log.Println("WARNING: PAYSTACK_SECRET_KEY is not set")
		}
	case "midtrans":
		if MidtransServerKey == "" {
			log.Println("WARNING: MIDTRANS_SERVER_KEY is not set")
		}
	default:
		log.Printf("WARNING: unknown PAYMENT_GATEWAY_PROVIDER %q, falling back to paystack", GatewayProvider)
		GatewayProvider = "paystack"
	}
}

func GetEnv(key string, defaultValue ...string) string {
	value, exists := os.LookupEnv(key)
	if !exists && len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return value
}

// GatewayTimeout bounds every outbound gateway call. Reconcile treats a
// timeout as a failed attempt, never as a hang.
func GatewayTimeout() time.Duration {
	if raw := GetEnv("GATEWAY_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return 15 * time.Second
}
