// file: main.go
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"brightsteps_backend/internals/configs"
	database "brightsteps_backend/internals/databases"
	"brightsteps_backend/internals/features/billing/payments/gateway"
	"brightsteps_backend/internals/features/billing/payments/model"
	"brightsteps_backend/internals/features/billing/payments/service"
	helper "brightsteps_backend/internals/helpers"
	"brightsteps_backend/internals/middlewares"
	"brightsteps_backend/internals/route"
)

func main() {
	configs.LoadEnv()

	database.ConnectDB()
	database.TunePool()

	gw, provider := buildGateway()

	svc := service.NewReconcileService(database.DB, gw, service.LogNotifier{}, provider, configs.BillingCurrency)

	app := fiber.New(fiber.Config{
		AppName:      "BrightSteps Billing API",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return helper.FromFiberError(c, err)
		},
	})

	middlewares.SetupMiddlewares(app)
	route.SetupRoutes(app, database.DB, gw, svc, provider)

	port := configs.GetEnv("PORT", "3000")
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Fatalf("server stopped: %v", err)
		}
	}()
	log.Printf("listening on :%s (gateway=%s)", port, provider)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// buildGateway picks the configured provider. Everything downstream only sees
// the gateway.Client interface.
func buildGateway() (gateway.Client, model.GatewayProvider) {
	switch configs.GatewayProvider {
	case "midtrans":
		return gateway.NewMidtransClient(configs.MidtransServerKey, configs.MidtransUseProd),
			model.GatewayProviderMidtrans
	default:
		return gateway.NewPaystackClient(configs.PaystackBaseURL, configs.PaystackSecretKey, configs.GatewayTimeout()),
			model.GatewayProviderPaystack
	}
}
