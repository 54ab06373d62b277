package main

import (
	"context"
	"log"

	"gear_checkout/app"
	"gear_checkout/config"
	"gear_checkout/routes"
)

func main() {
	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	application := app.MustNew(cfg)
	defer application.Close()

	if _, err := app.BootstrapFirstAdmin(context.Background(), cfg.BootstrapEmail, application.Users, application.Sessions); err != nil {
		log.Printf("[BOOTSTRAP] %v", err)
	}

	r := application.Router
	routes.RegisterRoutes(r, application)

	log.Printf("listening on :%s (store=%s)", cfg.Port, cfg.StoreDriver)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Printf("server: %v", err)
	}
}
