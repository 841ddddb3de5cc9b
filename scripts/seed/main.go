package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/anfrage-erp/anfrage/internal/app"
	"github.com/anfrage-erp/anfrage/internal/auth"
	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/supplier"
)

var sampleSuppliers = []supplier.Supplier{
	{
		Name:          "Müller Industriebedarf GmbH",
		ContactPerson: "Anna Müller",
		Email:         "einkauf@mueller-industrie.de",
		Phone:         "+49 89 1234567",
		Address:       "Landsberger Str. 110, 80339 München",
		Country:       "Deutschland",
	},
	{
		Name:          "Schmid Präzisionsteile AG",
		ContactPerson: "Lukas Schmid",
		Email:         "verkauf@schmid-praezision.ch",
		Phone:         "+41 44 9876543",
		Address:       "Hardturmstrasse 76, 8005 Zürich",
		Country:       "Schweiz",
	},
	{
		Name:          "Huber Logistik KG",
		ContactPerson: "Maria Huber",
		Email:         "office@huber-logistik.at",
		Phone:         "+43 1 5551234",
		Address:       "Wiedner Hauptstraße 32, 1040 Wien",
		Country:       "Österreich",
	},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	fmt.Println("→ Seeding admin user...")
	email := getenv("SEED_ADMIN_EMAIL", "admin@anfrage.local")
	password := getenv("SEED_ADMIN_PASSWORD", "anfrage-admin")
	authService := auth.NewService(auth.NewRepository(store))
	if _, err := authService.CreateUser(ctx, email, "Administrator", password); err != nil {
		if !errors.Is(err, docstore.ErrDuplicate) {
			log.Fatalf("seed admin: %v", err)
		}
		fmt.Println("  admin already present")
	}

	fmt.Println("→ Seeding suppliers...")
	suppliers := supplier.NewService(store, logger)
	existing, err := suppliers.List(ctx)
	if err != nil {
		log.Fatalf("list suppliers: %v", err)
	}
	known := make(map[string]bool, len(existing))
	for _, s := range existing {
		known[s.Email] = true
	}
	for _, s := range sampleSuppliers {
		if known[s.Email] {
			continue
		}
		if _, err := suppliers.Create(ctx, s); err != nil {
			log.Fatalf("seed supplier %s: %v", s.Name, err)
		}
	}

	fmt.Println("✓ Seed completed")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
