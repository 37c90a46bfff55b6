package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/config"
	"github.com/arisdnt/project-kas-sub006/internal/repository"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var (
		seed     bool
		storeID  string
		tenantID string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and optionally seed the demo catalog",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			cred := cfg.Credentials()
			repo, err := repository.NewSQLRepository(cred)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.RunMigrations(cred); err != nil {
				return err
			}
			log.Printf("Migrations from %s applied to %s database", cred.MigrationsDirPath, cred.Driver)

			if !seed {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			products := demoCatalog(storeID)
			for _, p := range products {
				if err := repo.UpsertProduct(ctx, p.product, tenantID, p.quantity); err != nil {
					return fmt.Errorf("seed product %d: %w", p.product.ID, err)
				}
			}
			log.Printf("Seeded %d products for store %s", len(products), storeID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "upsert the demo catalog after migrating")
	cmd.Flags().StringVar(&storeID, "store", "store-1", "store id for seeded products")
	cmd.Flags().StringVar(&tenantID, "tenant", "tenant-1", "tenant id for seeded products")
	return cmd
}
