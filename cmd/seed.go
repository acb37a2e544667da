/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/natours/apiserver/config"
	"github.com/natours/apiserver/internal/db"
	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/internal/store"
	"github.com/spf13/cobra"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load or clear development tour data",
}

var seedImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Create the tours listed in a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var inputs []services.TourInput
		if err := json.Unmarshal(raw, &inputs); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		cfg := config.LoadConfig()
		log := newLogger(cfg)
		conn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		tours := services.NewTourService(store.NewTourRepository(conn), nil, log)
		created, err := tours.Import(cmd.Context(), inputs)
		log.WithField("created", created).Info("tours imported")
		return err
	},
}

var seedDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete every tour and its reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := newLogger(cfg)
		conn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		deleted, err := store.NewTourRepository(conn).DeleteAll(cmd.Context())
		if err != nil {
			return err
		}
		log.WithField("deleted", deleted).Info("tours deleted")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.AddCommand(seedImportCmd)
	seedCmd.AddCommand(seedDeleteCmd)
}
