package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopylabs/cropclass/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cropclass",
	Short: "Land-cover classification for plantation imagery",
	Long:  "Extracts vegetation indices from satellite tiles, classifies oil palm, cacao, and forest cover with graded confidence, and exports the results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
