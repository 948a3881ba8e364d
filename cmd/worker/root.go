package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/mangatrans-worker/internal/config"
	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgFile string
	envFile string

	cfg     *config.Config
	logBuf  *logging.Buffer
	mainLog = logging.NewLogger(logging.CategorySystem)
)

var rootCmd = &cobra.Command{
	Use:   "mangatrans",
	Short: "Layout-preserving manga page translation",
	Long: `mangatrans finds Chinese text on manga pages, translates each text
region through a chain of providers, and typesets the translations back
into the page.

Configuration is read from mangatrans.yaml and the environment
(REDIS_URL, DATABASE_URL, OCRSPACE_API_KEY, OPENAI_API_KEY, ...).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logBuf = logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogBufferSize)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./mangatrans.yaml or ~/.mangatrans/mangatrans.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&envFile, "env-file", ".env", "dotenv file loaded before configuration",
	)

	rootCmd.AddCommand(workerCmd, serveCmd, translateCmd, submitCmd, statusCmd)
}
