// Package commands implements the comic-extractor CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/comic-extractor/cmd/comic-extractor/ui"
	"github.com/spherical/comic-extractor/internal/config"
	"github.com/spherical/comic-extractor/internal/observability"
	"github.com/spherical/comic-extractor/pkg/comiccore"
)

const version = "0.1.0"

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:     "comic-extractor",
	Short:   "Comic container ingestion and page object extraction",
	Version: version,
	Long: `comic-extractor reads CBZ, CBR, CB7 and PDF comics, identifies them by
content, decodes pages within a memory budget, detects panels and speech
balloons, and recognises balloon text.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitUI(noColor, verbose)

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			loaded.Observability.LogLevel = "debug"
		}
		cfg = loaded
		logger = observability.NewLogger(observability.LogConfig{
			Level:  cfg.Observability.LogLevel,
			Format: cfg.Observability.LogFormat,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openCore builds a Core from the loaded configuration.
func openCore(ctx context.Context) (*comiccore.Core, error) {
	core, err := comiccore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open core: %w", err)
	}
	return core, nil
}

// loadInterpreter loads the detection model behind a spinner.
func loadInterpreter(core *comiccore.Core, model string) (*comiccore.Interpreter, error) {
	var interp *comiccore.Interpreter
	err := ui.WithSpinner("Loading detection model", func() error {
		var err error
		interp, err = core.InitInterpreterFromAsset(model)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load detection model: %w", err)
	}
	return interp, nil
}
