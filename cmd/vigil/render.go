package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vigilops/vigil/pkg/dockerfile"
	"github.com/vigilops/vigil/pkg/schema"
	"go.uber.org/zap"
)

var renderOutput string

// newRenderCmd defines the render subcommand, producing a Dockerfile
// equivalent of the descriptor for daemon-based builds
func newRenderCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "render",
		Short: "Render the descriptor as a Dockerfile",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runRender() },
	}
	c.Flags().StringVarP(&configPath, "c", "c", "vigil.yaml", "descriptor path, or - for stdin")
	c.Flags().StringVarP(&renderOutput, "o", "o", "", "write Dockerfile to path instead of stdout")
	return c
}

func runRender() error {
	if version {
		fmt.Fprintf(os.Stderr, "%s\n", BUILD)
		return nil
	}

	logger := newLogger()
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	config, err := schema.ParseConfig(configPath)
	if err != nil {
		return fmt.Errorf("render requires a descriptor: %w", err)
	}
	if config.Base == "" {
		return errors.New("descriptor base must be set")
	}

	out, err := dockerfile.Render(config)
	if err != nil {
		return err
	}

	if renderOutput == "" {
		fmt.Print(out)
		return nil
	}
	if err := os.WriteFile(renderOutput, []byte(out), 0644); err != nil {
		return fmt.Errorf("write %s: %w", renderOutput, err)
	}
	zap.L().Info("dockerfile written", zap.String("path", renderOutput))
	return nil
}
