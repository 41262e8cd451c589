package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	engine_v1 "github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-backtest/internal/version"
	"github.com/rxtech-lab/argo-backtest/internal/walkforward"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	schemaFileName            = "backtest-engine-v1-config.json"
	sampleConfigFileName      = "backtest-engine-v1-config.yaml"
	walkForwardSchemaFileName = "walkforward-config.json"
)

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the configuration JSON schema, or write it with a sample configuration",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "walkforward",
				Usage: "Print the walk-forward sweep schema instead",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write both schemas and a sample configuration into `DIR` instead of printing",
			},
		},
		Action: schemaAction,
	}
}

func schemaAction(_ context.Context, cmd *cli.Command) error {
	config := engine_v1.EmptyConfig()

	schemaJSON, err := config.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	walkForwardJSON, err := walkforward.ConfigSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate walk-forward schema: %w", err)
	}

	dir := cmd.String("output")
	if dir == "" {
		if cmd.Bool("walkforward") {
			schemaJSON = walkForwardJSON
		}

		fmt.Fprintln(cmd.Root().Writer, schemaJSON)

		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, schemaFileName), []byte(schemaJSON), 0644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, walkForwardSchemaFileName), []byte(walkForwardJSON), 0644); err != nil {
		return fmt.Errorf("failed to write walk-forward schema: %w", err)
	}

	// an existing sample config may have been edited
	samplePath := filepath.Join(dir, sampleConfigFileName)
	if _, err := os.Stat(samplePath); os.IsNotExist(err) {
		if !version.IsDevelopment(version.GetVersion()) {
			config.EngineVersion = version.GetVersion()
		}

		sample, err := yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal sample config: %w", err)
		}

		sample = append([]byte("# yaml-language-server: $schema="+schemaFileName+"\n"), sample...)

		if err := os.WriteFile(samplePath, sample, 0644); err != nil {
			return fmt.Errorf("failed to write sample config: %w", err)
		}
	}

	fmt.Fprintf(cmd.Root().Writer, "Schema written to %s\n", dir)

	return nil
}
