package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/0xmhha/dose/pkg/config"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "configuration management",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "display the effective configuration",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "format",
						Value: "yaml",
						Usage: "output format (yaml, json)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runConfigShow(env, cmd)
				},
			},
			{
				Name:  "path",
				Usage: "show configuration file search paths",
				Flags: []cli.Flag{configFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runConfigPath(env, cmd)
				},
			},
			{
				Name:  "init",
				Usage: "write a configuration file with default values",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Usage: "output path (default: ~/.config/dose/config.yaml)",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "overwrite an existing file",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runConfigInit(env, cmd)
				},
			},
		},
	}
}

// runConfigShow displays the effective configuration.
func runConfigShow(env *appEnv, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	switch cmd.String("format") {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = fmt.Fprintln(env.stdout, string(data))
		return err
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		if _, err := fmt.Fprintf(env.stdout, "# Source: %s\n\n", configSource(cmd)); err != nil {
			return err
		}
		_, err = env.stdout.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format %q: must be yaml or json", cmd.String("format"))
	}
}

// runConfigPath shows the configuration file search paths.
func runConfigPath(env *appEnv, cmd *cli.Command) error {
	paths := []string{
		os.Getenv(config.EnvConfig),
		"./dose.yaml",
		config.DefaultPath(),
	}

	if _, err := fmt.Fprintln(env.stdout, "Configuration file search paths (in order of precedence):"); err != nil {
		return err
	}

	n := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		n++
		exists := "not found"
		if _, err := os.Stat(p); err == nil {
			exists = "found"
		}
		if _, err := fmt.Fprintf(env.stdout, "  %d. %s [%s]\n", n, p, exists); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(env.stdout, "\nActive configuration: %s\n", configSource(cmd))
	return err
}

// runConfigInit writes the default configuration.
func runConfigInit(env *appEnv, cmd *cli.Command) error {
	outputPath := cmd.String("output")
	if outputPath == "" {
		outputPath = config.DefaultPath()
	}

	if _, err := os.Stat(outputPath); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", outputPath)
	}

	if err := config.Save(config.Default(), outputPath); err != nil {
		return err
	}

	_, err := fmt.Fprintf(env.stdout, "Configuration written to: %s\n", outputPath)
	return err
}

// configSource returns the path of the active configuration file.
func configSource(cmd *cli.Command) string {
	if p := config.NewLoader(cmd.String("config")).Path(); p != "" {
		return p
	}
	return "defaults (no config file found)"
}
