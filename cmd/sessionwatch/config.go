package main

import (
	"fmt"
	"os"

	"github.com/AndreiTuhkru/sessionwatch/internal/config"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := root.configPath
			if path == "" {
				var err error
				if path, err = config.DefaultPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &exitError{code: exitUsage, err: fmt.Errorf("%s already exists, use --force to overwrite", path)}
			}
			if err := config.Write(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.load(cmd)
			if err != nil {
				return err
			}
			c.Watch.CookieValue = redact(c.Watch.CookieValue)
			c.Watch.Token = redact(c.Watch.Token)
			c.Serve.JWTSecret = redact(c.Serve.JWTSecret)

			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "REDACTED"
}
