package cli

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"blurscan/internal/config"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(root.out, "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func (r *Root) configShow() error {
	fmt.Fprintf(r.out, "# Config file: %s\n\n", config.Path())
	body, err := toml.Marshal(r.cfg)
	if err != nil {
		return fmt.Errorf("render configuration: %w", err)
	}
	_, err = r.out.Write(body)
	return err
}
