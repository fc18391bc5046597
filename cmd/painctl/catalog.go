package main

import (
	"github.com/spf13/cobra"

	"github.com/jwalitptl/painmgmt-api/internal/catalog"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the protocol catalog",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Parse a protocol CSV and report its shape",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Catalog.Path
			}

			c, err := catalog.LoadFile(path)
			if err != nil {
				return err
			}
			cmd.Printf("%s: %d rules, lines 1-%d\n", path, c.Len(), c.MaxLine())
			return nil
		},
	}

	cmd.AddCommand(validateCmd)
	return cmd
}
