package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rebroad/make-mem/internal/scaffold"
)

var (
	initForce  bool
	initDryRun bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a default make-mem.yaml in the current directory",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing make-mem.yaml")
	initCmd.Flags().BoolVar(&initDryRun, "dry-run", false, "print the generated config instead of writing it")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := scaffold.Default()

	if initDryRun {
		content, err := scaffold.Render(cfg)
		if err != nil {
			return err
		}
		fmt.Print(content)
		return nil
	}

	path, err := scaffold.Write(cfg, ".", initForce)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
