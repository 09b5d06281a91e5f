package commands

import (
	"path/filepath"

	"github.com/dyluth/pacer/internal/printer"
	"github.com/dyluth/pacer/internal/scaffold"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter pacer.yml and a compose file for Redis",
	Long: `Create pacer.yml with every setting at its default and compose.yml running
a local Redis for the broker.

Existing files are left alone unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	written, err := scaffold.Initialize(dir, initForce)
	if err != nil {
		return printer.Error("Initialization failed", err.Error(), []printer.Field{
			{Key: "Directory", Value: dir},
		})
	}

	for _, path := range written {
		printer.Success("created %s\n", path)
	}

	printer.Info("\nNext steps:\n")
	printer.Step("docker compose -f %s up -d\n", filepath.Join(dir, scaffold.ComposeFile))
	printer.Step("pacer bridge --config %s\n", filepath.Join(dir, scaffold.ConfigFile))
	return nil
}
