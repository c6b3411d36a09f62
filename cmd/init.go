package cmd

import (
	"fmt"

	"github.com/newhook/kb/internal/project"
	"github.com/spf13/cobra"
)

var flagInitName string

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a new kb project",
	Long: `Create a .kb directory holding the project configuration and the local
tracker database.

Example:
  kb init
  kb init ~/boards/sprint --name sprint`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&flagInitName, "name", "", "project name (default: directory name)")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	proj, err := project.Create(GetContext(), dir, flagInitName)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	defer proj.Close()

	fmt.Printf("Project '%s' created successfully!\n", proj.Config.Project.Name)
	fmt.Printf("  Directory: %s\n", proj.Root)
	fmt.Printf("  Backend:   %s\n", proj.Config.Tracker.GetBackend())
	fmt.Printf("\nEdit %s/%s/%s to point kb at a remote tracker.\n", proj.Root, project.ConfigDir, project.ConfigFile)
	return nil
}
