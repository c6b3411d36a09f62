package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/newhook/kb/internal/bulk"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load issues into the local tracker",
	Long: `Load issues from a JSON or YAML file into the local tracker database.
Existing issues with the same id are replaced.

The file holds a list of issues:
  - id: 1
    title: Fix login
    status: todo
    priority: high
    labels: [auth]`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	issues, err := decodeIssues(args[0], data)
	if err != nil {
		return err
	}

	proj, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer proj.Close()

	if err := proj.DB.UpsertIssues(ctx, issues); err != nil {
		return fmt.Errorf("failed to import issues: %w", err)
	}
	fmt.Printf("Imported %d issues\n", len(issues))
	return nil
}

// decodeIssues parses an issue list, choosing the format by file extension.
func decodeIssues(name string, data []byte) ([]bulk.IssueSelection, error) {
	var issues []bulk.IssueSelection
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".json":
		if err := json.Unmarshal(data, &issues); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &issues); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported file type %q (use .json, .yaml or .yml)", ext)
	}

	seen := make(map[int]bool, len(issues))
	for i, issue := range issues {
		if issue.ID <= 0 {
			return nil, fmt.Errorf("issue %d: id must be positive", i+1)
		}
		if seen[issue.ID] {
			return nil, fmt.Errorf("issue %d: duplicate id %d", i+1, issue.ID)
		}
		seen[issue.ID] = true
	}
	return issues, nil
}
