package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/newhook/kb/internal/bulk"
	"github.com/spf13/cobra"
)

var flagIssuesStatus string

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List tracker issues",
	Long:  `List the issues of the configured tracker with an optional status filter.`,
	RunE:  runIssues,
}

func init() {
	issuesCmd.Flags().StringVarP(&flagIssuesStatus, "status", "s", "", "filter by status")
}

func runIssues(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	proj, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer proj.Close()

	tr, err := proj.Tracker()
	if err != nil {
		return err
	}
	issues, err := tr.ListIssues(ctx, flagIssuesStatus)
	if err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}

	if len(issues) == 0 {
		if flagIssuesStatus != "" {
			fmt.Printf("No issues with status '%s'\n", flagIssuesStatus)
		} else {
			fmt.Println("No issues")
		}
		return nil
	}

	fmt.Printf("%-6s %-12s %-10s %-12s %-40s %s\n", "ID", "STATUS", "PRIORITY", "ASSIGNEE", "TITLE", "LABELS")
	fmt.Printf("%-6s %-12s %-10s %-12s %-40s %s\n", "--", "------", "--------", "--------", "-----", "------")
	for _, issue := range issues {
		fmt.Println(formatIssueRow(issue))
	}
	return nil
}

func formatIssueRow(issue bulk.IssueSelection) string {
	assignee := issue.Assignee
	if assignee == "" {
		assignee = "-"
	}
	return fmt.Sprintf("%-6d %-12s %-10s %-12s %-40s %s",
		issue.ID, issue.Status, issue.Priority,
		ansi.Truncate(assignee, 12, "…"),
		ansi.Truncate(issue.Title, 38, "..."),
		strings.Join(issue.Labels, ","))
}
