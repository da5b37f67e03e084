package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace/extensions"
)

// inspectReport is the --json output of inspect.
type inspectReport struct {
	ID         string       `json:"id"`
	Blocks     int          `json:"blocks"`
	Comments   int          `json:"comments"`
	Roots      []rootReport `json:"roots"`
	Procedures []string     `json:"procedures"`
	Unresolved []string     `json:"unresolved"`
}

type rootReport struct {
	ID     string `json:"id"`
	Opcode string `json:"opcode"`
}

func newInspectCmd() *cobra.Command {
	var (
		asJSON bool
		strict bool
	)

	c := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Parse a workspace document and list its scripts",
		Long: `Parse a workspace document and print its top-level scripts, the
procedures it defines and any opcodes no built-in extension handles.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := inspectFile(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encoding report: %w", err)
				}
			} else {
				printReport(cmd, report)
			}

			if strict && len(report.Unresolved) > 0 {
				return fmt.Errorf("%d unresolved opcodes: %s",
					len(report.Unresolved), strings.Join(report.Unresolved, ", "))
			}
			return nil
		},
	}

	c.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	c.Flags().BoolVar(&strict, "strict", false, "fail when an opcode has no handler")
	return c
}

// inspectFile parses path and checks every statement and reporter against
// the built-in extensions.
func inspectFile(path string) (*inspectReport, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tab, err := workspace.Parse(id, id, content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	handlers := workspace.NewHandlers()
	if err := extensions.RegisterAll(handlers, extensions.Deps{}); err != nil {
		return nil, fmt.Errorf("registering block extensions: %w", err)
	}

	report := &inspectReport{
		ID:         id,
		Blocks:     tab.BlockCount(),
		Comments:   tab.CommentCount(),
		Roots:      []rootReport{},
		Procedures: []string{},
		Unresolved: []string{},
	}
	for _, root := range tab.Roots() {
		report.Roots = append(report.Roots, rootReport{ID: root.ID, Opcode: root.FullOpcode()})
		if !root.IsProcedureDefinition() {
			continue
		}
		if proto := root.InputBlock("custom_block"); proto != nil && proto.ProcedureCode != "" {
			report.Procedures = append(report.Procedures, proto.ProcedureCode)
		}
	}
	sort.Strings(report.Procedures)

	seen := make(map[string]bool)
	for _, b := range tab.Blocks() {
		if b.Shadow || seen[b.FullOpcode()] {
			continue
		}
		if _, err := handlers.Lookup(b.ExtensionID, b.Opcode); err != nil {
			seen[b.FullOpcode()] = true
			report.Unresolved = append(report.Unresolved, b.FullOpcode())
		}
	}
	sort.Strings(report.Unresolved)

	return report, nil
}

func printReport(cmd *cobra.Command, r *inspectReport) {
	out := cmd.OutOrStdout()
	printf(out, "workspace %s: %d blocks, %d comments\n", r.ID, r.Blocks, r.Comments)

	printf(out, "\nscripts (%d):\n", len(r.Roots))
	for _, root := range r.Roots {
		printf(out, "  %-24s %s\n", root.ID, root.Opcode)
	}

	if len(r.Procedures) > 0 {
		printf(out, "\nprocedures (%d):\n", len(r.Procedures))
		for _, code := range r.Procedures {
			printf(out, "  %s\n", code)
		}
	}

	if len(r.Unresolved) > 0 {
		printf(out, "\nunresolved opcodes (%d):\n", len(r.Unresolved))
		for _, op := range r.Unresolved {
			printf(out, "  %s\n", op)
		}
	}
}
