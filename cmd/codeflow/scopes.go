package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/geeth24/codeflow/internal/scope"
)

var scopesCmd = &cobra.Command{
	Use:   "scopes [flags] <file.js|->",
	Short: "Print the scope tree and the names each probe may observe",
	Args:  cobra.ExactArgs(1),
	RunE:  runScopes,
}

func init() {
	scopesCmd.Flags().String("format", "text", "output format (text|json)")
	scopesCmd.Flags().String("language", "", "guest language (default: javascript)")
}

// scopeNode is the JSON shape of one scope.
type scopeNode struct {
	ID        scope.ID     `json:"id"`
	Kind      string       `json:"kind"`
	Label     string       `json:"label,omitempty"`
	StartLine int          `json:"start_line"`
	EndLine   int          `json:"end_line"`
	Names     []string     `json:"names"`
	Visible   []string     `json:"visible"`
	Children  []*scopeNode `json:"children,omitempty"`
}

func runScopes(cmd *cobra.Command, args []string) (err error) {
	s, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer func() { s.close(err != nil) }()

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("unsupported format %q (must be text or json)", format)
	}
	prep, err := prepareProgram(cmd, s, args[0])
	if err != nil {
		return err
	}
	root := scopeTree(prep.Analysis)
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(root)
	}
	writeScopeText(cmd.OutOrStdout(), root, 0)
	return nil
}

// scopeTree links the flat scope list into a tree. Parents precede their
// children in an Analysis.
func scopeTree(an *scope.Analysis) *scopeNode {
	nodes := make([]*scopeNode, an.Len())
	for _, sc := range an.Scopes() {
		n := &scopeNode{
			ID:        sc.ID,
			Kind:      sc.Kind.String(),
			Label:     sc.Label,
			StartLine: sc.StartLine,
			EndLine:   sc.EndLine,
			Names:     append([]string{}, sc.Names...),
			Visible:   append([]string{}, an.Visible(sc.ID)...),
		}
		nodes[sc.ID] = n
		if sc.Parent != scope.NoScope {
			parent := nodes[sc.Parent]
			parent.Children = append(parent.Children, n)
		}
	}
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func writeScopeText(w io.Writer, n *scopeNode, depth int) {
	if n == nil {
		return
	}
	label := n.Kind
	if n.Label != "" {
		label += " " + n.Label
	}
	fmt.Fprintf(w, "%s#%d %s [L%d-%d]", strings.Repeat("  ", depth), n.ID, label, n.StartLine, n.EndLine)
	if len(n.Names) > 0 {
		fmt.Fprintf(w, ": %s", strings.Join(n.Names, ", "))
	}
	fmt.Fprintln(w)
	for _, c := range n.Children {
		writeScopeText(w, c, depth+1)
	}
}
