package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/martinemde/mercury/tools"
)

func toolsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the agent can call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCatalog(cmd.OutOrStdout(), jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printCatalog(w io.Writer, asJSON bool) error {
	catalog := tools.Catalog()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(catalog)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tSIDE EFFECTS\tPARAMETERS\n")
	for _, s := range catalog {
		effects := ""
		if s.Name.HasSideEffects() {
			effects = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, effects, strings.Join(paramNames(s.Parameters), ", "))
	}
	return tw.Flush()
}

func paramNames(schema map[string]interface{}) []string {
	props, _ := schema["properties"].(map[string]interface{})
	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []string:
		for _, r := range req {
			required[r] = true
		}
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	names := make([]string, 0, len(props))
	for name := range props {
		if !required[name] {
			name += "?"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
