package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/func/seeder/registry"
	"github.com/spf13/cobra"
)

var kindsCommand = &cobra.Command{
	Use:   "kinds",
	Short: "List the resource kinds a seed can hold",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printKinds(os.Stdout, registry.Default())
	},
}

func init() {
	cmd.AddCommand(kindsCommand)
}

func printKinds(w io.Writer, reg *registry.Registry) {
	for _, name := range reg.Names() {
		printKind(w, reg, reg.Kind(name), name, "")
	}
}

func printKind(w io.Writer, reg *registry.Registry, k *registry.Kind, attr, indent string) {
	line := indent + attr
	if attr != k.Name {
		line += " (" + k.Name + ")"
	}
	if len(k.After) > 0 {
		line += " after " + strings.Join(k.After, ", ")
	}
	fmt.Fprintln(w, line)
	if k.Scope.From != "" {
		fmt.Fprintf(w, "%s  %s: name of the enclosing %s\n", indent, k.Scope.From, strings.TrimSuffix(k.Scope.Kind, "s"))
	}
	if k.Tags != "" {
		fmt.Fprintf(w, "%s  %s: added, never removed\n", indent, k.Tags)
	}
	if k.Members != nil {
		fmt.Fprintf(w, "%s  %s: names of %s, added, never removed\n", indent, k.Members.Attr, k.Members.Kind)
	}
	if k.AssignAs != "" {
		fmt.Fprintf(w, "%s  %s: granted as %s\n", indent, registry.AssignmentsAttr, k.AssignAs)
	}
	for _, c := range k.Children {
		printKind(w, reg, reg.Kind(c.Kind), c.Attr, indent+"  ")
	}
}
