package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/aftp/pkg/protocol"
)

var (
	catArgs struct {
		offset int64
		length int64
	}

	lsCmd = &cobra.Command{
		Use:   "ls [path]",
		Short: "List the entries directly below a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE:  ls,
	}

	treeCmd = &cobra.Command{
		Use:   "tree [path]",
		Short: "Print a folder and everything below it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  tree,
	}

	catCmd = &cobra.Command{
		Use:   "cat <path>",
		Short: "Write the content of a file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  cat,
	}
)

func init() {
	catCmd.Flags().Int64Var(&catArgs.offset, "offset", 0, "First byte to read")
	catCmd.Flags().Int64Var(&catArgs.length, "length", 0, "Number of bytes to read, 0 for the rest of the file")

	rootCmd.AddCommand(lsCmd, treeCmd, catCmd)
}

func pathArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func ls(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	children, err := newClient().Children(ctx, pathArg(args))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, c := range children {
		if c.EntryType == protocol.EntryFolder {
			fmt.Fprintf(out, "%s/\n", c.Name)
		} else {
			fmt.Fprintln(out, c.Name)
		}
	}
	return nil
}

func tree(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	sub, err := newClient().Subtree(ctx, pathArg(args))
	if err != nil {
		return err
	}
	printSubtree(cmd.OutOrStdout(), *sub, 0)
	return nil
}

func printSubtree(w io.Writer, t protocol.Subtree, depth int) {
	name := t.Node.Name
	if t.Node.Kind == protocol.EntryFolder {
		name += "/"
	}
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
	for _, c := range t.Children {
		printSubtree(w, c, depth+1)
	}
}

func cat(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	rc, _, err := newClient().Raw(ctx, args[0], catArgs.offset, catArgs.length)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(cmd.OutOrStdout(), rc)
	return err
}
