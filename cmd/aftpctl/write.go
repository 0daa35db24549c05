package main

import (
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/aftp/internal/auth"
)

var (
	tokenArgs struct {
		secret   string
		clientID string
		ttl      time.Duration
	}

	mkdirCmd = &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  mkdir,
	}

	putCmd = &cobra.Command{
		Use:   "put <local-file> [remote-path]",
		Short: "Upload a local file; the remote path defaults to its base name",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  put,
	}

	rmCmd = &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove an entry and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE:  rm,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [path]",
		Short: "Print tree mutations at or below a path until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE:  watch,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a client id",
		Args:  cobra.NoArgs,
		RunE:  token,
	}
)

func init() {
	tokenCmd.Flags().StringVar(&tokenArgs.secret, "secret", os.Getenv("TOKEN_SECRET"), "Server token secret")
	tokenCmd.Flags().StringVar(&tokenArgs.clientID, "client", "", "Client id to embed as the subject")
	tokenCmd.MarkFlagRequired("client")
	tokenCmd.Flags().DurationVar(&tokenArgs.ttl, "ttl", 24*time.Hour, "Token lifetime")

	rootCmd.AddCommand(mkdirCmd, putCmd, rmCmd, watchCmd, tokenCmd)
}

func mkdir(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if _, err := newClient().Mkdir(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", args[0])
	return nil
}

func put(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	remote := filepath.Base(args[0])
	if len(args) == 2 {
		remote = args[1]
		if remote == "" || remote[len(remote)-1] == '/' {
			remote = path.Join(remote, filepath.Base(args[0]))
		}
	}

	if _, err := newClient().Put(ctx, remote, f, info.Size()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%d bytes)\n", remote, info.Size())
	return nil
}

func rm(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	removed, err := newClient().Delete(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%s)\n", args[0], removed.EntryType)
	return nil
}

func watch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	evs, errs := newClient().Events(ctx, pathArg(args))
	out := cmd.OutOrStdout()
	for ev := range evs {
		ts := time.Unix(ev.Timestamp, 0).Format(time.RFC3339)
		fmt.Fprintf(out, "%s %s %s %s\n", ts, ev.Type, ev.EntryType, ev.Path)
	}
	// errs only carries the error that ended the stream.
	return <-errs
}

func token(cmd *cobra.Command, _ []string) error {
	tok, err := auth.IssueToken(tokenArgs.secret, tokenArgs.clientID, tokenArgs.ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
