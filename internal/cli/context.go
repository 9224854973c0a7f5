package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUseCmd(rt *runtime) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "use [conversation]",
		Short: "Select the current user and conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := rt.userID
			if len(args) == 0 && user == "" {
				return Exitf(ExitCodeValidation, "nothing to select: pass a conversation or --user")
			}
			ctx, err := rt.contexts.Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "load context: %v", err)
			}
			if user != "" {
				ctx.SetUser(user)
			}
			if len(args) == 1 {
				ctx.SetConversation(args[0], name)
			}
			if err := rt.contexts.Save(ctx); err != nil {
				return Exitf(ExitCodeFailure, "save context: %v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ctx.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name of the conversation")
	return cmd
}

func newContextCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show the current context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := rt.contexts.Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "load context: %v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ctx.String())
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the current context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.contexts.Clear(); err != nil {
				return Exitf(ExitCodeFailure, "clear context: %v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "context cleared")
			return nil
		},
	})
	return cmd
}

func newVersionCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "syncc %s\n", rt.version)
			return nil
		},
	}
}
