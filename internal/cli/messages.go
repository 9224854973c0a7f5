package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/models"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/status"
)

func newSendCmd(rt *runtime) *cobra.Command {
	var (
		conversation string
		jsonOutput   bool
	)
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a message",
		Long:  "Send a message optimistically and print its confirmed delivery status.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, err := rt.conversation(conversation)
			if err != nil {
				return err
			}
			c, err := rt.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close(cmd.Context())

			rec, sendErr := c.Chat().SendMessage(cmd.Context(), conversationID, strings.Join(args, " "))
			if sendErr != nil {
				if failed := c.Coordinator().Failed(models.ConversationMessagesKey(conversationID)); len(failed) > 0 {
					rec = failed[len(failed)-1].Record
				}
				rec.Status = models.StatusFailed
			}
			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
					return err
				}
			} else {
				r := rt.renderer(cmd.OutOrStdout())
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", r.Line(status.ProjectRecord(rec)), rec.ID)
			}
			return exitFor(sendErr)
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id (default from context)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the record as JSON")
	return cmd
}

func newMessagesCmd(rt *runtime) *cobra.Command {
	var (
		conversation string
		jsonOutput   bool
		limit        int
	)
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"log"},
		Short:   "Show a conversation",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, err := rt.conversation(conversation)
			if err != nil {
				return err
			}
			c, err := rt.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close(cmd.Context())

			records, err := c.Chat().Messages(cmd.Context(), conversationID)
			if err != nil {
				return exitFor(err)
			}
			if limit > 0 && len(records) > limit {
				records = records[len(records)-limit:]
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			writeTimeline(cmd.OutOrStdout(), rt.renderer(cmd.OutOrStdout()), c.Chat().UserID(), records)
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id (default from context)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output records as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last n messages")
	return cmd
}

func writeTimeline(out io.Writer, r *status.Renderer, self string, records models.Records) {
	if len(records) == 0 {
		fmt.Fprintln(out, "(no messages)")
		return
	}
	for _, rec := range records {
		author := rec.AuthorID
		if author == self {
			author = "me"
		}
		line := fmt.Sprintf("%s  %-10s %s", rec.CreatedAt.Local().Format("15:04"), author, rec.Text)
		// Receipts are shown on own messages only.
		if rec.AuthorID == self {
			if glyph := r.Glyph(status.ProjectRecord(rec)); glyph != "" {
				line += "  " + glyph
			}
		}
		fmt.Fprintln(out, line)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return Exitf(ExitCodeFailure, "encode output: %v", err)
	}
	return nil
}
