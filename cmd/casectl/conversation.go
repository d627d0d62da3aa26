package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matheus3301/casesync/internal/api"
	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/session"
)

var sendAttachments []string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show channel state and conversation summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			view, err := c.Conversation.GetSnapshot(ctx, &api.GetSnapshotRequest{})
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(map[string]any{
					"case_id":          view.CaseID,
					"connection_state": view.ConnectionState,
					"messages":         len(view.Messages),
					"unread":           view.Unread,
					"has_more":         view.HasMore,
					"error":            view.Error,
				})
			}
			fmt.Printf("Case:       %s\n", view.CaseID)
			fmt.Printf("Channel:    %s\n", view.ConnectionState)
			fmt.Printf("Messages:   %d (more: %v)\n", len(view.Messages), view.HasMore)
			fmt.Printf("Unread:     %d\n", view.Unread)
			if view.Error != "" {
				fmt.Printf("Last error: %s\n", view.Error)
			}
			return nil
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the current conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			view, err := c.Conversation.GetSnapshot(ctx, &api.GetSnapshotRequest{})
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(view)
			}
			printSnapshot(view)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message to the bound counterpart",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &api.SendMessageRequest{
			ClientMsgID: uuid.NewString(),
			Content:     strings.Join(args, " "),
			Attachments: sendAttachments,
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.Conversation.SendMessage(ctx, req)
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Printf("Sent (client id %s)\n", resp.ClientMsgID)
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read [message-id...]",
	Short: "Mark messages read (default: every unread message)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.Conversation.MarkRead(ctx, &api.MarkReadRequest{MessageIDs: args})
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Printf("Marked %d message(s) read\n", resp.Requested)
			return nil
		})
	},
}

var moreCmd = &cobra.Command{
	Use:   "more",
	Short: "Load the next page of older messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.Conversation.LoadMore(ctx, &api.LoadMoreRequest{})
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Printf("Loaded %d older message(s); more available: %v\n", resp.Loaded, resp.HasMore)
			return nil
		})
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing <on|off>",
	Short: "Send a typing signal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			parsed, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("typing: want on or off, got %q", args[0])
			}
			on = parsed
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.Conversation.SetTyping(ctx, &api.SetTypingRequest{IsTyping: on})
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream conversation snapshots until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionName := session.Resolve(sessionFlag)
		if err := session.ValidateName(sessionName); err != nil {
			return err
		}
		c, err := api.Dial(session.SocketPath(sessionName))
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		stream, err := c.Conversation.WatchSnapshots(ctx, &api.WatchSnapshotsRequest{})
		if err != nil {
			return err
		}
		for {
			view, err := stream.Recv()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if jsonFlag {
				if err := outputJSON(view); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("--- v%d  %s  %d message(s)\n", view.Version, view.ConnectionState, len(view.Messages))
			if len(view.TypingUsers) > 0 {
				fmt.Printf("typing: %s\n", strings.Join(view.TypingUsers, ", "))
			}
			if n := len(view.Messages); n > 0 {
				printMessage(&view.Messages[n-1])
			}
		}
	},
}

func printSnapshot(view *api.SnapshotView) {
	fmt.Printf("Case %s  [%s]\n", view.CaseID, view.ConnectionState)
	if view.HasMore {
		fmt.Println("  (older messages available: casectl more)")
	}
	for i := range view.Messages {
		printMessage(&view.Messages[i])
	}
	if len(view.TypingUsers) > 0 {
		fmt.Printf("  %s typing...\n", strings.Join(view.TypingUsers, ", "))
	}
}

func printMessage(m *chat.Message) {
	who := m.Sender.DisplayName
	if who == "" {
		who = m.Sender.ID
	}
	if m.IsMine {
		who = "me"
	}
	mark := " "
	if m.Read() {
		mark = "✓"
	}
	fmt.Printf("%s %s %-12s %s\n", m.CreatedAt.Local().Format(time.DateTime), mark, who, m.Content)
	for _, a := range m.Attachments {
		fmt.Printf("%34s📎 %s\n", "", a)
	}
}

func init() {
	sendCmd.Flags().StringSliceVar(&sendAttachments, "attach", nil, "attachment reference (repeatable)")
	rootCmd.AddCommand(statusCmd, snapshotCmd, sendCmd, readCmd, moreCmd, typingCmd, watchCmd)
}
