package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/matheus3301/casesync/internal/api"
)

var (
	conversationsCached bool
	historyCase         string
	historyLimit        int
	historyBefore       int64
	historyBeforeID     string
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.Conversation.ListConversations(ctx, &api.ListConversationsRequest{Cached: conversationsCached})
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			if len(resp.Conversations) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			if resp.Stale {
				fmt.Printf("(server unreachable, showing list from %s)\n", resp.RefreshedAt.Local().Format(time.DateTime))
			}
			for _, s := range resp.Conversations {
				fmt.Printf("%-16s %-28s %-20s %3d unread  %s\n", s.CaseID, s.CaseTitle, s.OtherUser.DisplayName, s.UnreadCount, s.LastMessage)
			}
			fmt.Printf("Total unread: %d\n", resp.TotalUnread)
			return nil
		})
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show unread message counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.Conversation.UnreadCount(ctx, &api.UnreadCountRequest{})
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			fmt.Printf("Total: %d\n", resp.Total)
			for caseID, n := range resp.ByCase {
				fmt.Printf("  %-16s %d\n", caseID, n)
			}
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Read the local transcript mirror, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.Conversation.History(ctx, &api.HistoryRequest{
				CaseID:   historyCase,
				BeforeTs: historyBefore,
				BeforeID: historyBeforeID,
				Limit:    historyLimit,
			})
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(resp)
			}
			for i := range resp.Messages {
				printMessage(&resp.Messages[i])
			}
			if resp.HasMore {
				fmt.Printf("(more: casectl history --before %d --before-id %s)\n", resp.NextBeforeTs, resp.NextBeforeID)
			}
			return nil
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the daemon health service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
			if err != nil {
				return err
			}
			if jsonFlag {
				out, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			fmt.Printf("%s: %s\n", api.ServiceName, resp.GetStatus())
			return nil
		})
	},
}

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsCached, "cached", false, "show the last list without contacting the server")
	historyCmd.Flags().StringVar(&historyCase, "case", "", "case id (default: the bound case)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "page size")
	historyCmd.Flags().Int64Var(&historyBefore, "before", 0, "only messages created before this unix-ms timestamp")
	historyCmd.Flags().StringVar(&historyBeforeID, "before-id", "", "with --before, resume after this message id at the same timestamp")
	rootCmd.AddCommand(conversationsCmd, unreadCmd, historyCmd, healthCmd)
}
