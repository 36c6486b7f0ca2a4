package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/notify"
)

func newNotificationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "Read the operator notification feed",
	}

	cmd.AddCommand(newNotificationListCmd())
	cmd.AddCommand(newNotificationReadCmd())
	cmd.AddCommand(newNotificationDeleteCmd())
	return cmd
}

func newNotificationListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		unread     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := notify.List(ctx, a.st, notify.ListOptions{Limit: limit, UnreadOnly: unread})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No notifications.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSEVERITY\tTITLE\tCREATED\tNEW")
			for _, n := range list {
				mark := ""
				if !n.Read {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.Severity, truncate(n.Title, 50), formatTime(&n.CreatedAt), mark)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum notifications to show")
	cmd.Flags().BoolVarP(&unread, "unread", "u", false, "only unread notifications")
	return cmd
}

func newNotificationReadCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark a notification, or all of them, as read",
		Args: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give either a notification ID or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if all {
				n, err := notify.MarkAllAsRead(ctx, a.st)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Marked %d notification(s) as read\n", n)
				return nil
			}
			if err := notify.MarkAsRead(ctx, a.st, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Marked %s as read\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&all, "all", false, "mark every notification as read")
	return cmd
}

func newNotificationDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := notify.Delete(ctx, a.st, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
