package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/grmlab/gramscope/pkg/gram"
	"github.com/grmlab/gramscope/pkg/storage"
)

var analyticsCmd = &cobra.Command{
	Use:       "analytics [overview|not-following-back|not-followed-back|mutual|new|lost]",
	Short:     "Print follower analytics from the last sync",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"overview", "not-following-back", "not-followed-back", "mutual", "new", "lost"},
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		report := "overview"
		if len(args) > 0 {
			report = args[0]
		}

		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx := context.Background()
		accountID, err := resolveAccount(ctx, app, username)
		if err != nil {
			return err
		}

		data, err := app.db.CachedAnalytics(ctx, accountID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no synced data yet, run 'gramscope sync' first")
			}
			return err
		}

		switch report {
		case "overview":
			printOverview(data.Overview)
		case "not-following-back":
			printUsers("They don't follow you back", data.NotFollowingBack)
		case "not-followed-back":
			printUsers("You don't follow them back", data.NotFollowedBack)
		case "mutual":
			printUsers("Mutual follows", data.Mutual)
		case "new":
			printUsers("New followers since previous sync", data.NewFollowers)
		case "lost":
			printUsers("Lost followers since previous sync", data.LostFollowers)
		default:
			return fmt.Errorf("unknown report %q", report)
		}
		return nil
	},
}

func printOverview(o gram.Overview) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "Followers\t%d\n", o.TotalFollowers)
	fmt.Fprintf(w, "Following\t%d\n", o.TotalFollowing)
	fmt.Fprintf(w, "Mutual\t%d\n", o.Mutual)
	fmt.Fprintf(w, "Not following you back\t%d\n", o.NotFollowingBack)
	fmt.Fprintf(w, "Not followed back by you\t%d\n", o.NotFollowedBack)
	fmt.Fprintf(w, "New followers\t%d\n", o.NewFollowers)
	fmt.Fprintf(w, "Lost followers\t%d\n", o.LostFollowers)
	w.Flush()
}

func printUsers(title string, users []gram.User) {
	fmt.Printf("%s (%d)\n\n", title, len(users))
	if len(users) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tNAME\tFLAGS")
	for _, u := range users {
		flags := ""
		if u.IsVerified {
			flags += "verified "
		}
		if u.IsPrivate {
			flags += "private"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.Username, u.FullName, flags)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(analyticsCmd)
	analyticsCmd.Flags().StringP("username", "u", "", "Which stored account to report on")
}
