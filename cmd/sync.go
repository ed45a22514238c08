package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grmlab/gramscope/internal/utils"
	"github.com/grmlab/gramscope/pkg/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch fresh follower lists and update analytics",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")

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
		return runSync(ctx, app, accountID)
	},
}

// resolveAccount picks the account to sync: by username when given,
// otherwise the only stored account.
func resolveAccount(ctx context.Context, app *app, username string) (string, error) {
	accounts, err := app.db.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("no accounts stored, run 'gramscope login' first")
	}
	if username == "" {
		if len(accounts) > 1 {
			return "", fmt.Errorf("multiple accounts stored, pick one with --username")
		}
		return accounts[0].ID, nil
	}
	for _, a := range accounts {
		if a.Username == username {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("no stored account named %q", username)
}

// runSync starts a sync and blocks until it finishes, echoing progress.
func runSync(ctx context.Context, app *app, accountID string) error {
	if _, err := app.syncer.Start(ctx, accountID); err != nil {
		var cd *syncer.CooldownError
		if errors.As(err, &cd) {
			return fmt.Errorf("sync is on cooldown, retry in %s", time.Duration(cd.SecondsRemaining)*time.Second)
		}
		return err
	}

	lastTask := ""
	for {
		time.Sleep(500 * time.Millisecond)
		status, ok := app.syncer.Registry().Get(accountID)
		if !ok {
			return fmt.Errorf("sync status lost")
		}
		if status.CurrentTask != lastTask {
			utils.Log.Infof("[%3d%%] %s", status.Progress, status.CurrentTask)
			lastTask = status.CurrentTask
		}
		if !status.IsSyncing {
			if status.Progress != 100 {
				return fmt.Errorf("sync failed: %s", status.CurrentTask)
			}
			return nil
		}
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringP("username", "u", "", "Which stored account to sync")
}
