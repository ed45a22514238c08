package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/grmlab/gramscope/internal/utils"
	"github.com/grmlab/gramscope/pkg/gram"
	"github.com/grmlab/gramscope/pkg/otp"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to your account and store the session",
	Long: `Log in to your account and store the encrypted session in the database.
Credentials come from flags or from the account.* config keys. If the account
has 2FA enabled and account.otpsecret is configured, the code is generated
automatically; otherwise you will be prompted for it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if username == "" {
			username = viper.GetString("account.username")
		}
		if password == "" {
			password = viper.GetString("account.password")
		}
		if username == "" || password == "" {
			return fmt.Errorf("username and password are required (flags or account.* config keys)")
		}

		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		ctx := context.Background()
		out, err := app.flow.BeginLogin(ctx, username, password)
		if err != nil {
			return err
		}

		switch {
		case out.RequiresTwoFactor:
			code, err := twoFactorCode()
			if err != nil {
				return err
			}
			out, err = app.flow.CompleteTwoFactor(ctx, out.SessionToken, code, username, password)
			if err != nil {
				return err
			}

		case out.RequiresChallenge:
			fmt.Printf("%s\n", out.Message)
			code, err := prompt("Enter the verification code: ")
			if err != nil {
				return err
			}
			out, err = app.flow.CompleteChallenge(ctx, out.SessionToken, code)
			if err != nil {
				return err
			}
		}

		if !out.Authenticated {
			return fmt.Errorf("login did not complete")
		}

		acct := gram.Account{
			ID:          out.Profile.ID,
			Username:    out.Profile.Username,
			FullName:    out.Profile.FullName,
			AvatarURL:   out.Profile.AvatarURL,
			SessionBlob: out.SessionSealed,
		}
		if err := app.db.UpsertAccount(ctx, acct); err != nil {
			return err
		}

		utils.Log.Infof("Logged in as %s (%d followers, %d following)",
			out.Profile.Username, out.Profile.FollowerCount, out.Profile.FollowingCount)

		if viper.GetBool("sync.auto_on_login") {
			return runSync(ctx, app, acct.ID)
		}
		return nil
	},
}

// twoFactorCode generates the TOTP code from the configured secret, or
// prompts for it when no secret is set.
func twoFactorCode() (string, error) {
	if secret := viper.GetString("account.otpsecret"); secret != "" {
		code, err := otp.Code(secret, time.Now())
		if err != nil {
			return "", fmt.Errorf("generating TOTP code: %w", err)
		}
		utils.Log.Debug("Generated 2FA code from configured secret")
		return code, nil
	}
	return prompt("Enter your 2FA code: ")
}

func prompt(msg string) (string, error) {
	fmt.Print(msg)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return "", fmt.Errorf("empty code")
	}
	return code, nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringP("username", "u", "", "Account username")
	loginCmd.Flags().StringP("password", "p", "", "Account password")
}
