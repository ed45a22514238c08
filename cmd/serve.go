package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/grmlab/gramscope/internal/server"
	"github.com/grmlab/gramscope/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gramscope API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")
		if listenAddr == "" {
			listenAddr = viper.GetString("server.listen")
		}
		syncInterval, _ := cmd.Flags().GetInt("sync-interval")

		jwtSecret := viper.GetString("server.jwt_secret")
		if jwtSecret == "" {
			return fmt.Errorf("server.jwt_secret must be set to run the API server")
		}

		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()

		if syncInterval > 0 {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go app.syncer.RunScheduler(ctx, time.Duration(syncInterval)*time.Hour)
			utils.Log.Infof("Background sync every %d hour(s)", syncInterval)
		}

		srv := server.New(app.db, app.flow, app.syncer, app.images, jwtSecret, utils.Log)
		srv.AutoSyncOnLogin = viper.GetBool("sync.auto_on_login")
		srv.AllowedOrigin = viper.GetString("server.allowed_origin")
		return srv.Start(listenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "HTTP listen address (default from config, :8000)")
	serveCmd.Flags().Int("sync-interval", 0, "Hours between automatic syncs of all accounts (0 to disable)")
}
