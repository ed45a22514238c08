package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grmlab/gramscope/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	  __ _ _ __ __ _ _ __ ___  ___  ___ ___  _ __   ___
	 / _` + "`" + ` | '__/ _` + "`" + ` | '_ ` + "`" + ` _ \/ __|/ __/ _ \| '_ \ / _ \
	| (_| | | | (_| | | | | | \__ \ (_| (_) | |_) |  __/
	 \__, |_|  \__,_|_| |_| |_|___/\___\___/| .__/ \___|
	 |___/                                  |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gramscope",
	Short: "Follower analytics for your Instagram account.",
	Long: LOGO + `gramscope keeps timestamped snapshots of your followers and following
lists and tells you who unfollowed, who doesn't follow back, and who joined,
right from your command line or over a small HTTP API.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gramscope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to the SQLite database (default is ~/.config/gramscope/gramscope.sqlite)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".gramscope")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.gramscope.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("account.username", "")
	viper.SetDefault("account.password", "")
	viper.SetDefault("account.otpsecret", "")
	viper.SetDefault("gateway.url", "http://127.0.0.1:8787")
	viper.SetDefault("server.listen", ":8000")
	viper.SetDefault("server.jwt_secret", "")
	viper.SetDefault("server.allowed_origin", "*")
	viper.SetDefault("sync.cooldown_hours", 1)
	viper.SetDefault("sync.max_per_fetch", 10000)
	viper.SetDefault("sync.min_delay_seconds", 2)
	viper.SetDefault("sync.max_delay_seconds", 5)
	viper.SetDefault("sync.auto_on_login", false)
	viper.SetDefault("db.path", "")
	viper.SetDefault("images.dir", "")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)

}
