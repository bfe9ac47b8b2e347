package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:          "courier-backoffice",
	Short:        "Courier back-office identity and access service",
	Long:         `Staff sign-in with login codes, owner bootstrap, user administration and section permissions for the courier back-office.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func Root() *cobra.Command {
	return rootCmd
}

// envOnlyKeys have no default, so viper only sees them in the environment
// when they are bound explicitly.
var envOnlyKeys = []string{
	"database.source",
	"security.access_token_secret",
	"security.refresh_token_secret",
	"auth.master_password",
}

// loadConfig reads and validates the full server configuration.
func loadConfig(path string) (*internal.Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("error validating config: %w", err)
	}
	return cfg, nil
}

// readConfig merges defaults, config.yml and ENV_ variables without
// validating them.
func readConfig(path string) (*internal.Config, error) {
	v := viper.New()
	for key, value := range internal.Defaults() {
		v.SetDefault(key, value)
	}

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory holding config.yml")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(clientCmd)
}
