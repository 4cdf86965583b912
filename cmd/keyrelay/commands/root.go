package commands

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TheusHen/keyrelay/keyrelay"
)

var (
	cfgFile string
	keyFile string

	v   = viper.New()
	cfg keyrelay.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:          "keyrelay",
		Short:        "Authenticated end-to-end encrypted message relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(cmd); err != nil {
				return err
			}
			cfg = keyrelay.ConfigFromViper(v)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return cfg.ApplyLogLevel()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringVarP(&keyFile, "key", "k", "keyrelay.key", "identity key file")
	root.PersistentFlags().String("transport", "", "transport: ws or quic")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(keygenCmd(), serveCmd(), sendCmd(), listenCmd())
	return root.Execute()
}

func initConfig(cmd *cobra.Command) error {
	keyrelay.SetDefaults(v)
	v.SetEnvPrefix("KEYRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"transport": "transport",
		"log.level": "log-level",
		"listen":    "listen",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	logrus.WithField("file", v.ConfigFileUsed()).Debug("using_config_file")
	return nil
}
