package cmd

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/projecteru2/fcsdk/cmd/core"
	cmdothers "github.com/projecteru2/fcsdk/cmd/others"
	cmdvm "github.com/projecteru2/fcsdk/cmd/vm"
	"github.com/projecteru2/fcsdk/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fcctl",
		Short:         "fcctl - Firecracker microVM control",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(commandContext(cmd))
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file path")
	flags.String("root-dir", "", "root data directory")
	flags.String("run-dir", "", "runtime directory")
	flags.String("log-dir", "", "log directory")
	flags.String("firecracker", "", "firecracker binary")
	flags.String("jailer-bin", "", "jailer binary")
	flags.String("chroot-base-dir", "", "jailer chroot base directory")
	flags.String("chroot-strategy", "", "how host files are placed in the jail (naive|full)")

	for key, name := range map[string]string{
		"root_dir":           "root-dir",
		"run_dir":            "run-dir",
		"log_dir":            "log-dir",
		"firecracker_binary": "firecracker",
		"jailer_binary":      "jailer-bin",
		"chroot_base_dir":    "chroot-base-dir",
		"chroot_strategy":    "chroot-strategy",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}

	viper.SetEnvPrefix("FCSDK")
	viper.AutomaticEnv()

	base := cmdcore.BaseHandler{ConfProvider: func() *config.Config { return conf }}

	for _, c := range cmdvm.Commands(cmdvm.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}
	for _, c := range cmdothers.Commands(cmdothers.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}

	return cmd
}()

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	conf.Normalize()

	return log.SetupLog(ctx, &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := newCommandContext()
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
