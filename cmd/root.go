package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/observability"
)

// appState is filled in by the root command's PersistentPreRunE and read by
// every subcommand.
type appState struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand creates a fresh command tree. Each call returns independent
// flag state.
func NewRootCommand() *cobra.Command {
	var cfgFile string
	app := &appState{}

	rootCmd := &cobra.Command{
		Use:           "browzer",
		Short:         "Browzer records browser workflows and replays them with an LLM agent.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}
			if err := bindConfigFlags(v, cmd); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "browzer"})
				return err
			}
			observability.InitializeLogger(cfg.Logger)

			app.cfg = cfg
			app.logger = observability.GetLogger()
			app.logger.Debug("Starting browzer", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.browzer/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newVersionCmd(),
		newRecordCmd(app),
		newAutomateCmd(app),
		newWorkflowCmd(app),
		newHistoryCmd(app),
		newServeCmd(app),
	)
	return rootCmd
}

// Execute runs the command tree with a signal-aware context.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Warn("Command aborted")
		return err
	}
	observability.GetLogger().Error("Command execution failed", zap.Error(err))
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}

// initializeConfig reads the config file, if any, and binds BROWZER_*
// environment variables.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("invalid config path %q: %w", cfgFile, err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".browzer"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("BROWZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

const configKeyAnnotation = "browzer/config-key"

// configFlag marks a flag as an override for a config key.
func configFlag(cmd *cobra.Command, flag, key string) {
	_ = cmd.Flags().SetAnnotation(flag, configKeyAnnotation, []string{key})
}

// bindConfigFlags binds every annotated flag so that an explicitly set flag
// wins over the config file and the environment.
func bindConfigFlags(v *viper.Viper, cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}
