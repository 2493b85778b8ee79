package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"shopload/internal/config"
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitError
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shopload",
		Short: "Virtual-user load generator for the e-commerce gateway",
		Long: `shopload simulates a mixed population of shoppers against the product, user,
order, favourite and payment services behind the gateway: read-heavy browsers,
write-heavy buyers and end-to-end journeys. Write flows are off unless enabled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newRunCmd())
	root.AddCommand(newProfilesCmd())
	return root
}

// commonFlags registers the flags shared by every command that needs the
// effective configuration and binds them into v.
func commonFlags(flags *pflag.FlagSet, v *viper.Viper, configPath *string) {
	flags.StringVarP(configPath, "config", "c", "", "path to YAML config file")
	flags.Bool("enable-favourite-writes", false, "enable the Add to Favourites flow")
	flags.Bool("enable-order-flow", false, "enable the cart, order and payment flows")
	flags.String("routing-mode", "", "gateway routing: service-prefix or api-prefix")

	bind(v, flags, config.KeyFavouriteWrites, "enable-favourite-writes")
	bind(v, flags, config.KeyOrderFlow, "enable-order-flow")
	bind(v, flags, config.KeyRoutingMode, "routing-mode")
}

func bind(v *viper.Viper, flags *pflag.FlagSet, key, flag string) {
	if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

// loadConfig resolves the configuration and wraps failures as usage errors.
func loadConfig(path string, v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(path, v)
	if err != nil {
		return nil, &exitError{code: ExitError, err: err}
	}
	return cfg, nil
}
