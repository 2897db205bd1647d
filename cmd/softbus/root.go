package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/softbus/internal/bus"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable consulted when --config is unset.
const configEnv = "SOFTBUS_CONFIG"

// Exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// ExitError carries the bus status of the operation that ended a command.
type ExitError struct {
	Status  bus.Status
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with the status it maps to.
func WrapExitError(message string, err error) *ExitError {
	return &ExitError{Status: bus.StatusOf(err), Message: message, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
// Only a nil error or an ExitError carrying StatusOK exits with 0.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Status.OK() {
		return ExitSuccess
	}
	return ExitFailure
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the softbus CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "softbus",
		Short: "softbus - in-process software message bus",
		Long: `softbus routes prioritised messages between named devices.

Devices own a priority queue that is drained when a send targets them or a
drain pass is requested. Groups fan a message out to every member, locally or
through a UDP multicast or MQTT transport.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		fmt.Sprintf("config file (default $%s or %s)", configEnv, defaultConfigPath))
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// configPath returns the configuration file path: the --config flag, then
// SOFTBUS_CONFIG, then the default.
func (o *RootOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
