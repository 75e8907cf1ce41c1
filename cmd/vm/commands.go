package vm

import (
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/fcsdk/cmd/core"
	"github.com/projecteru2/fcsdk/console"
)

// Actions defines instance lifecycle operations.
type Actions interface {
	Run(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
	Inspect(cmd *cobra.Command, args []string) error
	Pause(cmd *cobra.Command, args []string) error
	Resume(cmd *cobra.Command, args []string) error
	Stop(cmd *cobra.Command, args []string) error
	RM(cmd *cobra.Command, args []string) error
	Debug(cmd *cobra.Command, args []string) error
	CompleteVMs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective)
}

// Commands builds the instance command set.
func Commands(h Actions) []*cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [flags]",
		Short: "Launch a microVM and boot it",
		Args:  cobra.NoArgs,
		RunE:  h.Run,
	}
	cmdcore.AddLaunchFlags(runCmd)
	runCmd.Flags().BoolP("detach", "d", false, "leave the VM running and return")
	runCmd.Flags().Bool("console", false, "attach the guest serial console to this terminal")
	runCmd.Flags().String("escape-char", console.FormatEscape(console.DefaultEscape), "console escape character (single char or ^X caret notation)")

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List instances with status",
		Args:    cobra.NoArgs,
		RunE:    h.List,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect VM",
		Short: "Show the instance record and live VMM configuration (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Inspect,
	}

	pauseCmd := &cobra.Command{
		Use:   "pause VM [VM...]",
		Short: "Pause running VM(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Pause,
	}

	resumeCmd := &cobra.Command{
		Use:   "resume VM [VM...]",
		Short: "Resume paused VM(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Resume,
	}

	stopCmd := &cobra.Command{
		Use:   "stop VM [VM...]",
		Short: "Send Ctrl-Alt-Del and terminate the VMM after the stop timeout",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Stop,
	}

	rmCmd := &cobra.Command{
		Use:   "rm [flags] VM [VM...]",
		Short: "Delete VM(s) (--force to terminate running VMs first)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.RM,
	}
	rmCmd.Flags().Bool("force", false, "force delete running VMs")

	debugCmd := &cobra.Command{
		Use:   "debug [flags]",
		Short: "Print the launch command and API requests (dry run)",
		Args:  cobra.NoArgs,
		RunE:  h.Debug,
	}
	cmdcore.AddLaunchFlags(debugCmd)

	for _, c := range []*cobra.Command{pauseCmd, resumeCmd, stopCmd, rmCmd} {
		c.ValidArgsFunction = h.CompleteVMs
	}
	inspectCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return h.CompleteVMs(cmd, args, toComplete)
	}

	return []*cobra.Command{
		runCmd,
		listCmd,
		inspectCmd,
		pauseCmd,
		resumeCmd,
		stopCmd,
		rmCmd,
		debugCmd,
	}
}
