package others

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Actions defines cross-cutting system operations.
type Actions interface {
	GC(cmd *cobra.Command, args []string) error
	Version(cmd *cobra.Command, args []string) error
	CompleteVMs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective)
}

// Commands builds system command set (gc, version, completion).
func Commands(h Actions) []*cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version [VM]",
		Short: "Show fcctl build info, or the Firecracker version of a running VM",
		Args:  cobra.MaximumNArgs(1),
		RunE:  h.Version,
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return h.CompleteVMs(cmd, args, toComplete)
		},
	}

	return []*cobra.Command{
		{
			Use:   "gc",
			Short: "Tear down dead instances and remove orphaned instance dirs",
			Args:  cobra.NoArgs,
			RunE:  h.GC,
		},
		versionCmd,
		{
			Use:       "completion [bash|zsh|fish|powershell]",
			Short:     "Generate shell completion script",
			Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
			ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
			RunE: func(cmd *cobra.Command, args []string) error {
				return writeCompletion(cmd.Root(), args[0], os.Stdout)
			},
		},
	}
}

func writeCompletion(root *cobra.Command, shell string, w io.Writer) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(w)
	default:
		return fmt.Errorf("unsupported shell: %s", shell)
	}
}
