package core

import (
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// CompleteVMs completes instance names from the registry, annotated with
// their state. Names already on the command line are skipped.
func (h BaseHandler) CompleteVMs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	ctx, _, reg, err := h.InitRegistry(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	recs, err := reg.List(ctx)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for _, rec := range recs {
		if slices.Contains(args, rec.Name) || !strings.HasPrefix(rec.Name, toComplete) {
			continue
		}
		names = append(names, rec.Name+"\t"+ReconcileState(rec))
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
