package others

import (
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/fcsdk/cmd/core"
	"github.com/projecteru2/fcsdk/gc"
	"github.com/projecteru2/fcsdk/version"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) GC(cmd *cobra.Command, _ []string) error {
	ctx, _, reg, err := h.InitRegistry(cmd)
	if err != nil {
		return err
	}

	o := gc.New()
	reg.RegisterGC(o)
	collected, err := o.Run(ctx)
	logger := log.WithFunc("cmd.gc")
	for module, n := range collected {
		logger.Infof(ctx, "%s: collected %d", module, n)
	}
	if err != nil {
		return err
	}
	logger.Infof(ctx, "GC completed")
	return nil
}

func (h Handler) Version(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Print(version.String())
		return nil
	}
	ctx, conf, reg, err := h.InitRegistry(cmd)
	if err != nil {
		return err
	}
	rec, err := reg.Get(ctx, args[0])
	if err != nil {
		return err
	}
	inst, err := cmdcore.Attach(ctx, conf, rec)
	if err != nil {
		return err
	}
	defer inst.Close(ctx) //nolint:errcheck
	v, err := inst.GetVersion(ctx)
	if err != nil {
		return fmt.Errorf("version %s: %w", rec.Name, err)
	}
	fmt.Println(v.FirecrackerVersion)
	return nil
}
