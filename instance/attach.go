package instance

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/fcsdk/types"
)

// Attach connects to a VMM launched by another process. Only SocketPath,
// JailRoot, ExecName and Strategy of conf are used. The Instance is Running
// with an empty rollback stack, so Close only drops the connection.
func Attach(ctx context.Context, conf Config, guestPID, jailerPID int, opts ...Option) (*Instance, error) {
	if conf.SocketPath == "" {
		return nil, fmt.Errorf("%w: socket path not set", types.ErrConfiguration)
	}
	conf.Command.Path = "(attached)"
	i, err := New(conf, opts...)
	if err != nil {
		return nil, err
	}
	a, err := i.connect(ctx)
	if err != nil {
		return nil, err
	}
	i.agent = a
	i.guestPID, i.jailerPID = guestPID, jailerPID
	i.state = StateRunning
	log.WithFunc("instance.Attach").Debugf(ctx, "attached to %s (pid %d)", conf.SocketPath, guestPID)
	return i, nil
}
