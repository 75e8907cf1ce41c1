package instance

import (
	"context"
	"net/http"

	"github.com/projecteru2/fcsdk/protocol"
	"github.com/projecteru2/fcsdk/types"
)

// Event runs a raw exchange on the control channel and returns the status.
func (i *Instance) Event(ctx context.Context, method, path string, payload, out any) (int, error) {
	a, err := i.client()
	if err != nil {
		return 0, err
	}
	return a.Event(ctx, protocol.Request{Method: method, Path: path, Payload: payload}, out)
}

func (i *Instance) call(ctx context.Context, method, path string, payload, out any) error {
	_, err := i.Event(ctx, method, path, payload, out)
	return err
}

// CreateSyncAction sends PUT /actions.
func (i *Instance) CreateSyncAction(ctx context.Context, action types.ActionType) error {
	return i.call(ctx, http.MethodPut, "/actions", types.InstanceActionInfo{ActionType: action}, nil)
}

// PatchVM sends PATCH /vm.
func (i *Instance) PatchVM(ctx context.Context, state types.VMState) error {
	return i.call(ctx, http.MethodPatch, "/vm", types.VM{State: state}, nil)
}

// Start boots the configured guest.
func (i *Instance) Start(ctx context.Context) error {
	if err := i.CreateSyncAction(ctx, types.ActionInstanceStart); err != nil {
		return err
	}
	i.setState(StateRunning)
	return nil
}

// Stop asks the guest to shut down with Ctrl-Alt-Del.
func (i *Instance) Stop(ctx context.Context) error {
	if err := i.CreateSyncAction(ctx, types.ActionSendCtrlAltDel); err != nil {
		return err
	}
	i.setState(StateStopped)
	return nil
}

func (i *Instance) Pause(ctx context.Context) error {
	if err := i.PatchVM(ctx, types.VMStatePaused); err != nil {
		return err
	}
	i.setState(StatePaused)
	return nil
}

func (i *Instance) Resume(ctx context.Context) error {
	if err := i.PatchVM(ctx, types.VMStateResumed); err != nil {
		return err
	}
	i.setState(StateRunning)
	return nil
}
