package instance

import (
	"context"
	"net/http"
	"net/url"

	"github.com/projecteru2/fcsdk/types"
)

// Calls below carry no host paths and go to the VMM unchanged.

func (i *Instance) DescribeInstance(ctx context.Context) (*types.InstanceInfo, error) {
	info := &types.InstanceInfo{}
	return info, i.call(ctx, http.MethodGet, "/", nil, info)
}

func (i *Instance) GetVersion(ctx context.Context) (*types.FirecrackerVersion, error) {
	v := &types.FirecrackerVersion{}
	return v, i.call(ctx, http.MethodGet, "/version", nil, v)
}

func (i *Instance) GetExportVMConfig(ctx context.Context) (*types.FullVMConfiguration, error) {
	conf := &types.FullVMConfiguration{}
	return conf, i.call(ctx, http.MethodGet, "/vm/config", nil, conf)
}

func (i *Instance) GetMachineConfiguration(ctx context.Context) (*types.MachineConfiguration, error) {
	mc := &types.MachineConfiguration{}
	return mc, i.call(ctx, http.MethodGet, "/machine-config", nil, mc)
}

func (i *Instance) PutMachineConfiguration(ctx context.Context, mc types.MachineConfiguration) error {
	return i.call(ctx, http.MethodPut, "/machine-config", mc, nil)
}

func (i *Instance) PatchMachineConfiguration(ctx context.Context, mc types.MachineConfiguration) error {
	return i.call(ctx, http.MethodPatch, "/machine-config", mc, nil)
}

func (i *Instance) PutCPUConfiguration(ctx context.Context, conf types.CPUConfig) error {
	return i.call(ctx, http.MethodPut, "/cpu-config", conf, nil)
}

func (i *Instance) PutGuestNetworkInterface(ctx context.Context, iface types.NetworkInterface) error {
	return i.call(ctx, http.MethodPut, "/network-interfaces/"+url.PathEscape(iface.IfaceID), iface, nil)
}

func (i *Instance) PatchGuestNetworkInterface(ctx context.Context, iface types.PartialNetworkInterface) error {
	return i.call(ctx, http.MethodPatch, "/network-interfaces/"+url.PathEscape(iface.IfaceID), iface, nil)
}

func (i *Instance) DescribeBalloonConfig(ctx context.Context) (*types.Balloon, error) {
	b := &types.Balloon{}
	return b, i.call(ctx, http.MethodGet, "/balloon", nil, b)
}

func (i *Instance) PutBalloon(ctx context.Context, b types.Balloon) error {
	return i.call(ctx, http.MethodPut, "/balloon", b, nil)
}

func (i *Instance) PatchBalloon(ctx context.Context, u types.BalloonUpdate) error {
	return i.call(ctx, http.MethodPatch, "/balloon", u, nil)
}

func (i *Instance) DescribeBalloonStats(ctx context.Context) (*types.BalloonStats, error) {
	s := &types.BalloonStats{}
	return s, i.call(ctx, http.MethodGet, "/balloon/statistics", nil, s)
}

func (i *Instance) PatchBalloonStatsInterval(ctx context.Context, u types.BalloonStatsUpdate) error {
	return i.call(ctx, http.MethodPatch, "/balloon/statistics", u, nil)
}

func (i *Instance) PutMMDS(ctx context.Context, contents types.MMDSContents) error {
	return i.call(ctx, http.MethodPut, "/mmds", contents, nil)
}

func (i *Instance) PatchMMDS(ctx context.Context, contents types.MMDSContents) error {
	return i.call(ctx, http.MethodPatch, "/mmds", contents, nil)
}

func (i *Instance) GetMMDS(ctx context.Context) (types.MMDSContents, error) {
	contents := types.MMDSContents{}
	return contents, i.call(ctx, http.MethodGet, "/mmds", nil, &contents)
}

func (i *Instance) PutMMDSConfig(ctx context.Context, conf types.MMDSConfig) error {
	return i.call(ctx, http.MethodPut, "/mmds/config", conf, nil)
}

func (i *Instance) PutEntropyDevice(ctx context.Context, dev types.EntropyDevice) error {
	return i.call(ctx, http.MethodPut, "/entropy", dev, nil)
}
