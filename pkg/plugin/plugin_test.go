package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/config"
)

type fakePlugin struct {
	name        string
	status      Status
	registerErr error
	exportErr   error
	imported    string
}

func (f *fakePlugin) Name() string   { return f.name }
func (f *fakePlugin) Status() Status { return f.status }

func (f *fakePlugin) Register(info BeaconInfo) (Info, error) {
	if f.registerErr != nil {
		return Info{}, f.registerErr
	}
	return Info{Version: "1.0", StagingDir: info.StagingDir}, nil
}

func (f *fakePlugin) ExportData(ctx context.Context, dataset Dataset) (string, error) {
	return "/staging/" + dataset.PolicyName, f.exportErr
}

func (f *fakePlugin) ImportData(ctx context.Context, dataset Dataset, path string) error {
	f.imported = path
	return nil
}

func TestJobType(t *testing.T) {
	name, ok := ParseJobType(JobType("ranger"))
	assert.True(t, ok)
	assert.Equal(t, "ranger", name)

	_, ok = ParseJobType("FS")
	assert.False(t, ok)
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&fakePlugin{name: "ranger", status: StatusActive}, BeaconInfo{StagingDir: "/tmp"}))
	assert.Error(t, r.Register(&fakePlugin{name: "ranger", status: StatusActive}, BeaconInfo{}))

	err := r.Register(&fakePlugin{name: "atlas", registerErr: errors.New("no endpoint")}, BeaconInfo{})
	require.Error(t, err)
	_, ok := r.Get("atlas")
	assert.False(t, ok)

	infos := r.Infos()
	require.Len(t, infos, 1)
	assert.Equal(t, "ranger", infos[0].Name)
	assert.Equal(t, "1.0", infos[0].Version)
	assert.Equal(t, StatusActive, infos[0].Status)
}

func TestRegistryActive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakePlugin{name: "ranger", status: StatusActive}, BeaconInfo{}))
	require.NoError(t, r.Register(&fakePlugin{name: "atlas", status: StatusActive}, BeaconInfo{}))
	require.NoError(t, r.Register(&fakePlugin{name: "custom", status: StatusInactive}, BeaconInfo{}))

	active := r.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "atlas", active[0].Name())
	assert.Equal(t, "ranger", active[1].Name())
}

func TestRegistryRun(t *testing.T) {
	r := NewRegistry()
	ranger := &fakePlugin{name: "ranger", status: StatusActive}
	require.NoError(t, r.Register(ranger, BeaconInfo{}))

	require.NoError(t, r.Run(context.Background(), "ranger", Dataset{PolicyName: "fs"}))
	assert.Equal(t, "/staging/fs", ranger.imported)

	ranger.exportErr = errors.New("ranger unavailable")
	err := r.Run(context.Background(), "ranger", Dataset{PolicyName: "fs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export failed")

	ranger.status = StatusError
	assert.Error(t, r.Run(context.Background(), "ranger", Dataset{}))
	assert.Error(t, r.Run(context.Background(), "missing", Dataset{}))
}

func TestCommandPlugin(t *testing.T) {
	p := NewCommandPlugin(config.PluginConfig{
		Name:   "ranger",
		Export: []string{"sh", "-c", "echo exporting; echo $BEACON_STAGING_PATH-$BEACON_DATASET"},
		Import: []string{"sh", "-c", `test "$BEACON_STAGING_PATH" = "/stage/ranger/fs-/data/src" && test "$BEACON_DATASET" = /data/dst`},
	})
	assert.Equal(t, StatusInactive, p.Status())

	info, err := p.Register(BeaconInfo{StagingDir: "/stage"})
	require.NoError(t, err)
	assert.Equal(t, "/stage/ranger", info.StagingDir)
	assert.Equal(t, StatusActive, p.Status())

	dataset := Dataset{PolicyName: "fs", SourceDataset: "/data/src", TargetDataset: "/data/dst"}
	path, err := p.ExportData(context.Background(), dataset)
	require.NoError(t, err)
	assert.Equal(t, "/stage/ranger/fs-/data/src", path)

	require.NoError(t, p.ImportData(context.Background(), dataset, path))
	assert.Error(t, p.ImportData(context.Background(), dataset, "/elsewhere"))
}

func TestCommandPluginMissingBinary(t *testing.T) {
	p := NewCommandPlugin(config.PluginConfig{
		Name:   "atlas",
		Export: []string{"beacon-no-such-binary"},
		Import: []string{"sh"},
	})
	_, err := p.Register(BeaconInfo{})
	require.Error(t, err)
	assert.Equal(t, StatusError, p.Status())
}
