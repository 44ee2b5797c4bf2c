package registry

import (
	"context"
	"testing"

	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	*base.BaseAdapter
}

func newStubSource(cfg core.Config, sink core.EventSink) (core.Source, error) {
	return &stubSource{BaseAdapter: base.NewBaseAdapter("stub", core.AdapterKindSource, cfg, sink)}, nil
}

func (s *stubSource) ValidateConfig() error {
	_, err := base.RequireString(s.Config(), "path")
	return err
}
func (s *stubSource) Authenticate(context.Context) error { return nil }
func (s *stubSource) TestConnection(context.Context) core.ConnectionResult {
	return core.ConnectionOK("ok", nil)
}
func (s *stubSource) Close(context.Context) error { return nil }
func (s *stubSource) Fetch(context.Context) (*core.FetchResult, error) {
	return &core.FetchResult{}, nil
}

func TestLoadSource(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterSource("stub", newStubSource))
	r.Seal()

	src, err := r.LoadSource("stub", core.Config{"path": "/tmp/in.json"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "stub", src.Type())
}

func TestLoadSource_ConfigError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterSource("stub", newStubSource))

	_, err := r.LoadSource("stub", core.Config{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, "path", errors.Details(err)["field"])
}

func TestLoad_AdapterNotFound(t *testing.T) {
	r := NewRegistry()

	_, err := r.LoadSource("nope", core.Config{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAdapterNotFound))

	_, err = r.LoadDestination("nope", core.Config{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAdapterNotFound))
	assert.Equal(t, "destination", errors.Details(err)["kind"])
}

func TestRegister_DuplicateAndSealed(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterSource("stub", newStubSource))

	err := r.RegisterSource("stub", newStubSource)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	r.Seal()
	err = r.RegisterSource("other", newStubSource)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSources_Sorted(t *testing.T) {
	r := NewRegistry()
	for _, key := range []string{"zeta", "alm", "json"} {
		require.NoError(t, r.RegisterSource(key, newStubSource))
	}
	assert.Equal(t, []string{"alm", "json", "zeta"}, r.Sources())
	assert.Empty(t, r.Destinations())
}
