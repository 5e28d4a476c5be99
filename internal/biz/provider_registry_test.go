package biz

import (
	"errors"
	"testing"

	"CloudRelay/internal/model"
	pkgerrors "CloudRelay/pkg/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRegistry(t *testing.T) {
	r := NewProviderRegistry(testLogger)
	assert.Empty(t, r.Providers())

	r.Register(&fakeProviderClient{provider: model.ProviderOneDrive})
	r.Register(&fakeProviderClient{provider: model.ProviderDropbox})

	client, err := r.Client(model.ProviderDropbox)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderDropbox, client.Provider())

	assert.Equal(t, []model.Provider{model.ProviderDropbox, model.ProviderOneDrive}, r.Providers())
}

func TestProviderRegistry_ReplacesAdapter(t *testing.T) {
	r := NewProviderRegistry(testLogger)
	first := &fakeProviderClient{provider: model.ProviderDropbox}
	second := &fakeProviderClient{provider: model.ProviderDropbox}

	r.Register(first)
	r.Register(second)

	client, err := r.Client(model.ProviderDropbox)
	require.NoError(t, err)
	assert.Same(t, second, client)
	assert.Len(t, r.Providers(), 1)
}

func TestProviderRegistry_Unregistered(t *testing.T) {
	r := NewProviderRegistry(testLogger)

	_, err := r.Client(model.ProviderGoogleDrive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrProviderNotConfigured))
	assert.Equal(t, ReasonProviderNotRegistered, kerrors.Reason(err))
	assert.True(t, kerrors.IsNotFound(err))

	assert.Equal(t, model.ErrorKindProviderNotConfigured, NewErrorClassifier().Classify(model.ProviderGoogleDrive, err))
}
