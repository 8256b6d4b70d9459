package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

func TestEmbedServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv, err := StartEmbedServer(ctx, t.TempDir(), "error")
	require.NoError(t, err)
	defer srv.Close()

	_, err = srv.Client().Put(ctx, "lanchat/k", "v")
	require.NoError(t, err)
	resp, err := srv.Client().Get(ctx, "lanchat/k")
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)
	assert.Equal(t, "v", string(resp.Kvs[0].Value))

	remote, err := GetRemoteEtcdClient([]string{srv.Endpoint()}, time.Second)
	require.NoError(t, err)
	defer remote.Close()
	resp, err = remote.Get(ctx, "lanchat/k")
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)
}

func TestRemoteClientNoEndpoints(t *testing.T) {
	_, err := GetRemoteEtcdClient(nil, 0)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}
