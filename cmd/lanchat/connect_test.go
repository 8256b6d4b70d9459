package main

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/lanchat-go/internal/hub"
	"github.com/lk2023060901/lanchat-go/internal/network/acceptor"
	"github.com/lk2023060901/lanchat-go/internal/network/connector"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

func startHub(t *testing.T, variant string) string {
	t.Helper()
	f, err := hub.Preset(variant)
	require.NoError(t, err)
	h := hub.New(hub.Config{Features: f}, nil, nil)
	acc := acceptor.NewBaseAcceptor(acceptor.Config{}, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, acc.Listen(ctx, "127.0.0.1:0"))
	go func() { _ = acc.Serve(ctx) }()
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer scancel()
		_ = acc.Shutdown(sctx)
		cancel()
		_ = h.Close(time.Second)
	})
	return acc.Addr().String()
}

func TestRunConnect(t *testing.T) {
	addr := startHub(t, hub.VariantBasic)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- runConnect(context.Background(), addr, connector.Config{}, inR, outW)
		_ = outW.Close()
	}()

	lines := bufio.NewScanner(outR)
	next := func() string {
		require.True(t, lines.Scan())
		return lines.Text()
	}

	_, err := io.WriteString(inW, "alice\n")
	require.NoError(t, err)
	assert.Equal(t, "Welcome to the chat room, alice!", next())

	_, err = io.WriteString(inW, "/quit\n")
	require.NoError(t, err)
	assert.Equal(t, hub.NoticeGoodbye, next())

	// hub 断开后 runConnect 返回。
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		require.FailNow(t, "runConnect did not return")
	}
	_ = inW.Close()
}

func TestRunConnectCanceled(t *testing.T) {
	addr := startHub(t, hub.VariantBasic)

	inR, inW := io.Pipe()
	defer inW.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runConnect(ctx, addr, connector.Config{}, inR, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		require.FailNow(t, "runConnect ignored cancellation")
	}
}

func TestRunConnectDialFailure(t *testing.T) {
	err := runConnect(context.Background(), "127.0.0.1:1", connector.Config{DialTimeout: time.Second}, nil, io.Discard)
	assert.ErrorIs(t, err, merr.ErrTransport)
}
