//nolint:all
package server_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andrei-cloud/anet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrei-cloud/go_optiga/internal/bootstrap"
	"github.com/andrei-cloud/go_optiga/internal/chip"
	"github.com/andrei-cloud/go_optiga/internal/config"
	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	server "github.com/andrei-cloud/go_optiga/internal/server"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

const testAddr = "127.0.0.1:1601"

// startTestServer starts a chip server for testing.
func startTestServer(t *testing.T, addr string) *server.Server {
	t.Helper()
	c, err := chip.New()
	if err != nil {
		t.Fatalf("failed to create chip: %v", err)
	}

	srv, err := server.NewServer(addr, c)
	if err != nil {
		t.Fatalf("failed to initialize server: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("server start error: %v", err)
		}
	case <-time.After(1 * time.Second):
		// Allow some time for the server to start
	}

	time.Sleep(100 * time.Millisecond)

	return srv
}

type sender interface {
	SendContext(ctx context.Context, req *[]byte) ([]byte, error)
}

func newBroker(t *testing.T, addr string) sender {
	t.Helper()

	factory := func(addr string) (anet.PoolItem, error) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err != nil {
			return nil, err
		}

		if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
			conn.Close()

			return nil, err
		}

		return conn, nil
	}

	pool := anet.NewPool(1, factory, addr, nil)
	t.Cleanup(func() { pool.Close() })

	broker := anet.NewBroker([]anet.Pool{pool}, 1, nil, nil)
	go broker.Start()
	t.Cleanup(func() { broker.Close() })

	return broker
}

func send(t *testing.T, b sender, seq uint32, cmd apdu.Command) apdu.Response {
	t.Helper()

	req := apdu.Seal(0, seq, cmd.Bytes(), nil).Bytes()
	resp, err := b.SendContext(context.Background(), &req)
	require.NoError(t, err)

	f, err := apdu.ParseFrame(resp)
	require.NoError(t, err)
	assert.Equal(t, seq, f.Seq)
	r, err := apdu.ParseResponse(f.Payload)
	require.NoError(t, err)

	return r
}

// TestReadCoprocessorUID opens the application and reads a data object over TCP.
func TestReadCoprocessorUID(t *testing.T) {
	srv := startTestServer(t, testAddr)
	defer srv.Stop()

	b := newBroker(t, testAddr)

	r := send(t, b, 1, apdu.NewCommand(apdu.CmdGetDataObject, chip.ParamReadData,
		apdu.Uint16(apdu.TagOID, chip.OIDCoprocessorUID)))
	assert.Equal(t, errorcodes.Err800B, r.Err())

	r = send(t, b, 2, apdu.NewCommand(apdu.CmdOpenApplication, chip.ParamOpenFresh))
	require.NoError(t, r.Err())

	r = send(t, b, 3, apdu.NewCommand(apdu.CmdGetDataObject, chip.ParamReadData,
		apdu.Uint16(apdu.TagOID, chip.OIDCoprocessorUID)))
	require.NoError(t, r.Err())
	fields, err := r.Fields()
	require.NoError(t, err)
	uid, ok := apdu.Lookup(fields, apdu.TagData)
	require.True(t, ok)
	assert.Len(t, uid, 27)

	assert.Equal(t, uint64(3), srv.Served())
}

// TestMalformedFrame verifies garbage still gets a well-formed failure response.
func TestMalformedFrame(t *testing.T) {
	const addr = "127.0.0.1:1602"
	srv := startTestServer(t, addr)
	defer srv.Stop()

	b := newBroker(t, addr)

	req := []byte{0x01}
	resp, err := b.SendContext(context.Background(), &req)
	require.NoError(t, err)

	f, err := apdu.ParseFrame(resp)
	require.NoError(t, err)
	r, err := apdu.ParseResponse(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, errorcodes.Err8004, r.Err())
}

func TestNewServerRejectsNilChip(t *testing.T) {
	_, err := server.NewServer(testAddr, nil)
	assert.Error(t, err)
}

// TestRemoteExamples runs examples through the driver's anet transport.
func TestRemoteExamples(t *testing.T) {
	const addr = "127.0.0.1:1603"
	srv := startTestServer(t, addr)
	defer srv.Stop()

	cfg := &config.Config{}
	cfg.Device.Mode = bootstrap.ModeRemote
	cfg.Device.Address = addr
	cfg.Driver.Timeout = 5 * time.Second
	cfg.Examples.ExclusiveInit = true
	cfg.Datastore.Path = filepath.Join(t.TempDir(), "datastore.yaml")

	var out bytes.Buffer
	env, err := bootstrap.New(cfg, &out)
	require.NoError(t, err)
	assert.Nil(t, env.Chip)

	ctx := context.Background()
	require.NoError(t, env.Runner.Init(ctx))
	require.NoError(t, env.Runner.Random(ctx))
	require.NoError(t, env.Runner.ECDSASign(ctx))
	require.NoError(t, env.Runner.Deinit(ctx))
	require.NoError(t, env.Close())

	assert.NotContains(t, out.String(), "Error [")
	assert.Greater(t, srv.Served(), uint64(4))
}

// TestRemoteConcurrentTransmit shares one pooled connection between callers.
func TestRemoteConcurrentTransmit(t *testing.T) {
	const addr = "127.0.0.1:1604"
	srv := startTestServer(t, addr)
	defer srv.Stop()

	r, err := optiga.DialRemote(addr, time.Second)
	require.NoError(t, err)
	defer r.Close()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(client uint32) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			cmd := apdu.NewCommand(apdu.CmdOpenApplication, chip.ParamOpenFresh)
			resp, err := r.Transmit(ctx, apdu.SealFor(client, 0, 1, cmd.Bytes(), nil).Bytes())
			if err != nil {
				errs <- err

				return
			}
			f, err := apdu.ParseFrame(resp)
			if err == nil && f.Client != client {
				err = errors.New("response for another client")
			}
			errs <- err
		}(uint32(i + 1))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(callers), srv.Served())
}
