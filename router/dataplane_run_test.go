// Copyright (c) 2019 Cable Television Laboratories, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/ipv4"

	"github.com/ekmixon/transparent-security/pkg/tpslayers"
)

// mockConn is an in-memory BatchConn. Frames written to in are read by the
// dataplane; frames the dataplane sends appear on out.
type mockConn struct {
	in        chan []byte
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		in:   make(chan []byte, 16),
		out:  make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *mockConn) ReadBatch(msgs []ipv4.Message) (int, error) {
	select {
	case raw := <-c.in:
		n := copy(msgs[0].Buffers[0], raw)
		msgs[0].N = n
		return 1, nil
	case <-c.done:
		return 0, errors.New("connection closed")
	}
}

func (c *mockConn) WriteBatch(msgs []ipv4.Message, _ int) (int, error) {
	raw := append([]byte{}, msgs[0].Buffers[0]...)
	select {
	case c.out <- raw:
	case <-c.done:
	}
	return 1, nil
}

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func TestRunTagsAndForwards(t *testing.T) {
	defer goleak.VerifyNone(t)

	dp := testDataPlane(RunConfig{})
	uplink := newMockConn()
	host := newMockConn()
	require.NoError(t, dp.AddPort(1, uplink))
	require.NoError(t, dp.AddPort(2, host))
	require.NoError(t, dp.AddInspectionEntry(hostMac, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, dp.Run(ctx))
	}()

	raw := tcpFrame(t, 443)
	host.in <- raw

	select {
	case out := <-uplink.out:
		assert.Equal(t, len(raw)+tpslayers.IntInsertOverhead, len(out))
		h := parseOut(t, out)
		assert.True(t, h.has(hdrIntShim))
		require.Len(t, h.meta.Hops, 1)
		assert.Equal(t, uint32(7), h.meta.Hops[0].SwitchID)
	case <-time.After(5 * time.Second):
		t.Fatal("no packet forwarded to the uplink")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dataplane did not shut down")
	}
}

func TestRunWithoutPorts(t *testing.T) {
	dp := testDataPlane(RunConfig{})
	assert.Error(t, dp.Run(context.Background()))
}

func TestAddPort(t *testing.T) {
	dp := testDataPlane(RunConfig{})
	conn := newMockConn()
	defer conn.Close()
	require.NoError(t, dp.AddPort(1, conn))
	assert.Error(t, dp.AddPort(1, newMockConn()))
	assert.Error(t, dp.AddPort(2, nil))
}
