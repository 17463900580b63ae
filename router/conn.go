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
	"net"
	"net/netip"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

const (
	// batchSize is the number of packets processed in a single batch call.
	batchSize = 64
	// queueSize is the number of packets a link's egress queue can hold
	// before Send starts rejecting.
	queueSize = 256
)

// BatchConn is a connection that supports batch reads and writes. Each
// dataplane port owns one. The production implementation is a connected
// UDP socket; tests substitute in-memory fakes.
type BatchConn interface {
	ReadBatch([]ipv4.Message) (int, error)
	WriteBatch([]ipv4.Message, int) (int, error)
	Close() error
}

// Link represents one switch port: a connection plus the egress queue its
// forwarder drains. Links are point-to-point; the neighbor is fixed at
// connection time.
type Link interface {
	Port() uint16
	// Receive blocks for the next packet and copies it into buf.
	Receive(buf []byte) (int, error)
	// Send enqueues the packet for egress. It never blocks; it returns
	// false if the queue is full or the link is closed.
	Send(pkt *Packet) bool
	// Queue is drained by the link's forwarder.
	Queue() <-chan *Packet
	// Deliver writes one raw packet to the connection.
	Deliver(raw []byte) error
	Close()
}

type link struct {
	port      uint16
	conn      BatchConn
	queue     chan *Packet
	closed    atomic.Bool
	readMsgs  []ipv4.Message
	writeMsgs []ipv4.Message
}

func newLink(port uint16, conn BatchConn) *link {
	return &link{
		port:      port,
		conn:      conn,
		queue:     make(chan *Packet, queueSize),
		readMsgs:  underlayMessages(1),
		writeMsgs: underlayMessages(1),
	}
}

func underlayMessages(n int) []ipv4.Message {
	msgs := make([]ipv4.Message, n)
	for i := range msgs {
		msgs[i].Buffers = make([][]byte, 1)
	}
	return msgs
}

func (l *link) Port() uint16 {
	return l.port
}

func (l *link) Receive(buf []byte) (int, error) {
	l.readMsgs[0].Buffers[0] = buf
	n, err := l.conn.ReadBatch(l.readMsgs)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, serrors.New("empty read batch")
	}
	return l.readMsgs[0].N, nil
}

func (l *link) Send(pkt *Packet) bool {
	if l.closed.Load() {
		return false
	}
	select {
	case l.queue <- pkt:
		return true
	default:
		return false
	}
}

func (l *link) Queue() <-chan *Packet {
	return l.queue
}

func (l *link) Deliver(raw []byte) error {
	l.writeMsgs[0].Buffers[0] = raw
	_, err := l.conn.WriteBatch(l.writeMsgs, 0)
	return err
}

func (l *link) Close() {
	if l.closed.Swap(true) {
		return
	}
	l.conn.Close()
	close(l.queue)
}

// udpConn is a BatchConn over a connected UDP socket. Frames travel as UDP
// payloads between switch ports; this is the packet-over-UDP underlay used
// when the switch is not attached to raw interfaces.
type udpConn struct {
	pconn *ipv4.PacketConn
	conn  *net.UDPConn
}

// OpenUDP opens a connected UDP socket between the local and remote
// endpoint of a link and wraps it for batch I/O.
func OpenUDP(local, remote netip.AddrPort) (BatchConn, error) {
	if !local.IsValid() {
		return nil, serrors.New("invalid local address")
	}
	laddr := net.UDPAddrFromAddrPort(local)
	var c *net.UDPConn
	var err error
	if remote.IsValid() {
		c, err = net.DialUDP("udp4", laddr, net.UDPAddrFromAddrPort(remote))
	} else {
		// Receive-only port.
		c, err = net.ListenUDP("udp4", laddr)
	}
	if err != nil {
		return nil, serrors.Join(err, nil, "local", local, "remote", remote)
	}
	return &udpConn{pconn: ipv4.NewPacketConn(c), conn: c}, nil
}

func (c *udpConn) ReadBatch(msgs []ipv4.Message) (int, error) {
	return c.pconn.ReadBatch(msgs, 0)
}

func (c *udpConn) WriteBatch(msgs []ipv4.Message, flags int) (int, error) {
	return c.pconn.WriteBatch(msgs, flags)
}

func (c *udpConn) Close() error {
	return c.conn.Close()
}
