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

// Package router implements the transparent-security INT switch dataplane.
// Each packet traverses the same logical pipeline: a parser extracts the
// typed header stack, the ingress match-action engine decides between
// tagging the packet with INT, appending a hop record to existing INT,
// plain forwarding or dropping, and the deparser re-serializes the mutated
// header set back to wire bytes.
package router

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/ekmixon/transparent-security/pkg/log"
	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

const (
	// bufSize is the size of the packet buffers. Large enough for jumbo
	// frames.
	bufSize = 9000
)

type disposition int

const (
	pDiscard disposition = iota // Zero value, default.
	pForward
	pDone
)

// Packet aggregates a buffer and the ancillary metadata related to one
// packet: everything we need to pass around while processing it. The packet
// structures are pooled and recycled along with their buffers to avoid
// garbage collection on the packet path.
type Packet struct {
	// RawPacket is the useful part of the raw packet at a point in time
	// (i.e. a slice of the full buffer).
	RawPacket []byte
	// buffer is the entire packet buffer.
	buffer *[bufSize]byte
	// Ingress is the port on which this packet arrived. Set by the
	// receiver.
	Ingress uint16
	// egress is the port on which this packet must leave. Set by the
	// processing routine.
	egress uint16
	// mirror indicates that an independent copy of this packet must also be
	// delivered to the mirror port. Set by the processing routine.
	mirror bool
}

// init configures the given blank packet (and returns it, for convenience).
func (p *Packet) init(buffer *[bufSize]byte) *Packet {
	p.buffer = buffer
	p.RawPacket = p.buffer[:]
	return p
}

// Reset makes the packet ready to receive a new message.
func (p *Packet) Reset() {
	*p = Packet{
		buffer:    p.buffer,    // keep the buffer
		RawPacket: p.buffer[:], // restore the full packet capacity
	}
}

// ForwardMode selects the Phase-D forwarding pipeline.
type ForwardMode int

const (
	// ForwardModeLearn is the MAC-learning pipeline: dst-MAC exact match
	// with uplink default and learning digests.
	ForwardModeLearn ForwardMode = iota
	// ForwardModeRoute is the simplified pipeline: longest-prefix-match
	// IPv4 forwarding with a mirror copy of inspected packets.
	ForwardModeRoute
)

// OverflowPolicy decides what happens when a hop record must be pushed onto
// a full metadata stack.
type OverflowPolicy int

const (
	// OverflowDropOldest drops the oldest record to make room.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowReject refuses to record the hop and leaves the stack as is.
	OverflowReject
)

// DataPlane contains the INT switch's packet processing logic. It reads
// packets from the port connections, runs them through the ingress pipeline
// and sends them out on the port chosen by the forwarding decision. All
// tables are consulted through consistent snapshots; table contents are
// mutated only by the control-plane API.
type DataPlane struct {
	switchID   uint32
	uplinkPort uint16
	mirrorPort uint16
	intPort    uint16
	maxHops    uint8
	domainID   uint16
	stackDepth int
	overflow   OverflowPolicy
	mode       ForwardMode

	dataInspection *table[macAddr, uint32]
	addSwitchID    *table[uint16, uint32]
	dropBlocklist  *table[dropKey, struct{}]
	dataForward    *table[macAddr, uint16]
	srcLearned     *table[macAddr, uint16]
	routes         *lpmTable[uint16]

	links   map[uint16]Link
	digests chan Digest
	Metrics *Metrics

	mtx     sync.Mutex
	running atomic.Bool
}

var (
	alreadySet     = errors.New("already set")
	emptyValue     = errors.New("empty value")
	modifyExisting = errors.New("modifying a running dataplane is not allowed")

	theMetrics = NewMetrics() // There can be only one.
)

// RunConfig are the packet processing knobs of the dataplane.
type RunConfig struct {
	SwitchID       uint32
	UplinkPort     uint16
	MirrorPort     uint16
	IntPort        uint16
	MaxHops        uint8
	DomainID       uint16
	MetaStackDepth int
	Overflow       OverflowPolicy
	Mode           ForwardMode
	DigestQueue    int
}

// NewDataPlane returns a dataplane with empty tables and no ports. Ports
// are added before Run; tables may be populated at any time.
func NewDataPlane(cfg RunConfig) *DataPlane {
	if cfg.MetaStackDepth == 0 {
		cfg.MetaStackDepth = defaultMetaStackDepth
	}
	if cfg.MaxHops == 0 {
		cfg.MaxHops = defaultMaxHops
	}
	if cfg.DigestQueue == 0 {
		cfg.DigestQueue = defaultDigestQueue
	}
	if cfg.DomainID == 0 {
		cfg.DomainID = defaultDomainID
	}
	return &DataPlane{
		switchID:       cfg.SwitchID,
		domainID:       cfg.DomainID,
		uplinkPort:     cfg.UplinkPort,
		mirrorPort:     cfg.MirrorPort,
		intPort:        cfg.IntPort,
		maxHops:        cfg.MaxHops,
		stackDepth:     cfg.MetaStackDepth,
		overflow:       cfg.Overflow,
		mode:           cfg.Mode,
		dataInspection: newTable[macAddr, uint32](),
		addSwitchID:    newTable[uint16, uint32](),
		dropBlocklist:  newTable[dropKey, struct{}](),
		dataForward:    newTable[macAddr, uint16](),
		srcLearned:     newTable[macAddr, uint16](),
		routes:         newLPMTable[uint16](),
		links:          make(map[uint16]Link),
		digests:        make(chan Digest, cfg.DigestQueue),
		Metrics:        theMetrics,
	}
}

const (
	defaultMetaStackDepth = 3
	defaultMaxHops        = 3
	defaultDigestQueue    = 256
	defaultDomainID       = 0x5453
)

func (d *DataPlane) setRunning() {
	d.running.Store(true)
}

func (d *DataPlane) setStopping() {
	d.running.Store(false)
}

func (d *DataPlane) isRunning() bool {
	return d.running.Load()
}

// AddPort binds the given connection to the given port number. This can
// only be called on a not yet running dataplane.
func (d *DataPlane) AddPort(port uint16, conn BatchConn) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.isRunning() {
		return modifyExisting
	}
	if conn == nil {
		return emptyValue
	}
	if _, exists := d.links[port]; exists {
		return serrors.Join(alreadySet, nil, "port", port)
	}
	d.links[port] = newLink(port, conn)
	return nil
}

// Shutdown causes the dataplane to stop accepting packets and then
// terminate. There is no mechanism to restart it.
func (d *DataPlane) Shutdown() {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.setStopping()
	for _, l := range d.links {
		l.Close()
	}
}

// Digests returns the channel on which learning and ARP digests are
// delivered. Digests are fire-and-forget: when the channel is full they are
// dropped and counted.
func (d *DataPlane) Digests() <-chan Digest {
	return d.digests
}

func (d *DataPlane) sendDigest(dg Digest) {
	select {
	case d.digests <- dg:
		d.Metrics.Digests.WithLabelValues(dg.Kind.String()).Inc()
	default:
		d.Metrics.DigestsDropped.Inc()
	}
}

// Run starts the receive, process and forward routines for every port and
// blocks until ctx is done.
func (d *DataPlane) Run(ctx context.Context) error {
	d.mtx.Lock()
	if len(d.links) == 0 {
		d.mtx.Unlock()
		return serrors.New("no ports configured")
	}
	d.initPacketPool()
	d.setRunning()
	for _, l := range d.links {
		go func(l Link) {
			defer log.HandlePanic()
			d.runForwarder(l)
		}(l)
		go func(l Link) {
			defer log.HandlePanic()
			d.runReceiver(l)
		}(l)
	}
	d.mtx.Unlock()
	<-ctx.Done()
	d.Shutdown()
	return nil
}

// The pool that stores all the packet buffers. Packet structs are fetched
// from the pool, passed around through the various channels and returned to
// the pool.
var packetPool chan *Packet
var packetPoolOnce sync.Once

func (d *DataPlane) initPacketPool() {
	packetPoolOnce.Do(func() {
		poolSize := len(d.links) * 4 * batchSize
		if poolSize < 64 {
			poolSize = 64
		}
		log.Debug("Initialize packet pool of size", "poolSize", poolSize)
		packetPool = make(chan *Packet, poolSize)
		pktBuffers := make([][bufSize]byte, poolSize)
		pktStructs := make([]Packet, poolSize)
		for i := 0; i < poolSize; i++ {
			packetPool <- pktStructs[i].init(&pktBuffers[i])
		}
	})
}

func getPacketFromPool() *Packet {
	return <-packetPool
}

func returnPacketToPool(pkt *Packet) {
	packetPool <- pkt
}

// runReceiver reads packets from one port and runs them through the
// pipeline. Packets are processed independently; the processor and its
// scratch state are reused across packets, never shared across ports.
func (d *DataPlane) runReceiver(l Link) {
	log.Debug("Initialize receiver for", "port", l.Port())
	processor := newPacketProcessor(d)
	for d.isRunning() {
		pkt := getPacketFromPool()
		pkt.Reset()
		n, err := l.Receive(pkt.RawPacket)
		if err != nil {
			returnPacketToPool(pkt)
			if d.isRunning() {
				log.Debug("Error receiving packet", "port", l.Port(), "err", err)
			}
			continue
		}
		pkt.RawPacket = pkt.RawPacket[:n]
		pkt.Ingress = l.Port()
		d.Metrics.InputPackets.WithLabelValues(portLabel(pkt.Ingress)).Inc()

		disp := processor.processPkt(pkt)
		switch disp {
		case pForward:
			d.forward(pkt)
		case pDone:
			returnPacketToPool(pkt)
		case pDiscard:
			returnPacketToPool(pkt)
		default:
			log.Debug("Unknown packet disposition", "disp", disp)
			returnPacketToPool(pkt)
		}
	}
}

// forward hands the processed packet to the egress link, and, when the
// processor requested it, delivers an independent copy to the mirror port
// (duplicate-and-fork; no ordering guarantee between the two copies).
func (d *DataPlane) forward(pkt *Packet) {
	if pkt.mirror && d.mirrorPort != pkt.Ingress {
		if ml, ok := d.links[d.mirrorPort]; ok {
			mp := getPacketFromPool()
			mp.Reset()
			mp.RawPacket = mp.buffer[:len(pkt.RawPacket)]
			copy(mp.RawPacket, pkt.RawPacket)
			mp.Ingress = pkt.Ingress
			mp.egress = d.mirrorPort
			if !ml.Send(mp) {
				returnPacketToPool(mp)
				d.Metrics.DroppedPackets.WithLabelValues(droppedBusy).Inc()
			}
		}
	}
	fwLink, ok := d.links[pkt.egress]
	if !ok {
		log.Debug("Error determining forwarder. Egress is invalid", "egress", pkt.egress)
		d.Metrics.DroppedPackets.WithLabelValues(droppedNoEgress).Inc()
		returnPacketToPool(pkt)
		return
	}
	if !fwLink.Send(pkt) {
		returnPacketToPool(pkt)
		d.Metrics.DroppedPackets.WithLabelValues(droppedBusy).Inc()
	}
}

// runForwarder drains one port's egress queue. The egress stage performs no
// telemetry logic; it is a pass-through placeholder for
// extraction-at-last-hop processing.
func (d *DataPlane) runForwarder(l Link) {
	log.Debug("Initialize forwarder for", "port", l.Port())
	for pkt := range l.Queue() {
		if err := l.Deliver(pkt.RawPacket); err != nil {
			if d.isRunning() {
				log.Debug("Error sending packet", "port", l.Port(), "err", err)
			}
			d.Metrics.DroppedPackets.WithLabelValues(droppedSend).Inc()
		} else {
			d.Metrics.OutputPackets.WithLabelValues(portLabel(l.Port())).Inc()
		}
		returnPacketToPool(pkt)
	}
}

// Control-plane table API. Tables may be updated while the dataplane is
// running; lookups within one packet see a consistent snapshot of each
// table's last installed state.

// AddInspectionEntry installs a data_inspection entry: packets whose source
// MAC matches are tagged with INT, recording the given switch id in the
// first hop slot. A zero switch id means this switch's own.
func (d *DataPlane) AddInspectionEntry(mac net.HardwareAddr, switchID uint32) error {
	k, err := macKey(mac)
	if err != nil {
		return err
	}
	if switchID == 0 {
		switchID = d.switchID
	}
	d.dataInspection.Insert(k, switchID)
	return nil
}

// DelInspectionEntry removes a data_inspection entry.
func (d *DataPlane) DelInspectionEntry(mac net.HardwareAddr) error {
	k, err := macKey(mac)
	if err != nil {
		return err
	}
	d.dataInspection.Delete(k)
	return nil
}

// AddHopEntry installs an add_switch_id entry keyed on the outer UDP
// destination port. A zero switch id means this switch's own.
func (d *DataPlane) AddHopEntry(dstPort uint16, switchID uint32) error {
	if switchID == 0 {
		switchID = d.switchID
	}
	d.addSwitchID.Insert(dstPort, switchID)
	return nil
}

// AddBlockEntry installs an exact-match drop entry. Matching packets are
// dropped and counted.
func (d *DataPlane) AddBlockEntry(mac net.HardwareAddr, v4, v6 netip.Addr,
	dstPort uint16) error {

	k, err := dropKeyOf(mac, v4, v6, dstPort)
	if err != nil {
		return err
	}
	d.dropBlocklist.Insert(k, struct{}{})
	return nil
}

// DelBlockEntry removes an exact-match drop entry.
func (d *DataPlane) DelBlockEntry(mac net.HardwareAddr, v4, v6 netip.Addr,
	dstPort uint16) error {

	k, err := dropKeyOf(mac, v4, v6, dstPort)
	if err != nil {
		return err
	}
	d.dropBlocklist.Delete(k)
	return nil
}

// AddForwardEntry installs a data_forward entry binding a destination MAC
// to an egress port.
func (d *DataPlane) AddForwardEntry(mac net.HardwareAddr, port uint16) error {
	k, err := macKey(mac)
	if err != nil {
		return err
	}
	d.dataForward.Insert(k, port)
	return nil
}

// SetLearnedPort records the port a source MAC was learned on. Normally
// installed by the control plane in response to a learning digest.
func (d *DataPlane) SetLearnedPort(mac net.HardwareAddr, port uint16) error {
	k, err := macKey(mac)
	if err != nil {
		return err
	}
	d.srcLearned.Insert(k, port)
	return nil
}

// AddRouteEntry installs a longest-prefix-match IPv4 route used by the
// route forwarding mode.
func (d *DataPlane) AddRouteEntry(prefix netip.Prefix, port uint16) error {
	if !prefix.IsValid() {
		return emptyValue
	}
	d.routes.Insert(prefix, port)
	return nil
}
