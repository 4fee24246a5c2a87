package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse/proto"
)

// ============================================================================
// PulseAudio connection
// ============================================================================
//
// PulseServer implements AudioServer over the PulseAudio native protocol.
//
//   - Connect() returns at once; a goroutine dials, names the client and
//     reports Connecting -> Authenticating -> Ready (or Failed).
//   - Requests run on one worker goroutine per connection, in issue order,
//     so replies for a device are observed in the order they were asked for.
//   - Subscription pushes and the server closing the socket arrive on the
//     protocol client's callback.
//   - A heartbeat pings the server and reports Failed when a request stalls
//     or the socket dies.
//   - Every connection carries a generation. Events from an older generation
//     are dropped, so a torn-down connection never reaches the reducer.
//
// ============================================================================

var (
	errNoServer      = errors.New("no audio server configured")
	errNotConnected  = errors.New("not connected to audio server")
	errQueueFull     = errors.New("audio server request queue full")
	errAlreadyActive = errors.New("connection attempt already active")
)

// PulseConfig configures a PulseServer.
type PulseConfig struct {
	// Server is the server address; empty uses the PulseAudio defaults
	// ($PULSE_SERVER, then the user runtime socket).
	Server     string
	ClientName string

	Heartbeat time.Duration
	// StallTimeout fails the connection when one request takes longer.
	StallTimeout time.Duration
	QueueSize    int
}

type PulseServer struct {
	cfg    PulseConfig
	post   func(Event)
	logger *slog.Logger

	mu      sync.Mutex
	gen     uint64
	conn    *pulseConn
	dialing bool
}

type pulseConn struct {
	gen     uint64
	client  *proto.Client
	netConn net.Conn

	queue chan pulseRequest
	done  chan struct{}
	once  sync.Once

	// busySince is the UnixNano start time of the running request, 0 when idle.
	busySince atomic.Int64
}

type pulseRequest struct {
	name string
	run  func(c *proto.Client) error
	// onErr reports a failed request to the reducer.
	onErr func(err error)
}

// NewPulseServer creates the connection. post delivers events to the daemon loop.
func NewPulseServer(cfg PulseConfig, post func(Event), logger *slog.Logger) *PulseServer {
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultRequestQueueSize
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = time.Duration(defaultHeartbeatMS) * time.Millisecond
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 3 * cfg.Heartbeat
	}
	return &PulseServer{
		cfg:    cfg,
		post:   post,
		logger: logger,
	}
}

// emit posts ev only if gen is still the current connection generation.
func (p *PulseServer) emit(gen uint64, ev Event) {
	p.mu.Lock()
	current := gen == p.gen
	p.mu.Unlock()
	if !current {
		return
	}
	p.post(ev)
}

func (p *PulseServer) Connect() error {
	p.mu.Lock()
	if p.conn != nil || p.dialing {
		p.mu.Unlock()
		return errAlreadyActive
	}
	p.gen++
	gen := p.gen
	p.dialing = true
	p.mu.Unlock()

	go p.dial(gen)
	return nil
}

func (p *PulseServer) dial(gen uint64) {
	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.dialing = false
		}
		p.mu.Unlock()
	}()

	p.emit(gen, ConnStateChanged{State: ConnConnecting})

	client, netConn, err := openPulseClient(p.cfg.Server, p.callback(gen))
	if err != nil {
		p.emit(gen, ConnStateChanged{State: ConnFailed, Err: fmt.Errorf("connect: %w", err)})
		return
	}

	pc := &pulseConn{
		gen:     gen,
		client:  client,
		netConn: netConn,
		queue:   make(chan pulseRequest, p.cfg.QueueSize),
		done:    make(chan struct{}),
	}

	p.emit(gen, ConnStateChanged{State: ConnAuthenticating})

	props := proto.PropList{
		"application.name": proto.PropListString(p.cfg.ClientName),
	}
	if err := client.Request(&proto.SetClientName{Props: props}, &proto.SetClientNameReply{}); err != nil {
		_ = netConn.Close()
		p.emit(gen, ConnStateChanged{State: ConnFailed, Err: fmt.Errorf("set client name: %w", err)})
		return
	}

	p.mu.Lock()
	if p.gen != gen {
		// Disconnect() ran while we were dialing.
		p.mu.Unlock()
		_ = netConn.Close()
		return
	}
	p.conn = pc
	p.dialing = false
	p.mu.Unlock()

	go p.worker(pc)
	go p.heartbeat(pc)

	p.logger.Info("connected to audio server", "server", p.cfg.Server)
	p.emit(gen, ConnStateChanged{State: ConnReady})
}

// callback receives pushes from the protocol read loop. It is installed
// before the loop starts.
func (p *PulseServer) callback(gen uint64) func(interface{}) {
	return func(msg interface{}) {
		switch m := msg.(type) {
		case *proto.SubscribeEvent:
			p.emit(gen, decodeSubscriptionEvent(m.Event, m.Index))
		case *proto.ConnectionClosed:
			p.connectionClosed(gen)
		}
	}
}

// connectionClosed handles the server closing the socket. While still
// dialing, the pending request fails instead.
func (p *PulseServer) connectionClosed(gen uint64) {
	p.mu.Lock()
	pc := p.conn
	p.mu.Unlock()
	if pc == nil || pc.gen != gen {
		return
	}
	p.fail(pc, io.EOF)
}

// Disconnect closes the connection on purpose. Late callbacks of the old
// connection are dropped; the caller reports Terminated.
func (p *PulseServer) Disconnect() {
	p.mu.Lock()
	pc := p.conn
	p.conn = nil
	p.dialing = false
	p.gen++
	p.mu.Unlock()

	if pc != nil {
		pc.close()
		p.logger.Info("disconnected from audio server")
	}
}

func (pc *pulseConn) close() {
	pc.once.Do(func() {
		close(pc.done)
		_ = pc.netConn.Close()
	})
}

// fail tears down pc after a transport error and reports Failed.
// Only the first caller for a connection reports.
func (p *PulseServer) fail(pc *pulseConn, err error) {
	p.mu.Lock()
	if p.conn != pc {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.mu.Unlock()

	pc.close()
	p.logger.Warn("audio server connection lost", "error", err)
	p.emit(pc.gen, ConnStateChanged{State: ConnFailed, Err: err})
}

func (p *PulseServer) worker(pc *pulseConn) {
	for {
		select {
		case <-pc.done:
			return
		case req := <-pc.queue:
			pc.busySince.Store(time.Now().UnixNano())
			err := req.run(pc.client)
			pc.busySince.Store(0)

			if err == nil {
				continue
			}
			if req.onErr != nil {
				req.onErr(err)
			}
			if isTransportError(err) {
				p.fail(pc, fmt.Errorf("%s: %w", req.name, err))
				return
			}
			p.logger.Debug("audio server request failed", "request", req.name, "error", err)
		}
	}
}

func (p *PulseServer) heartbeat(pc *pulseConn) {
	ticker := time.NewTicker(p.cfg.Heartbeat)
	defer ticker.Stop()

	ping := pulseRequest{
		name: "heartbeat",
		run: func(c *proto.Client) error {
			return c.Request(&proto.GetServerInfo{}, &proto.GetServerInfoReply{})
		},
	}

	for {
		select {
		case <-pc.done:
			return
		case now := <-ticker.C:
			if since := pc.busySince.Load(); since != 0 && now.Sub(time.Unix(0, since)) > p.cfg.StallTimeout {
				p.fail(pc, fmt.Errorf("request stalled for more than %s", p.cfg.StallTimeout))
				return
			}
			select {
			case pc.queue <- ping:
			default:
				// Queue busy; the stall check covers a hung server.
			}
		}
	}
}

// isTransportError reports whether err means the connection itself is gone,
// as opposed to the server rejecting one request.
func isTransportError(err error) bool {
	var perr proto.Error
	return !errors.As(err, &perr)
}

// issue queues a request on the current connection without blocking.
func (p *PulseServer) issue(req pulseRequest) error {
	p.mu.Lock()
	pc := p.conn
	p.mu.Unlock()
	if pc == nil {
		return errNotConnected
	}

	select {
	case <-pc.done:
		return errNotConnected
	default:
	}

	select {
	case pc.queue <- req:
		return nil
	default:
		return errQueueFull
	}
}

// currentGen returns the generation request results are tagged with.
func (p *PulseServer) currentGen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

func (p *PulseServer) queryFailed(gen uint64, name string) func(error) {
	return func(err error) { p.emit(gen, QueryFailed{Query: name, Err: err}) }
}

func (p *PulseServer) Subscribe() error {
	gen := p.currentGen()
	mask := proto.SubscriptionMaskSink | proto.SubscriptionMaskSource | proto.SubscriptionMaskServer
	return p.issue(pulseRequest{
		name: "subscribe",
		run: func(c *proto.Client) error {
			return c.Request(&proto.Subscribe{Mask: mask}, nil)
		},
		onErr: p.queryFailed(gen, "subscribe"),
	})
}

func (p *PulseServer) GetServerInfo() error {
	gen := p.currentGen()
	return p.issue(pulseRequest{
		name: "server_info",
		run: func(c *proto.Client) error {
			var reply proto.GetServerInfoReply
			if err := c.Request(&proto.GetServerInfo{}, &reply); err != nil {
				return err
			}
			p.emit(gen, ServerInfoObserved{
				DefaultSinkName:   reply.DefaultSinkName,
				DefaultSourceName: reply.DefaultSourceName,
			})
			return nil
		},
		onErr: p.queryFailed(gen, "server_info"),
	})
}

func (p *PulseServer) GetSinkByName(name string, reason QueryReason) error {
	return p.getSink(pulseInvalidIndex, name, reason)
}

func (p *PulseServer) GetSinkByIndex(index DeviceIndex, reason QueryReason) error {
	return p.getSink(uint32(index), "", reason)
}

func (p *PulseServer) getSink(index uint32, name string, reason QueryReason) error {
	gen := p.currentGen()
	return p.issue(pulseRequest{
		name: "sink_info",
		run: func(c *proto.Client) error {
			var reply proto.GetSinkInfoReply
			if err := c.Request(&proto.GetSinkInfo{SinkIndex: index, SinkName: name}, &reply); err != nil {
				return err
			}
			p.emit(gen, SinkObserved{Reason: reason, Info: sinkInfo(&reply)})
			return nil
		},
		onErr: p.queryFailed(gen, "sink_info"),
	})
}

func (p *PulseServer) ListSinks() error {
	gen := p.currentGen()
	return p.issue(pulseRequest{
		name: "sink_list",
		run: func(c *proto.Client) error {
			var reply proto.GetSinkInfoListReply
			if err := c.Request(&proto.GetSinkInfoList{}, &reply); err != nil {
				return err
			}
			infos := make([]DeviceInfo, 0, len(reply))
			for _, r := range reply {
				if r != nil {
					infos = append(infos, sinkInfo(r))
				}
			}
			p.emit(gen, SinkListObserved{Infos: infos})
			return nil
		},
		onErr: p.queryFailed(gen, "sink_list"),
	})
}

func (p *PulseServer) GetSourceByName(name string, reason QueryReason) error {
	return p.getSource(pulseInvalidIndex, name, reason)
}

func (p *PulseServer) GetSourceByIndex(index DeviceIndex, reason QueryReason) error {
	return p.getSource(uint32(index), "", reason)
}

func (p *PulseServer) getSource(index uint32, name string, reason QueryReason) error {
	gen := p.currentGen()
	return p.issue(pulseRequest{
		name: "source_info",
		run: func(c *proto.Client) error {
			var reply proto.GetSourceInfoReply
			if err := c.Request(&proto.GetSourceInfo{SourceIndex: index, SourceName: name}, &reply); err != nil {
				return err
			}
			p.emit(gen, SourceObserved{Reason: reason, Info: sourceInfo(&reply)})
			return nil
		},
		onErr: p.queryFailed(gen, "source_info"),
	})
}

func (p *PulseServer) ListSources() error {
	gen := p.currentGen()
	return p.issue(pulseRequest{
		name: "source_list",
		run: func(c *proto.Client) error {
			var reply proto.GetSourceInfoListReply
			if err := c.Request(&proto.GetSourceInfoList{}, &reply); err != nil {
				return err
			}
			infos := make([]DeviceInfo, 0, len(reply))
			for _, r := range reply {
				if r != nil {
					infos = append(infos, sourceInfo(r))
				}
			}
			p.emit(gen, SourceListObserved{Infos: infos})
			return nil
		},
		onErr: p.queryFailed(gen, "source_list"),
	})
}

func (p *PulseServer) SetSinkVolume(index DeviceIndex, volumes []uint32) error {
	vols := proto.ChannelVolumes(copyVolumes(volumes))
	return p.operation(OpSetSinkVolume, index, func(c *proto.Client) error {
		return c.Request(&proto.SetSinkVolume{SinkIndex: uint32(index), ChannelVolumes: vols}, nil)
	})
}

func (p *PulseServer) SetSinkMute(index DeviceIndex, mute bool) error {
	return p.operation(OpSetSinkMute, index, func(c *proto.Client) error {
		return c.Request(&proto.SetSinkMute{SinkIndex: uint32(index), Mute: mute}, nil)
	})
}

func (p *PulseServer) SetSourceMute(index DeviceIndex, mute bool) error {
	return p.operation(OpSetSourceMute, index, func(c *proto.Client) error {
		return c.Request(&proto.SetSourceMute{SourceIndex: uint32(index), Mute: mute}, nil)
	})
}

// operation queues a mutating request and reports its completion either way.
func (p *PulseServer) operation(op Operation, index DeviceIndex, run func(c *proto.Client) error) error {
	gen := p.currentGen()
	return p.issue(pulseRequest{
		name: op.String(),
		run: func(c *proto.Client) error {
			if err := run(c); err != nil {
				return err
			}
			p.emit(gen, OperationCompleted{Op: op, Index: index, Success: true})
			return nil
		},
		onErr: func(err error) {
			p.emit(gen, OperationCompleted{Op: op, Index: index, Success: false, Err: err})
		},
	})
}

func sinkInfo(r *proto.GetSinkInfoReply) DeviceInfo {
	return DeviceInfo{
		Index:   DeviceIndex(r.SinkIndex),
		Name:    r.SinkName,
		Volumes: copyVolumes([]uint32(r.ChannelVolumes)),
		Mute:    r.Mute,
	}
}

func sourceInfo(r *proto.GetSourceInfoReply) DeviceInfo {
	return DeviceInfo{
		Index:   DeviceIndex(r.SourceIndex),
		Name:    r.SourceName,
		Volumes: copyVolumes([]uint32(r.ChannelVolumes)),
		Mute:    r.Mute,
	}
}
