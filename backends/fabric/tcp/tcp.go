// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tcp implements a fabric for ranks running in different processes (or machines).
//
// It uses a star topology: rank 0 runs a Hub (a gRPC service) at the rendezvous address, every rank
// (including rank 0) opens a bidirectional stream to it, and the hub routes the frames. Rendezvous
// follows the "env://" convention: MASTER_ADDR and MASTER_PORT locate the hub.
package tcp

import (
	"context"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomcrdl/gomcrdl/backends/fabric"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"
)

// Config of a rank connecting to the hub.
type Config struct {
	// Rank of this process and Size of the world.
	Rank, Size int

	// MasterAddr and MasterPort locate the hub.
	MasterAddr string
	MasterPort int

	// Timeout for the whole rendezvous: connecting and waiting for all ranks to connect.
	// If 0, it waits until the context given to Connect is done.
	Timeout time.Duration

	// HubGracePeriod is how long rank 0 waits for the other ranks to disconnect when closing.
	// Defaults to 5 seconds.
	HubGracePeriod time.Duration
}

// Fabric is the view of one rank of a world connected through a Hub.
type Fabric struct {
	config    Config
	hub       *Hub // Only for rank 0.
	conn      *grpc.ClientConn
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	sessionID string

	muSend  sync.Mutex
	boxes   *fabric.Mailboxes
	closed  atomic.Bool
	readErr atomic.Pointer[error]
}

var _ fabric.Fabric = (*Fabric)(nil)

// Connect this rank to the hub, starting the hub first if this is rank 0.
// It returns once all the ranks are connected.
func Connect(ctx context.Context, config Config) (f *Fabric, err error) {
	if config.Size <= 0 || config.Rank < 0 || config.Rank >= config.Size {
		return nil, errors.Errorf("tcp fabric: invalid rank %d for world size %d", config.Rank, config.Size)
	}
	if config.HubGracePeriod == 0 {
		config.HubGracePeriod = 5 * time.Second
	}
	address := net.JoinHostPort(config.MasterAddr, strconv.Itoa(config.MasterPort))
	f = &Fabric{config: config, boxes: fabric.NewMailboxes()}
	defer func() {
		if err != nil {
			_ = f.Close()
		}
	}()

	if config.Rank == 0 {
		f.hub, err = Listen(address, config.Size)
		if err != nil {
			return nil, err
		}
		address = f.hub.Addr()
	}

	f.conn, err = grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})))
	if err != nil {
		return nil, errors.Wrapf(err, "tcp fabric rank %d: failed to create client for hub at %s", config.Rank, address)
	}

	// The stream lives until Close, the rendezvous only until the timeout.
	var streamCtx context.Context
	streamCtx, f.cancel = context.WithCancel(context.Background())
	rendezvousCtx := ctx
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		rendezvousCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}
	stop := context.AfterFunc(rendezvousCtx, f.cancel)
	defer stop()

	// WaitForReady makes the stream creation retry until the hub is up or the rendezvous times out.
	f.stream, err = f.conn.NewStream(streamCtx, &connectStreamDesc, methodName, grpc.WaitForReady(true))
	if err != nil {
		return nil, errors.Wrapf(err, "tcp fabric rank %d: failed to connect to hub at %s", config.Rank, address)
	}
	hello := &frame{Kind: kindHello, Src: int32(config.Rank), Dst: int32(config.Size)}
	if err = f.stream.SendMsg(hello); err != nil {
		return nil, errors.Wrapf(err, "tcp fabric rank %d: failed to say hello to hub", config.Rank)
	}
	var ready frame
	if err = f.stream.RecvMsg(&ready); err != nil {
		return nil, errors.Wrapf(err, "tcp fabric rank %d: failed waiting for all ranks to connect", config.Rank)
	}
	if ready.Kind != kindReady {
		return nil, errors.Errorf("tcp fabric rank %d: expected ready frame from hub, got kind %d", config.Rank, ready.Kind)
	}
	if !stop() {
		return nil, errors.Wrapf(rendezvousCtx.Err(), "tcp fabric rank %d: rendezvous", config.Rank)
	}
	f.sessionID = ready.Channel
	go f.readLoop()
	klog.V(1).Infof("tcp fabric rank %d/%d connected to hub at %s (session %s)",
		config.Rank, config.Size, address, f.sessionID)
	return f, nil
}

// readLoop delivers incoming frames to the mailboxes, until the stream fails or is closed.
func (f *Fabric) readLoop() {
	for {
		var in frame
		if err := f.stream.RecvMsg(&in); err != nil {
			if !f.closed.Load() {
				klog.Errorf("tcp fabric rank %d: connection to hub lost: %v", f.config.Rank, err)
			}
			f.readErr.Store(&err)
			f.boxes.Close()
			return
		}
		if err := f.boxes.Post(in.Channel, f.config.Rank, int(in.Src), in.Payload); err != nil {
			return
		}
	}
}

// SessionID returns the id of the job, generated by the hub.
func (f *Fabric) SessionID() string {
	return f.sessionID
}

// Rank implements fabric.Fabric.
func (f *Fabric) Rank() int { return f.config.Rank }

// Size implements fabric.Fabric.
func (f *Fabric) Size() int { return f.config.Size }

// err converts mailbox errors to the error that broke the connection, if any.
func (f *Fabric) err(err error) error {
	if errors.Is(err, fabric.ErrClosed) {
		if readErr := f.readErr.Load(); readErr != nil && !f.closed.Load() {
			return errors.Wrapf(fabric.ErrClosed, "tcp fabric rank %d: %v", f.config.Rank, *readErr)
		}
	}
	return err
}

func (f *Fabric) post(channel string, dst int, payload []byte) error {
	if dst == f.config.Rank {
		return f.boxes.Post(channel, dst, dst, slices.Clone(payload))
	}
	f.muSend.Lock()
	defer f.muSend.Unlock()
	out := &frame{Kind: kindData, Src: int32(f.config.Rank), Dst: int32(dst), Channel: channel, Payload: payload}
	if err := f.stream.SendMsg(out); err != nil {
		return errors.Wrapf(err, "tcp fabric rank %d: failed to send to rank %d", f.config.Rank, dst)
	}
	return nil
}

// Exchange implements fabric.Fabric.
func (f *Fabric) Exchange(ctx context.Context, key string, members []int, payloads [][]byte) ([][]byte, error) {
	if f.closed.Load() {
		return nil, fabric.ErrClosed
	}
	if _, err := fabric.CheckExchange(f.config.Rank, f.config.Size, members, payloads); err != nil {
		return nil, err
	}
	channel := fabric.ExchangeChannel(key)
	for ii, member := range members {
		if err := f.post(channel, member, payloads[ii]); err != nil {
			return nil, err
		}
	}
	results, err := f.boxes.Collect(ctx, channel, f.config.Rank, members)
	if err != nil {
		return nil, errors.WithMessagef(f.err(err), "tcp fabric rank %d: exchange %q", f.config.Rank, key)
	}
	return results, nil
}

// Send implements fabric.Fabric.
func (f *Fabric) Send(_ context.Context, dst, tag int, payload []byte) error {
	if f.closed.Load() {
		return fabric.ErrClosed
	}
	if err := fabric.CheckPeer(dst, f.config.Size, false); err != nil {
		return err
	}
	return f.post(fabric.TagChannel(tag), dst, payload)
}

// Recv implements fabric.Fabric.
func (f *Fabric) Recv(ctx context.Context, src, tag int) ([]byte, int, error) {
	if f.closed.Load() {
		return nil, -1, fabric.ErrClosed
	}
	if err := fabric.CheckPeer(src, f.config.Size, true); err != nil {
		return nil, -1, err
	}
	envelope, err := f.boxes.Take(ctx, fabric.TagChannel(tag), f.config.Rank, src)
	if err != nil {
		return nil, -1, errors.WithMessagef(f.err(err), "tcp fabric rank %d: recv from %d, tag %d",
			f.config.Rank, src, tag)
	}
	return envelope.Payload, envelope.Src, nil
}

// Close implements fabric.Fabric. On rank 0 it also stops the hub, after the other ranks disconnect
// (or the grace period expires).
func (f *Fabric) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	var firstErr error
	if f.stream != nil {
		f.muSend.Lock()
		firstErr = f.stream.CloseSend()
		f.muSend.Unlock()
	}
	if f.hub != nil {
		f.hub.Close(f.config.HubGracePeriod)
	}
	if f.cancel != nil {
		f.cancel()
	}
	if f.conn != nil {
		if err := f.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.boxes.Close()
	return firstErr
}
