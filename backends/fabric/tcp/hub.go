// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

const (
	serviceName = "gomcrdl.fabric.Hub"
	methodName  = "/" + serviceName + "/Connect"
)

// hubService is the handler type of the hub gRPC service.
type hubService interface {
	connect(stream grpc.ServerStream) error
}

var hubServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*hubService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Connect",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(hubService).connect(stream)
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

var connectStreamDesc = hubServiceDesc.Streams[0]

// Hub routes frames among the ranks of a job. It is run by rank 0.
//
// Every rank opens one stream to the hub and says hello. Once all the ranks of the world are connected
// the hub sends a ready frame to each of them, and from then on forwards data frames to their destination.
// Frames from one rank to another are forwarded in order.
type Hub struct {
	size      int
	sessionID string
	server    *grpc.Server
	listener  net.Listener

	mu     sync.Mutex
	peers  []*hubPeer
	joined int
	ready  chan struct{}
	done   chan struct{}
}

type hubPeer struct {
	muSend sync.Mutex
	stream grpc.ServerStream
}

func (p *hubPeer) send(f *frame) error {
	p.muSend.Lock()
	defer p.muSend.Unlock()
	return p.stream.SendMsg(f)
}

// Listen starts a hub for a world of the given size listening on address ("host:port").
// It returns once it is listening: use Addr to find the actual address when the port is 0.
func Listen(address string, size int) (*Hub, error) {
	if size <= 0 {
		return nil, errors.Errorf("tcp hub requires a positive world size, got %d", size)
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "tcp hub failed to listen on %q", address)
	}
	h := &Hub{
		size:      size,
		sessionID: uuid.NewString(),
		listener:  listener,
		peers:     make([]*hubPeer, size),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	h.server = grpc.NewServer(grpc.ForceServerCodec(frameCodec{}))
	h.server.RegisterService(&hubServiceDesc, h)
	go func() {
		defer close(h.done)
		if err := h.server.Serve(listener); err != nil {
			klog.Errorf("tcp hub on %s stopped: %v", listener.Addr(), err)
		}
	}()
	klog.V(1).Infof("tcp hub for %d ranks listening on %s (session %s)", size, listener.Addr(), h.sessionID)
	return h, nil
}

// Addr returns the address the hub is listening on.
func (h *Hub) Addr() string {
	return h.listener.Addr().String()
}

// SessionID returns the unique id of this job, sent to all ranks.
func (h *Hub) SessionID() string {
	return h.sessionID
}

// Close stops the hub, waiting up to gracePeriod for the ranks to disconnect.
func (h *Hub) Close(gracePeriod time.Duration) {
	stopped := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(gracePeriod):
		h.server.Stop()
	}
	<-h.done
}

// connect handles the stream of one rank.
func (h *Hub) connect(stream grpc.ServerStream) error {
	var hello frame
	if err := stream.RecvMsg(&hello); err != nil {
		return err
	}
	rank := int(hello.Src)
	if hello.Kind != kindHello {
		return status.Errorf(codes.InvalidArgument, "expected hello frame, got kind %d", hello.Kind)
	}
	if int(hello.Dst) != h.size {
		return status.Errorf(codes.InvalidArgument, "rank %d expects a world of size %d, hub has size %d",
			rank, hello.Dst, h.size)
	}
	if rank < 0 || rank >= h.size {
		return status.Errorf(codes.InvalidArgument, "rank %d out of range for world of size %d", rank, h.size)
	}
	peer := &hubPeer{stream: stream}

	h.mu.Lock()
	if h.peers[rank] != nil {
		h.mu.Unlock()
		return status.Errorf(codes.AlreadyExists, "rank %d already connected", rank)
	}
	h.peers[rank] = peer
	h.joined++
	if h.joined == h.size {
		close(h.ready)
	}
	h.mu.Unlock()
	klog.V(2).Infof("tcp hub: rank %d connected", rank)

	select {
	case <-h.ready:
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	if err := peer.send(&frame{Kind: kindReady, Dst: int32(rank), Channel: h.sessionID}); err != nil {
		return err
	}

	for {
		var f frame
		if err := stream.RecvMsg(&f); err != nil {
			// Includes io.EOF, when the rank closes its side.
			klog.V(2).Infof("tcp hub: rank %d disconnected: %v", rank, err)
			return nil
		}
		if f.Kind != kindData {
			return status.Errorf(codes.InvalidArgument, "rank %d sent unexpected frame kind %d", rank, f.Kind)
		}
		dst := int(f.Dst)
		if dst < 0 || dst >= h.size {
			return status.Errorf(codes.InvalidArgument, "rank %d sent frame to invalid rank %d", rank, dst)
		}
		f.Src = int32(rank)
		if err := h.peers[dst].send(&f); err != nil {
			klog.Warningf("tcp hub: failed to forward frame from rank %d to rank %d: %v", rank, dst, err)
		}
	}
}
