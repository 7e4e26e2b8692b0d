package bridge

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"

	"github.com/p2p-industries/hyveos/internal/filetransfer"
	"github.com/p2p-industries/hyveos/internal/neighbors"
	"github.com/p2p-industries/hyveos/internal/swarm"
)

// BridgeSession binds one gRPC server, serving the DHT/PubSub/ReqResp/Debug/
// FileTransfer/Discovery services over a Unix domain socket, to a single running application
// container. Each application gets its own socket and its own clone of the
// shared swarm client, so closing a session never disturbs another
// application's in-flight calls.
type BridgeSession struct {
	ID         string
	SocketPath string

	server *grpc.Server
	client *swarm.Client
}

// NewSession creates the application's socket directory, binds a listener at
// <baseDir>/<id>/bridge.sock, and starts serving in the background. cl is
// cloned so the session owns an independent refcount on the swarm actor's
// command channel. ft and neighborStore back the FileTransfer and Discovery
// services; both are shared daemon-wide and outlive the session.
func NewSession(baseDir, id string, cl *swarm.Client, ft *filetransfer.Client, neighborStore *neighbors.Store) (*BridgeSession, error) {
	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("bridge: create session dir: %w", err)
	}
	sockPath := filepath.Join(dir, "bridge.sock")
	_ = os.Remove(sockPath)

	lis, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("bridge: listen on %s: %w", sockPath, err)
	}

	sessionClient := cl.Clone()
	srv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	handlers := NewServer(sessionClient, ft, neighborStore)

	dhtDesc := dhtServiceDesc()
	pubsubDesc := pubsubServiceDesc()
	reqrespDesc := reqRespServiceDesc()
	debugDesc := debugServiceDesc()
	fileTransferDesc := fileTransferServiceDesc()
	discoveryDesc := discoveryServiceDesc()
	srv.RegisterService(&dhtDesc, handlers)
	srv.RegisterService(&pubsubDesc, handlers)
	srv.RegisterService(&reqrespDesc, handlers)
	srv.RegisterService(&debugDesc, handlers)
	srv.RegisterService(&fileTransferDesc, handlers)
	srv.RegisterService(&discoveryDesc, handlers)

	session := &BridgeSession{ID: id, SocketPath: sockPath, server: srv, client: sessionClient}

	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Debugw("bridge session stopped serving", "id", id, "err", err)
		}
	}()

	return session, nil
}

// Close stops the gRPC server, releases the session's swarm client handle,
// and removes the socket file.
func (s *BridgeSession) Close() {
	s.server.GracefulStop()
	s.client.Close()
	_ = os.Remove(s.SocketPath)
}
