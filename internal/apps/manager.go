// Package apps drives the lifecycle of containerized applications: local
// and cross-mesh deployment, heartbeat-supervised shutdown, and persistence
// of the startup set.
package apps

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	golog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/oklog/ulid/v2"

	"github.com/p2p-industries/hyveos/internal/bridge"
	"github.com/p2p-industries/hyveos/internal/event"
	"github.com/p2p-industries/hyveos/internal/filetransfer"
	"github.com/p2p-industries/hyveos/internal/herr"
	"github.com/p2p-industries/hyveos/internal/neighbors"
	"github.com/p2p-industries/hyveos/internal/store"
	"github.com/p2p-industries/hyveos/internal/swarm"
	"github.com/p2p-industries/hyveos/internal/swarm/subactors"
	"github.com/p2p-industries/hyveos/pkg/fcid"
)

var log = golog.Logger("apps")

// deployTopic is the req-resp topic this manager listens on for incoming
// deploy-by-Cid requests from peers.
const deployTopic = "/hyveos/apps/deploy/1"

const startupKeyPrefix = "startup/"

// Application describes one running (or about-to-run) container instance.
type Application struct {
	ID           string
	ImageRef     string
	AppName      string
	ContainerID  string
	BridgeULID   string
	ExposedPorts []uint16
	Persistent   bool
}

// RunningInfo is the snapshot returned by ListRunning.
type RunningInfo struct {
	ID    string
	Image string
	Name  string
}

type runningApp struct {
	app       Application
	container *RunningContainer
	bridge    *bridge.BridgeSession

	stopCh        chan bool // one-shot: true means kill
	heartbeat     chan struct{}
	containerDone chan struct{}
	done          chan struct{} // closed once finalize has torn everything down
	exitStatus    int64
}

// Manager owns every running Application on this node: it starts
// containers, attaches a BridgeSession to each, supervises their heartbeat
// and exit, and persists the startup set for applications marked
// persistent.
type Manager struct {
	docker        *ContainerManager
	store         *store.Store
	swarmClient   *swarm.Client
	ft            *filetransfer.Client
	neighbors     *neighbors.Store
	bridgeBaseDir string
	selfPeer      peer.ID
	events        *event.Bus

	heartbeatTimeout time.Duration
	exports          *exportCache
	managementDenied bool

	mu      sync.Mutex
	running map[string]*runningApp
}

// NewManager wires a Manager. bridgeBaseDir is the directory each
// application's BridgeSession creates its <ulid>/bridge.sock under.
// managementAllowed mirrors --apps-management: when false, local deploys
// and incoming deploy requests are refused; Deploy to a remote target still
// exports and forwards the image.
func NewManager(
	docker *ContainerManager,
	st *store.Store,
	swarmClient *swarm.Client,
	ft *filetransfer.Client,
	neighborStore *neighbors.Store,
	bridgeBaseDir string,
	selfPeer peer.ID,
	bus *event.Bus,
	heartbeatTimeout time.Duration,
	managementAllowed bool,
) *Manager {
	return &Manager{
		docker:           docker,
		store:            st,
		swarmClient:      swarmClient,
		ft:               ft,
		neighbors:        neighborStore,
		bridgeBaseDir:    bridgeBaseDir,
		selfPeer:         selfPeer,
		events:           bus,
		heartbeatTimeout: heartbeatTimeout,
		exports:          newExportCache(),
		managementDenied: !managementAllowed,
		running:          make(map[string]*runningApp),
	}
}

// publish fans an application lifecycle event out through the manager's
// event bus, a no-op when no bus was wired in (e.g. in tests).
func (m *Manager) publish(typ event.Type, payload interface{}) {
	if m.events == nil {
		return
	}
	m.events.Publish(context.Background(), typ, payload)
}

// ServeDeployRequests registers this manager as the handler for incoming
// deploy-by-Cid requests until ctx is canceled. Run on its own goroutine
// for the daemon's lifetime.
func (m *Manager) ServeDeployRequests(ctx context.Context) error {
	inbox := make(chan subactors.InboundRequest, 8)
	if _, err := m.swarmClient.RegisterReqRespSubscription(ctx, subactors.NewTopicQueryLiteral(deployTopic), inbox); err != nil {
		return herr.Wrap(herr.CodeBehavior, "register deploy request subscription", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-inbox:
			if !ok {
				return nil
			}
			go m.handleDeployRequest(ctx, req)
		}
	}
}

type deployWireRequest struct {
	ULID       []byte   `cbor:"ulid"`
	SHA256     []byte   `cbor:"sha256"`
	Ports      []uint16 `cbor:"ports"`
	Persistent bool     `cbor:"persistent"`
}

type deployWireResponse struct {
	AppID string `cbor:"app_id"`
	Error string `cbor:"error,omitempty"`
}

func (m *Manager) handleDeployRequest(ctx context.Context, req subactors.InboundRequest) {
	if m.managementDenied {
		m.respondDeployError(req, "application management is disabled on this node")
		return
	}
	var wire deployWireRequest
	if err := cbor.Unmarshal(req.Request.Data, &wire); err != nil {
		m.respondDeployError(req, fmt.Sprintf("decode deploy request: %v", err))
		return
	}
	if len(wire.SHA256) != 32 {
		m.respondDeployError(req, "malformed cid hash")
		return
	}
	var id ulid.ULID
	copy(id[:], wire.ULID)
	var sum [32]byte
	copy(sum[:], wire.SHA256)
	cidv := fcid.FromParts(id, sum)

	rc, err := m.ft.Get(ctx, cidv)
	if err != nil {
		m.respondDeployError(req, fmt.Sprintf("fetch image: %v", err))
		return
	}
	defer rc.Close()

	archive, err := io.ReadAll(rc)
	if err != nil {
		m.respondDeployError(req, fmt.Sprintf("read image archive: %v", err))
		return
	}

	img, err := m.docker.ImportImage(ctx, archive, CompressionZstd)
	if err != nil {
		m.respondDeployError(req, fmt.Sprintf("import image: %v", err))
		return
	}

	app, err := m.deployImage(ctx, img, wire.Ports, wire.Persistent)
	if err != nil {
		m.respondDeployError(req, err.Error())
		return
	}

	out, _ := cbor.Marshal(deployWireResponse{AppID: app.ID})
	req.Respond(subactors.Response{Data: out})
}

func (m *Manager) respondDeployError(req subactors.InboundRequest, msg string) {
	log.Warnw("deploy request failed", "err", msg)
	out, _ := cbor.Marshal(deployWireResponse{Error: msg})
	req.Respond(subactors.Response{Data: out})
}

// DeployLocal starts ref as a new container, assuming the image already
// exists on the local docker daemon.
func (m *Manager) DeployLocal(ctx context.Context, ref string, ports []uint16, persistent bool) (Application, error) {
	if m.managementDenied {
		return Application{}, herr.New(herr.CodeInvalidArgument, "application management is disabled on this node")
	}
	img := m.docker.GetLocalImage(ref)
	return m.deployImage(ctx, img, ports, persistent)
}

// Deploy starts ref as a new container. If target is nil or equal to this
// node's own peer ID, it behaves like DeployLocal. Otherwise the image is
// exported, imported into the file-transfer store, and a deploy request is
// sent to target, which fetches and deploys it in turn.
func (m *Manager) Deploy(ctx context.Context, ref string, ports []uint16, persistent bool, target *peer.ID) (Application, error) {
	if target == nil || *target == m.selfPeer {
		return m.DeployLocal(ctx, ref, ports, persistent)
	}

	img := m.docker.GetLocalImage(ref)
	imageID, err := m.docker.GetID(ctx, img)
	if err != nil {
		return Application{}, herr.Wrap(herr.CodeBehavior, "inspect image", err)
	}

	cidv, ok := m.exports.get(imageID)
	if !ok {
		archive, err := m.docker.Export(ctx, img, CompressionZstd)
		if err != nil {
			return Application{}, herr.Wrap(herr.CodeBehavior, "export image", err)
		}
		cidv, err = m.ft.Provide(ctx, bytes.NewReader(archive))
		if err != nil {
			return Application{}, herr.Wrap(herr.CodeBehavior, "import exported image", err)
		}
		m.exports.put(imageID, cidv)
	}

	wire := deployWireRequest{ULID: cidv.ULID[:], SHA256: cidv.SHA256[:], Ports: ports, Persistent: persistent}
	payload, err := cbor.Marshal(wire)
	if err != nil {
		return Application{}, herr.Wrap(herr.CodeBehavior, "encode deploy request", err)
	}

	result, err := m.swarmClient.SendRequest(ctx, *target, subactors.TopicPtr(deployTopic), payload)
	if err != nil {
		return Application{}, herr.Wrap(herr.CodeBehavior, "send deploy request", err)
	}
	if result.Response.Err != nil {
		return Application{}, herr.Wrap(herr.CodeBehavior, "remote deploy", result.Response.Err)
	}

	var resp deployWireResponse
	if err := cbor.Unmarshal(result.Response.Data, &resp); err != nil {
		return Application{}, herr.Wrap(herr.CodeBehavior, "decode deploy response", err)
	}
	if resp.Error != "" {
		return Application{}, herr.New(herr.CodeBehavior, resp.Error)
	}
	return Application{ID: resp.AppID, ImageRef: ref, ExposedPorts: ports, Persistent: persistent}, nil
}

// deployImage runs img, attaches a bridge session, starts its supervisor,
// and persists the startup entry if requested.
func (m *Manager) deployImage(ctx context.Context, img PulledImage, ports []uint16, persistent bool) (Application, error) {
	id := ulid.Make()
	bridgeULID := ulid.Make().String()

	appName, _, err := m.docker.GetLabel(ctx, img, "org.hyveos.app-name")
	if err != nil {
		log.Debugw("failed reading app-name label", "image", img.Ref, "err", err)
	}

	sess, err := bridge.NewSession(m.bridgeBaseDir, bridgeULID, m.swarmClient, m.ft, m.neighbors)
	if err != nil {
		return Application{}, herr.Wrap(herr.CodeBehavior, "create bridge session", err)
	}

	env := map[string]string{
		"HYVEOS_BRIDGE_SHARED_DIR": "/p2p/shared",
		"HYVEOS_BRIDGE_SOCKET":     "/var/run/bridge.sock",
		"HYVEOS_BRIDGE_ULID":       bridgeULID,
	}
	volumes := map[string]string{sess.SocketPath: "/var/run/bridge.sock"}

	container, err := m.docker.Run(ctx, img, RunOpts{
		Env:         env,
		Volumes:     volumes,
		ExposePorts: ports,
		AutoRemove:  true,
	})
	if err != nil {
		sess.Close()
		return Application{}, herr.Wrap(herr.CodeBehavior, "run container", err)
	}

	app := Application{
		ID:           id.String(),
		ImageRef:     img.Ref,
		AppName:      appName,
		ContainerID:  container.ID,
		BridgeULID:   bridgeULID,
		ExposedPorts: ports,
		Persistent:   persistent,
	}

	ra := &runningApp{
		app:           app,
		container:     container,
		bridge:        sess,
		stopCh:        make(chan bool, 1),
		heartbeat:     make(chan struct{}, 1),
		containerDone: make(chan struct{}),
		done:          make(chan struct{}),
	}

	m.mu.Lock()
	m.running[app.ID] = ra
	m.mu.Unlock()

	go m.waitContainer(ra)
	go m.supervise(ra)

	if persistent {
		if err := m.persistStartup(img.Ref, ports); err != nil {
			log.Warnw("failed to persist startup entry", "image", img.Ref, "err", err)
		}
	}

	m.publish(event.ETAppDeployed, app)

	return app, nil
}

func (m *Manager) waitContainer(ra *runningApp) {
	status, err := m.docker.Wait(context.Background(), ra.container)
	if err != nil {
		log.Debugw("container wait failed", "id", ra.container.ID, "err", err)
	}
	ra.exitStatus = status
	close(ra.containerDone)
}

// supervise drives one application's lifecycle: it stops the container on
// an explicit stop signal or a missed heartbeat, and reacts to the
// container exiting on its own.
func (m *Manager) supervise(ra *runningApp) {
	timer := time.NewTimer(m.heartbeatTimeout)
	defer timer.Stop()

	for {
		select {
		case kill := <-ra.stopCh:
			m.shutdown(ra, kill)
			return
		case <-ra.heartbeat:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.heartbeatTimeout)
		case <-timer.C:
			log.Warnw("application heartbeat timeout, killing", "id", ra.app.ID)
			m.shutdown(ra, true)
			return
		case <-ra.containerDone:
			m.finalize(ra)
			return
		}
	}
}

// shutdown stops (or kills) the container, waits briefly for the container
// and bridge to finish, and cleans up.
func (m *Manager) shutdown(ra *runningApp, kill bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.docker.Stop(ctx, ra.container, kill); err != nil {
		log.Debugw("stop container failed", "id", ra.container.ID, "err", err)
	}

	select {
	case <-ra.containerDone:
	case <-time.After(time.Second):
		log.Warnw("container did not exit within timeout", "id", ra.container.ID)
	}

	m.finalize(ra)
}

// finalize tears down the bridge session, removes the session directory,
// and drops the application from the running set. Safe to call more than
// once; only the first call has any effect.
func (m *Manager) finalize(ra *runningApp) {
	m.mu.Lock()
	_, ok := m.running[ra.app.ID]
	delete(m.running, ra.app.ID)
	m.mu.Unlock()
	if !ok {
		return
	}
	ra.bridge.Close()
	if err := os.RemoveAll(filepath.Dir(ra.bridge.SocketPath)); err != nil {
		log.Debugw("failed removing bridge session directory", "id", ra.app.ID, "err", err)
	}
	m.publish(event.ETAppStopped, ra.app)
	close(ra.done)
}

// Heartbeat resets id's supervision deadline, keeping its container alive.
func (m *Manager) Heartbeat(id string) error {
	m.mu.Lock()
	ra, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return herr.New(herr.CodeNotFound, "no such application")
	}
	select {
	case ra.heartbeat <- struct{}{}:
	default:
	}
	return nil
}

// Stop stops id, killing it if kill is set, and waits for its supervisor to
// finish tearing it down.
func (m *Manager) Stop(id string, kill bool) error {
	m.mu.Lock()
	ra, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return herr.New(herr.CodeNotFound, "no such application")
	}
	if ra.app.Persistent {
		if err := m.removeStartup(ra.app.ImageRef); err != nil {
			log.Warnw("failed to remove startup entry", "image", ra.app.ImageRef, "err", err)
		}
	}
	select {
	case ra.stopCh <- kill:
	default:
	}
	<-ra.done
	return nil
}

// StopAll stops every running application concurrently and waits for them
// all to finish.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Stop(id, false); err != nil {
				log.Debugw("stop during StopAll failed", "id", id, "err", err)
			}
		}(id)
	}
	wg.Wait()
}

// ListRunning returns a snapshot of every application currently running.
func (m *Manager) ListRunning() []RunningInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunningInfo, 0, len(m.running))
	for _, ra := range m.running {
		out = append(out, RunningInfo{ID: ra.app.ID, Image: ra.app.ImageRef, Name: ra.app.AppName})
	}
	return out
}

// LoadStartupApps replays the persisted startup set, deploying each entry
// locally. Called once at daemon boot.
func (m *Manager) LoadStartupApps(ctx context.Context) error {
	var entries []startupEntry
	err := m.store.ForEachWithPrefix([]byte(startupKeyPrefix), func(key, value []byte) error {
		var e startupEntry
		if err := cbor.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("decode startup entry %s: %w", key, err)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return herr.Wrap(herr.CodeBehavior, "scan startup apps", err)
	}
	for _, e := range entries {
		if _, err := m.DeployLocal(ctx, e.ImageName, e.Ports, true); err != nil {
			log.Warnw("failed to redeploy startup app", "image", e.ImageName, "err", err)
		}
	}
	return nil
}

type startupEntry struct {
	ImageName string   `cbor:"image_name"`
	Ports     []uint16 `cbor:"ports"`
}

func (m *Manager) persistStartup(imageName string, ports []uint16) error {
	value, err := cbor.Marshal(startupEntry{ImageName: imageName, Ports: ports})
	if err != nil {
		return err
	}
	return m.store.Put(startupKey(imageName), value)
}

func (m *Manager) removeStartup(imageName string) error {
	return m.store.Delete(startupKey(imageName))
}

func startupKey(imageName string) []byte {
	return []byte(startupKeyPrefix + imageName)
}
