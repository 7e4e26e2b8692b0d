package apps

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	dockercontainer "github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the codec an image archive is wrapped in.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
)

// ContainerManager wraps the docker engine API client, translating this
// runtime's import/export/run vocabulary into the calls docker/docker/client
// exposes.
type ContainerManager struct {
	cli *client.Client
}

// NewContainerManager connects to the local docker daemon using the
// environment's DOCKER_HOST (or the default socket) and negotiates the API
// version.
func NewContainerManager() (*ContainerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("apps: connect to docker: %w", err)
	}
	return &ContainerManager{cli: cli}, nil
}

// PulledImage identifies an image the manager has fetched or been told
// already exists locally, ready to be run or exported.
type PulledImage struct {
	Ref string
}

// GetLocalImage assumes ref already exists on the daemon.
func (m *ContainerManager) GetLocalImage(ref string) PulledImage {
	return PulledImage{Ref: ref}
}

// PullImage fetches ref from its registry.
func (m *ContainerManager) PullImage(ctx context.Context, ref string) (PulledImage, error) {
	rc, err := m.cli.ImagePull(ctx, ref, dockerimage.PullOptions{})
	if err != nil {
		return PulledImage{}, fmt.Errorf("apps: pull image %s: %w", ref, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return PulledImage{}, fmt.Errorf("apps: pull image %s: %w", ref, err)
	}
	return PulledImage{Ref: ref}, nil
}

// GetID returns the image's content-addressed ID, used as the export-cache
// key so a cached image is not exported again.
func (m *ContainerManager) GetID(ctx context.Context, img PulledImage) (string, error) {
	inspect, err := m.cli.ImageInspect(ctx, img.Ref)
	if err != nil {
		return "", fmt.Errorf("apps: inspect image %s: %w", img.Ref, err)
	}
	return inspect.ID, nil
}

// GetLabel reads a single OCI image label, used to read the application's
// declared display name.
func (m *ContainerManager) GetLabel(ctx context.Context, img PulledImage, key string) (string, bool, error) {
	inspect, err := m.cli.ImageInspect(ctx, img.Ref)
	if err != nil {
		return "", false, fmt.Errorf("apps: inspect image %s: %w", img.Ref, err)
	}
	if inspect.Config == nil {
		return "", false, nil
	}
	v, ok := inspect.Config.Labels[key]
	return v, ok, nil
}

// Export saves img as a tar archive, optionally zstd-compressed, suitable
// for content-addressed distribution over the mesh's file-transfer system.
func (m *ContainerManager) Export(ctx context.Context, img PulledImage, compression Compression) ([]byte, error) {
	rc, err := m.cli.ImageSave(ctx, []string{img.Ref})
	if err != nil {
		return nil, fmt.Errorf("apps: export image %s: %w", img.Ref, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	switch compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("apps: create zstd encoder: %w", err)
		}
		if _, err := io.Copy(enc, rc); err != nil {
			enc.Close()
			return nil, fmt.Errorf("apps: compress image export: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("apps: flush zstd encoder: %w", err)
		}
	default:
		if _, err := io.Copy(&buf, rc); err != nil {
			return nil, fmt.Errorf("apps: read image export: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// ImportImage loads a (possibly zstd-compressed) image archive into the
// local daemon and returns the loaded image's reference.
func (m *ContainerManager) ImportImage(ctx context.Context, archive []byte, compression Compression) (PulledImage, error) {
	var r io.Reader = bytes.NewReader(archive)
	if compression == CompressionZstd {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return PulledImage{}, fmt.Errorf("apps: create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	resp, err := m.cli.ImageLoad(ctx, r)
	if err != nil {
		return PulledImage{}, fmt.Errorf("apps: load image archive: %w", err)
	}
	defer resp.Body.Close()

	ref, err := parseLoadedImageRef(resp.Body)
	if err != nil {
		return PulledImage{}, err
	}
	return PulledImage{Ref: ref}, nil
}

// RemoveImage removes img from the local daemon.
func (m *ContainerManager) RemoveImage(ctx context.Context, img PulledImage) error {
	_, err := m.cli.ImageRemove(ctx, img.Ref, dockerimage.RemoveOptions{})
	if err != nil {
		return fmt.Errorf("apps: remove image %s: %w", img.Ref, err)
	}
	return nil
}

// NetworkMode selects the container network namespace.
type NetworkMode string

const (
	NetworkModeBridge NetworkMode = "bridge"
	NetworkModeHost   NetworkMode = "host"
	NetworkModeNone   NetworkMode = "none"
)

// RunOpts describes a container to create and start.
type RunOpts struct {
	Name        string
	Cmd         []string
	Env         map[string]string
	Volumes     map[string]string // host path -> container path
	NetworkMode NetworkMode
	Privileged  bool
	AutoRemove  bool
	ExposePorts []uint16
}

// RunningContainer is a started container this manager can attach to,
// stop, or wait on.
type RunningContainer struct {
	ID    string
	Image PulledImage
}

// Run creates and starts a container from img per opts.
func (m *ContainerManager) Run(ctx context.Context, img PulledImage, opts RunOpts) (*RunningContainer, error) {
	mounts := make([]struct{ Source, Target string }, 0, len(opts.Volumes))
	for host, cont := range opts.Volumes {
		mounts = append(mounts, struct{ Source, Target string }{host, cont})
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	exposedPorts, portBindings := buildPortSpec(opts.ExposePorts)

	hostConfig := &dockercontainer.HostConfig{
		NetworkMode:  dockercontainer.NetworkMode(networkModeOrDefault(opts.NetworkMode)),
		Privileged:   opts.Privileged,
		AutoRemove:   opts.AutoRemove,
		PortBindings: portBindings,
	}
	for _, mnt := range mounts {
		hostConfig.Binds = append(hostConfig.Binds, mnt.Source+":"+mnt.Target)
	}

	config := &dockercontainer.Config{
		Image:        img.Ref,
		Cmd:          opts.Cmd,
		Env:          env,
		ExposedPorts: exposedPorts,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := m.cli.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("apps: create container from %s: %w", img.Ref, err)
	}

	if err := m.cli.ContainerStart(ctx, created.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, fmt.Errorf("apps: start container %s: %w", created.ID, err)
	}

	return &RunningContainer{ID: created.ID, Image: img}, nil
}

// Stop stops the container gracefully, or kills it immediately if kill is
// set.
func (m *ContainerManager) Stop(ctx context.Context, c *RunningContainer, kill bool) error {
	if kill {
		timeout := 0
		return m.cli.ContainerStop(ctx, c.ID, dockercontainer.StopOptions{Timeout: &timeout})
	}
	return m.cli.ContainerStop(ctx, c.ID, dockercontainer.StopOptions{})
}

// Remove deletes a stopped container from the daemon.
func (m *ContainerManager) Remove(ctx context.Context, c *RunningContainer) error {
	return m.cli.ContainerRemove(ctx, c.ID, dockercontainer.RemoveOptions{})
}

// Logs streams the container's combined stdout/stderr to w until the
// container exits or ctx is canceled.
func (m *ContainerManager) Logs(ctx context.Context, c *RunningContainer, w io.Writer) error {
	rc, err := m.cli.ContainerLogs(ctx, c.ID, dockercontainer.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		return fmt.Errorf("apps: attach container %s logs: %w", c.ID, err)
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

// Wait blocks until the container exits, returning its exit status.
func (m *ContainerManager) Wait(ctx context.Context, c *RunningContainer) (int64, error) {
	statusCh, errCh := m.cli.ContainerWait(ctx, c.ID, dockercontainer.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, fmt.Errorf("apps: wait for container %s: %w", c.ID, err)
	case status := <-statusCh:
		return status.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func networkModeOrDefault(m NetworkMode) NetworkMode {
	if m == "" {
		return NetworkModeBridge
	}
	return m
}

// buildPortSpec exposes each port on both tcp and udp and publishes it on
// the same port number on the host, binding 0.0.0.0 for every exposed
// port on both tcp and udp.
func buildPortSpec(ports []uint16) (nat.PortSet, nat.PortMap) {
	if len(ports) == 0 {
		return nil, nil
	}
	exposed := make(nat.PortSet, len(ports)*2)
	bindings := make(nat.PortMap, len(ports)*2)
	for _, p := range ports {
		for _, proto := range [...]string{"tcp", "udp"} {
			port := nat.Port(fmt.Sprintf("%d/%s", p, proto))
			exposed[port] = struct{}{}
			bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", p)}}
		}
	}
	return exposed, bindings
}

// parseLoadedImageRef scans the daemon's ImageLoad progress stream for the
// "Loaded image: <ref>" line.
func parseLoadedImageRef(r io.Reader) (string, error) {
	dec := newJSONLineScanner(r)
	for dec.Scan() {
		var ev struct {
			Stream string `json:"stream"`
		}
		if err := dec.Decode(&ev); err != nil {
			continue
		}
		if ref, ok := extractLoadedImageRef(ev.Stream); ok {
			return ref, nil
		}
	}
	return "", fmt.Errorf("apps: no image loaded")
}

func extractLoadedImageRef(line string) (string, bool) {
	const prefix = "Loaded image: "
	trimmed := trimSuffixNewline(line)
	if len(trimmed) > len(prefix) && trimmed[:len(prefix)] == prefix {
		return trimmed[len(prefix):], true
	}
	return "", false
}

func trimSuffixNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// newJSONLineScanner adapts r's newline-delimited JSON stream (the format
// docker's ImageLoad/ImagePull progress endpoints emit) to a small
// Scan/Decode interface, avoiding a full streaming-JSON dependency for a
// single narrow use.
func newJSONLineScanner(r io.Reader) *jsonLineScanner {
	return &jsonLineScanner{scanner: bufio.NewScanner(r)}
}

type jsonLineScanner struct {
	scanner *bufio.Scanner
	line    string
}

func (s *jsonLineScanner) Scan() bool {
	if !s.scanner.Scan() {
		return false
	}
	s.line = strings.TrimSpace(s.scanner.Text())
	return true
}

func (s *jsonLineScanner) Decode(v interface{}) error {
	if s.line == "" {
		return fmt.Errorf("apps: empty progress line")
	}
	return json.Unmarshal([]byte(s.line), v)
}
