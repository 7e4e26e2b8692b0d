// Package batmanrpc implements the client side of the framed Unix-socket RPC
// to the batman-adv neighbours helper daemon.
package batmanrpc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/p2p-industries/hyveos/pkg/macaddr"
)

// BatmanNeighbor is one entry of a get_neighbours response.
type BatmanNeighbor struct {
	IfIndex        uint32
	Mac            macaddr.Addr
	LastSeen       time.Duration
	ThroughputKbps *uint32
}

// Client talks to the batman-neighbours helper daemon over a Unix domain
// socket, dialing a fresh connection for each call and closing it afterwards.
type Client struct {
	sockPath string
	timeout  time.Duration
}

// New returns a Client bound to the given socket path.
func New(sockPath string, timeout time.Duration) *Client {
	return &Client{sockPath: sockPath, timeout: timeout}
}

// GetNeighbours asks the helper daemon for every batman-adv neighbor
// currently visible on the mesh interface identified by ifIndex.
func (c *Client) GetNeighbours(ifIndex uint32) ([]BatmanNeighbor, error) {
	conn, err := net.DialTimeout("unix", c.sockPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("batmanrpc: dial %s: %w", c.sockPath, err)
	}
	defer conn.Close()
	if c.timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := writeRequest(conn, ifIndex); err != nil {
		return nil, err
	}
	return readResponse(conn)
}

// writeRequest sends the four-byte big-endian interface index that frames
// a get_neighbours call.
func writeRequest(w net.Conn, ifIndex uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], ifIndex)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("batmanrpc: write request: %w", err)
	}
	return nil
}

// readResponse reads the `Result<Vec<BatmanNeighbor>, String>` response:
// "status byte (0=Ok,1=Err) || Ok: count uint32 BE || neighbor*count |
// Err: len uint32 BE || message bytes", where each neighbor is
// "if_index uint32 BE || macLen byte || mac bytes || last_seen_ms uint64 BE ||
// has_throughput byte || throughput_kbps uint32 BE (if has_throughput)".
func readResponse(r net.Conn) ([]BatmanNeighbor, error) {
	br := bufio.NewReader(r)

	status, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("batmanrpc: read response status: %w", err)
	}
	if status != 0 {
		msg, err := readString(br)
		if err != nil {
			return nil, fmt.Errorf("batmanrpc: read error message: %w", err)
		}
		return nil, fmt.Errorf("batmanrpc: get_neighbours: %s", msg)
	}

	var countBuf [4]byte
	if _, err := fullRead(br, countBuf[:]); err != nil {
		return nil, fmt.Errorf("batmanrpc: read response count: %w", err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	out := make([]BatmanNeighbor, 0, count)
	for i := uint32(0); i < count; i++ {
		n, err := readNeighbor(br)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func readNeighbor(br *bufio.Reader) (BatmanNeighbor, error) {
	var ifIndexBuf [4]byte
	if _, err := fullRead(br, ifIndexBuf[:]); err != nil {
		return BatmanNeighbor{}, fmt.Errorf("batmanrpc: read neighbor if_index: %w", err)
	}

	lenByte, err := br.ReadByte()
	if err != nil {
		return BatmanNeighbor{}, fmt.Errorf("batmanrpc: read mac length: %w", err)
	}
	if lenByte != 6 && lenByte != 8 {
		return BatmanNeighbor{}, fmt.Errorf("batmanrpc: invalid mac length %d", lenByte)
	}
	macBuf := make([]byte, lenByte)
	if _, err := fullRead(br, macBuf); err != nil {
		return BatmanNeighbor{}, fmt.Errorf("batmanrpc: read mac: %w", err)
	}
	var mac macaddr.Addr
	if lenByte == 6 {
		var a [6]byte
		copy(a[:], macBuf)
		mac = macaddr.NewEUI48(a)
	} else {
		var a [8]byte
		copy(a[:], macBuf)
		mac = macaddr.NewEUI64(a)
	}

	var lastSeenBuf [8]byte
	if _, err := fullRead(br, lastSeenBuf[:]); err != nil {
		return BatmanNeighbor{}, fmt.Errorf("batmanrpc: read last_seen: %w", err)
	}
	lastSeen := time.Duration(binary.BigEndian.Uint64(lastSeenBuf[:])) * time.Millisecond

	hasThroughput, err := br.ReadByte()
	if err != nil {
		return BatmanNeighbor{}, fmt.Errorf("batmanrpc: read throughput flag: %w", err)
	}
	var throughput *uint32
	if hasThroughput != 0 {
		var tBuf [4]byte
		if _, err := fullRead(br, tBuf[:]); err != nil {
			return BatmanNeighbor{}, fmt.Errorf("batmanrpc: read throughput_kbps: %w", err)
		}
		v := binary.BigEndian.Uint32(tBuf[:])
		throughput = &v
	}

	return BatmanNeighbor{
		IfIndex:        binary.BigEndian.Uint32(ifIndexBuf[:]),
		Mac:            mac,
		LastSeen:       lastSeen,
		ThroughputKbps: throughput,
	}, nil
}

func readString(br *bufio.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := fullRead(br, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := fullRead(br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func fullRead(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
