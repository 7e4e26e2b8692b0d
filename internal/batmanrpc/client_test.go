package batmanrpc

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func TestGetNeighboursAgainstFakeServer(t *testing.T) {
	dir := t.TempDir()
	sockPath := dir + "/batman.sock"

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var ifIndexBuf [4]byte
		if _, err := fullReadConn(conn, ifIndexBuf[:]); err != nil {
			return
		}
		if binary.BigEndian.Uint32(ifIndexBuf[:]) != 7 {
			return
		}

		conn.Write([]byte{0}) // status: Ok

		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], 1)
		conn.Write(countBuf[:])

		var neighborIfIndex [4]byte
		binary.BigEndian.PutUint32(neighborIfIndex[:], 7)
		conn.Write(neighborIfIndex[:])
		conn.Write([]byte{6, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB})

		var lastSeenBuf [8]byte
		binary.BigEndian.PutUint64(lastSeenBuf[:], 1500) // 1.5s
		conn.Write(lastSeenBuf[:])

		conn.Write([]byte{1}) // has_throughput
		var throughputBuf [4]byte
		binary.BigEndian.PutUint32(throughputBuf[:], 1000)
		conn.Write(throughputBuf[:])
	}()

	c := New(sockPath, time.Second)
	neighbours, err := c.GetNeighbours(7)
	if err != nil {
		t.Fatalf("GetNeighbours: %v", err)
	}
	if len(neighbours) != 1 {
		t.Fatalf("unexpected result count: %+v", neighbours)
	}
	n := neighbours[0]
	if n.IfIndex != 7 || n.Mac.String() != "01:23:45:67:89:ab" {
		t.Fatalf("unexpected neighbor: %+v", n)
	}
	if n.LastSeen != 1500*time.Millisecond {
		t.Fatalf("unexpected last_seen: %v", n.LastSeen)
	}
	if n.ThroughputKbps == nil || *n.ThroughputKbps != 1000 {
		t.Fatalf("unexpected throughput_kbps: %+v", n.ThroughputKbps)
	}
}

func TestGetNeighboursErrorResponse(t *testing.T) {
	dir := t.TempDir()
	sockPath := dir + "/batman.sock"

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var ifIndexBuf [4]byte
		if _, err := fullReadConn(conn, ifIndexBuf[:]); err != nil {
			return
		}

		conn.Write([]byte{1}) // status: Err
		msg := []byte("no such interface")
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(msg)))
		conn.Write(lenBuf[:])
		conn.Write(msg)
	}()

	c := New(sockPath, time.Second)
	if _, err := c.GetNeighbours(99); err == nil {
		t.Fatalf("expected error")
	}
}

func fullReadConn(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
