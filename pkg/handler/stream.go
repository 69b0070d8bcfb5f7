package handler

import (
	"bufio"
	"io"
	"net"
)

// TCPConn is an accepted connection handed to TCPHandlers. Reads go through
// a shared buffer so handlers chained on one connection see a single input
// stream.
type TCPConn struct {
	net.Conn
	server string
	r      *bufio.Reader
}

// NewTCPConn wraps conn. When src is non-nil reads come from src instead of
// conn directly.
func NewTCPConn(conn net.Conn, server string, src io.Reader) *TCPConn {
	if src == nil {
		src = conn
	}
	return &TCPConn{Conn: conn, server: server, r: bufio.NewReader(src)}
}

// Server returns the name of the server that accepted the connection.
func (c *TCPConn) Server() string { return c.server }

// Read reads from the buffered input.
func (c *TCPConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// Reader exposes the buffered input, e.g. for ReadString.
func (c *TCPConn) Reader() *bufio.Reader { return c.r }

// UDPPacket is one received datagram.
type UDPPacket struct {
	Data   []byte
	Addr   net.Addr
	Server string
}

// PacketWriter sends datagrams from a UDP server's socket.
type PacketWriter interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
	// Broadcast sends p to the server's configured broadcast address. It
	// fails when the server has no broadcast configuration.
	Broadcast(p []byte) (int, error)
}
