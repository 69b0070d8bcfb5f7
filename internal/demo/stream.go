package demo

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sirosfoundation/go-service-framework/pkg/handler"
)

// LineEcho echoes newline-terminated lines until the peer closes or sends
// "quit".
type LineEcho struct {
	handler.Base
}

// NewLineEcho creates the TCP line echo.
func NewLineEcho(servers ...string) *LineEcho {
	return &LineEcho{Base: handler.Base{Name: "line-echo", Servers: servers}}
}

func (l *LineEcho) HandleTCP(ctx context.Context, conn *handler.TCPConn) error {
	r := conn.Reader()
	for ctx.Err() == nil {
		line, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "quit" {
			return nil
		}
		if _, err := io.WriteString(conn, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// DatagramEcho sends every datagram back to its sender.
type DatagramEcho struct {
	handler.Base
}

// NewDatagramEcho creates the UDP echo.
func NewDatagramEcho(servers ...string) *DatagramEcho {
	return &DatagramEcho{Base: handler.Base{Name: "datagram-echo", Servers: servers}}
}

func (d *DatagramEcho) HandleUDP(_ context.Context, packet *handler.UDPPacket, w handler.PacketWriter) error {
	_, err := w.WriteTo(packet.Data, packet.Addr)
	return err
}
