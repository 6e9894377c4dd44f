package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Handshake exchange, before framing starts. The client opens with the
// magic, its protocol version, and a self-reported client name; the
// server answers with its protocol version, server version string, and
// node id.
var handshakeMagic = []byte("MINSQL")

const (
	ProtocolVersion uint32 = 1
	ServerVersion          = "minsql 0.1.0"

	maxClientNameLen = 256
)

// ClientHello is the decoded client side of the handshake
type ClientHello struct {
	Version    uint32
	ClientName string
}

// ServerHello is the decoded server side of the handshake
type ServerHello struct {
	Version       uint32
	ServerVersion string
	NodeID        uint32
}

// ReadClientHello consumes and validates the client's opening bytes
func ReadClientHello(r io.Reader) (*ClientHello, error) {
	magic := make([]byte, len(handshakeMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, &ProtocolError{Message: "reading handshake: " + err.Error()}
	}
	if !bytes.Equal(magic, handshakeMagic) {
		return nil, &ProtocolError{Message: "bad handshake magic"}
	}

	var version, nameLen uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, &ProtocolError{Message: "reading protocol version: " + err.Error()}
	}
	if version != ProtocolVersion {
		return nil, &ProtocolError{Message: fmt.Sprintf("unsupported protocol version %d", version)}
	}
	if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
		return nil, &ProtocolError{Message: "reading client name length: " + err.Error()}
	}
	if nameLen > maxClientNameLen {
		return nil, &ProtocolError{Message: fmt.Sprintf("client name of %d bytes exceeds limit", nameLen)}
	}

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, &ProtocolError{Message: "reading client name: " + err.Error()}
	}
	return &ClientHello{Version: version, ClientName: string(name)}, nil
}

// WriteServerHello accepts the handshake
func WriteServerHello(w io.Writer, nodeID uint32) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, ProtocolVersion)
	binary.Write(&buf, binary.BigEndian, uint32(len(ServerVersion)))
	buf.WriteString(ServerVersion)
	binary.Write(&buf, binary.BigEndian, nodeID)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteClientHello sends the client side of the handshake. Used by
// clients and tests.
func WriteClientHello(w io.Writer, clientName string) error {
	var buf bytes.Buffer
	buf.Write(handshakeMagic)
	binary.Write(&buf, binary.BigEndian, ProtocolVersion)
	binary.Write(&buf, binary.BigEndian, uint32(len(clientName)))
	buf.WriteString(clientName)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadServerHello decodes the server's acceptance on the client side
func ReadServerHello(r io.Reader) (*ServerHello, error) {
	var hello ServerHello
	if err := binary.Read(r, binary.BigEndian, &hello.Version); err != nil {
		return nil, &ProtocolError{Message: "reading server version: " + err.Error()}
	}
	if hello.Version != ProtocolVersion {
		return nil, &ProtocolError{Message: fmt.Sprintf("unsupported protocol version %d", hello.Version)}
	}

	var verLen uint32
	if err := binary.Read(r, binary.BigEndian, &verLen); err != nil {
		return nil, &ProtocolError{Message: "reading server version length: " + err.Error()}
	}
	if verLen > maxClientNameLen {
		return nil, &ProtocolError{Message: "server version string too long"}
	}
	ver := make([]byte, verLen)
	if _, err := io.ReadFull(r, ver); err != nil {
		return nil, &ProtocolError{Message: "reading server version string: " + err.Error()}
	}
	hello.ServerVersion = string(ver)

	if err := binary.Read(r, binary.BigEndian, &hello.NodeID); err != nil {
		return nil, &ProtocolError{Message: "reading node id: " + err.Error()}
	}
	return &hello, nil
}
