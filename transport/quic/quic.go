// go-sebridge
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-sebridge.
//
// go-sebridge is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-sebridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-sebridge; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package quic carries the host link over a single QUIC stream, for hosts
// that reach the bridge over the network instead of a serial cable.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync/atomic"
	"time"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated on every connection
const ALPN = "sebridge"

const (
	keepAlivePeriod = 15 * time.Second
	maxIdleTimeout  = 60 * time.Second

	closeNormal quic.ApplicationErrorCode = 0
	closeFault  quic.ApplicationErrorCode = 1
)

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: keepAlivePeriod,
		MaxIdleTimeout:  maxIdleTimeout,
	}
}

// Listener accepts host connections
type Listener struct {
	listener *quic.Listener
}

// Listen starts listening on addr. A nil tlsConf gets a self-signed
// certificate.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: address is required", sebridge.ErrInvalidParameter)
	}
	if tlsConf == nil {
		var err error
		tlsConf, err = GenerateTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	listener, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Listener{listener: listener}, nil
}

// Accept waits for a host to connect and open its stream. The stream
// becomes visible once the host sends its first packet.
func (l *Listener) Accept(ctx context.Context) (*Transport, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, sebridge.NewTransportError("accept", l.Addr().String(), err, sebridge.ErrorTypePermanent)
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(closeFault, "no stream")
		return nil, sebridge.NewTransportError("accept", conn.RemoteAddr().String(), err, sebridge.ErrorTypeTransient)
	}

	sebridge.Logger().Debug("quic host connected", "remote", conn.RemoteAddr().String())
	return newTransport(conn, stream), nil
}

// Addr returns the listening address
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops accepting connections
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Dial connects to a bridge at addr and opens the host stream. A nil
// tlsConf accepts any server certificate.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (*Transport, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{
			NextProtos:         []string{ALPN},
			InsecureSkipVerify: true, //nolint:gosec // bridges use self-signed certificates
		}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, sebridge.NewTransportError("dial", addr,
			fmt.Errorf("%w: %w", sebridge.ErrDeviceNotFound, err), sebridge.ErrorTypeTransient)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(closeFault, "failed to open stream")
		return nil, sebridge.NewTransportError("dial", addr, err, sebridge.ErrorTypeTransient)
	}
	return newTransport(conn, stream), nil
}

// Transport implements sebridge.Transport over one bidirectional stream
type Transport struct {
	conn   *quic.Conn
	stream *quic.Stream
	remote string
	closed atomic.Bool
}

func newTransport(conn *quic.Conn, stream *quic.Stream) *Transport {
	return &Transport{conn: conn, stream: stream, remote: conn.RemoteAddr().String()}
}

// Read reads from the stream
func (t *Transport) Read(p []byte) (int, error) {
	n, err := t.stream.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) || t.closed.Load() {
			return n, sebridge.NewTransportError("read", t.remote,
				fmt.Errorf("%w: %w", sebridge.ErrTransportClosed, err), sebridge.ErrorTypePermanent)
		}
		return n, sebridge.NewTransportError("read", t.remote,
			fmt.Errorf("%w: %w", sebridge.ErrTransportRead, err), sebridge.ErrorTypePermanent)
	}
	return n, nil
}

// Write writes to the stream
func (t *Transport) Write(p []byte) (int, error) {
	n, err := t.stream.Write(p)
	if err != nil {
		return n, sebridge.NewTransportError("write", t.remote,
			fmt.Errorf("%w: %w", sebridge.ErrTransportWrite, err), sebridge.ErrorTypePermanent)
	}
	return n, nil
}

// Close closes the stream and the connection, unblocking a pending Read
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.stream.CancelRead(0)
	_ = t.stream.Close()
	if err := t.conn.CloseWithError(closeNormal, "closed"); err != nil {
		return fmt.Errorf("close %s: %w", t.remote, err)
	}
	return nil
}

// RemoteAddr returns the peer address
func (t *Transport) RemoteAddr() string {
	return t.remote
}

// Type returns the transport type
func (*Transport) Type() sebridge.TransportType {
	return sebridge.TransportQUIC
}

// GenerateTLSConfig returns a server config with a fresh self-signed
// certificate
func GenerateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// Ensure Transport implements sebridge.Transport
var _ sebridge.Transport = (*Transport)(nil)
