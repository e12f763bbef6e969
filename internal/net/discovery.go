package net

import (
	"encoding/json"
	"net"
	"strings"

	"go.uber.org/zap"
)

// DiscoveryProbe is the exact payload LAN clients broadcast to find servers.
const DiscoveryProbe = "MSN_DISCOVER"

type discoveryReply struct {
	ServerName string
	Port       int
	UserCount  int
}

// Discovery answers LAN probes over UDP with the server's name, TCP port,
// and the current authenticated-user count.
type Discovery struct {
	conn       *net.UDPConn
	serverName string
	tcpPort    int
	userCount  func() int
	log        *zap.Logger
	closed     chan struct{}
}

func NewDiscovery(port int, serverName string, tcpPort int, userCount func() int, log *zap.Logger) (*Discovery, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	return &Discovery{
		conn:       conn,
		serverName: serverName,
		tcpPort:    tcpPort,
		userCount:  userCount,
		log:        log,
		closed:     make(chan struct{}),
	}, nil
}

// Serve answers probes until Close. Non-probe datagrams are ignored.
func (d *Discovery) Serve() error {
	buf := make([]byte, 256)
	for {
		n, raddr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.closed:
				return nil
			default:
				return err
			}
		}
		if strings.TrimSpace(string(buf[:n])) != DiscoveryProbe {
			continue
		}

		reply, err := json.Marshal(discoveryReply{
			ServerName: d.serverName,
			Port:       d.tcpPort,
			UserCount:  d.userCount(),
		})
		if err != nil {
			continue
		}
		if _, err := d.conn.WriteToUDP(reply, raddr); err != nil {
			d.log.Debug("discovery reply failed", zap.Error(err))
		}
	}
}

func (d *Discovery) Close() {
	close(d.closed)
	d.conn.Close()
}

// Addr returns the UDP listener's address.
func (d *Discovery) Addr() net.Addr {
	return d.conn.LocalAddr()
}
