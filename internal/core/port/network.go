package port

import (
	"context"
	"net"
	"time"
)

// Dialer opens device sessions. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Announcement is one presence announcement of a device on the local network.
type Announcement struct {
	Instance        string
	Address         string
	ProductName     string
	ProductModel    string
	Serial          string
	ProtocolVersion string
	SeenAt          time.Time
}

// Browser reports device announcements until ctx is cancelled. Known devices are reported again on
// every scan round.
type Browser interface {
	Browse(ctx context.Context, announcements chan<- Announcement) error
}
