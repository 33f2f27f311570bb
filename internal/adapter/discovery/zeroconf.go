package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"
)

const (
	TXT_PRODUCT_NAME     = "product_name"
	TXT_PRODUCT_MODEL    = "product_model"
	TXT_SERIAL_NUMBER    = "serial_number"
	TXT_PROTOCOL_VERSION = "protocol_version"
)

// ZeroconfBrowser browses EcoPilot devices over mDNS. Every scan round restarts the query, so
// devices still on the network are reported again.
type ZeroconfBrowser struct {
	service  string
	domain   string
	interval time.Duration
	opts     []zeroconf.ClientOption
	logger   *zap.Logger
}

func NewZeroconfBrowser(cfg config.DiscoveryConfig, logger *zap.Logger) (*ZeroconfBrowser, error) {
	var opts []zeroconf.ClientOption
	if len(cfg.Interfaces) > 0 {
		ifaces := make([]net.Interface, 0, len(cfg.Interfaces))
		for _, name := range cfg.Interfaces {
			iface, err := net.InterfaceByName(name)
			if err != nil {
				return nil, fmt.Errorf("discovery interface %s: %w", name, err)
			}
			ifaces = append(ifaces, *iface)
		}
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	return &ZeroconfBrowser{
		service:  cfg.Service,
		domain:   cfg.Domain,
		interval: cfg.ScanInterval(),
		opts:     opts,
		logger:   logger.With(zap.String("component", "zeroconf")),
	}, nil
}

func (b *ZeroconfBrowser) Browse(ctx context.Context, announcements chan<- port.Announcement) error {
	for ctx.Err() == nil {
		if err := b.round(ctx, announcements); err != nil {
			return err
		}
	}
	return nil
}

func (b *ZeroconfBrowser) round(ctx context.Context, announcements chan<- port.Announcement) error {
	roundCtx, cancel := context.WithTimeout(ctx, b.interval)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	removed := make(chan *zeroconf.ServiceEntry, 16)
	done := make(chan error, 1)
	go func() {
		done <- zeroconf.Browse(roundCtx, b.service, b.domain, entries, removed, b.opts...)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			a, err := EntryToAnnouncement(entry.Instance, entry.Text, entryAddresses(entry), entry.Port, time.Now())
			if err != nil {
				b.logger.Debug("ignoring service entry", zap.String("instance", entry.Instance), zap.Error(err))
				continue
			}
			select {
			case announcements <- a:
			case <-ctx.Done():
				return nil
			}
		case _, ok := <-removed:
			// goodbye packets are not trusted, lost devices age out
			if !ok {
				removed = nil
			}
		case err := <-done:
			done = nil
			if err != nil && roundCtx.Err() == nil {
				return fmt.Errorf("mdns browse: %w", err)
			}
		case <-roundCtx.Done():
			return nil
		}
	}
}

func entryAddresses(entry *zeroconf.ServiceEntry) []net.IP {
	ips := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	ips = append(ips, entry.AddrIPv4...)
	return append(ips, entry.AddrIPv6...)
}

// EntryToAnnouncement maps a resolved service entry to an announcement. IPv4 addresses win over
// IPv6 ones.
func EntryToAnnouncement(instance string, text []string, ips []net.IP, servicePort int, seenAt time.Time) (port.Announcement, error) {
	if len(ips) == 0 {
		return port.Announcement{}, fmt.Errorf("no address for %s", instance)
	}
	if servicePort <= 0 {
		return port.Announcement{}, fmt.Errorf("no port for %s", instance)
	}
	ip := ips[0]
	for _, candidate := range ips {
		if candidate.To4() != nil {
			ip = candidate
			break
		}
	}
	txt := ParseTXT(text)
	if txt[TXT_PRODUCT_MODEL] == "" && txt[TXT_PRODUCT_NAME] == "" {
		return port.Announcement{}, fmt.Errorf("no product for %s", instance)
	}
	return port.Announcement{
		Instance:        instance,
		Address:         net.JoinHostPort(ip.String(), strconv.Itoa(servicePort)),
		ProductName:     txt[TXT_PRODUCT_NAME],
		ProductModel:    txt[TXT_PRODUCT_MODEL],
		Serial:          txt[TXT_SERIAL_NUMBER],
		ProtocolVersion: txt[TXT_PROTOCOL_VERSION],
		SeenAt:          seenAt,
	}, nil
}

// ParseTXT splits "key=value" records. Keys are case insensitive, later records win.
func ParseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, record := range records {
		key, value, _ := strings.Cut(record, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		txt[key] = strings.TrimSpace(value)
	}
	return txt
}

// ensure interface compliance
var _ port.Browser = (*ZeroconfBrowser)(nil)
