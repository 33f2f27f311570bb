package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseTXT(t *testing.T) {

	assert := assert.New(t)

	txt := ParseTXT([]string{
		"product_name=TankSense",
		"Product_Model = tankSense ",
		"serial_number=T-001",
		"flag",
		"=orphan",
		"serial_number=T-002",
	})
	assert.Equal("TankSense", txt[TXT_PRODUCT_NAME])
	assert.Equal("tankSense", txt[TXT_PRODUCT_MODEL])
	assert.Equal("T-002", txt[TXT_SERIAL_NUMBER])
	assert.Contains(txt, "flag")
	assert.Empty(txt["flag"])
	assert.Len(txt, 4)
}

func TestEntryToAnnouncement(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	seenAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a, err := EntryToAnnouncement("tank-1", []string{
		"product_name=TankSense",
		"product_model=tankSense",
		"serial_number=T-001",
		"protocol_version=2",
	}, []net.IP{net.ParseIP("fe80::1"), net.ParseIP("192.168.1.20")}, 8080, seenAt)
	require.NoError(err)
	assert.Equal("tank-1", a.Instance)
	assert.Equal("192.168.1.20:8080", a.Address)
	assert.Equal("TankSense", a.ProductName)
	assert.Equal("tankSense", a.ProductModel)
	assert.Equal("T-001", a.Serial)
	assert.Equal("2", a.ProtocolVersion)
	assert.Equal(seenAt, a.SeenAt)

	a, err = EntryToAnnouncement("plug", []string{"product_model=ecoPlug"}, []net.IP{net.ParseIP("fe80::2")}, 80, seenAt)
	require.NoError(err)
	assert.Equal("[fe80::2]:80", a.Address)
	assert.Empty(a.Serial)
}

func TestEntryToAnnouncementFail(t *testing.T) {

	assert := assert.New(t)

	ips := []net.IP{net.ParseIP("192.168.1.20")}
	_, err := EntryToAnnouncement("x", []string{"product_model=ecoPlug"}, nil, 80, time.Now())
	assert.Error(err)
	_, err = EntryToAnnouncement("x", []string{"product_model=ecoPlug"}, ips, 0, time.Now())
	assert.Error(err)
	_, err = EntryToAnnouncement("x", []string{"serial_number=1"}, ips, 80, time.Now())
	assert.Error(err)
}

func TestNewZeroconfBrowser(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	b, err := NewZeroconfBrowser(cfg.Discovery, zap.NewNop())
	require.NoError(err)
	assert.Equal("_ecopilot._tcp", b.service)
	assert.Equal(time.Second, b.interval)

	cfg.Discovery.Interfaces = []string{"does-not-exist0"}
	_, err = NewZeroconfBrowser(cfg.Discovery, zap.NewNop())
	assert.Error(err)
}
