package onvif

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aktnk/camerad/internal/domain/models"
)

const (
	sweepTimeout    = 3 * time.Minute
	probeTimeout    = 2 * time.Second
	preflightWait   = 500 * time.Millisecond
	maxProbeWorkers = 32
)

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing">
  <s:Header>
    <a:Action s:mustUnderstand="1">http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
    <a:MessageID>uuid:%s</a:MessageID>
    <a:To s:mustUnderstand="1">urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
  </s:Header>
  <s:Body>
    <Probe xmlns="http://schemas.xmlsoap.org/ws/2005/04/discovery">
      <d:Types xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery" xmlns:dp0="http://www.onvif.org/ver10/network/wsdl">dp0:NetworkVideoTransmitter</d:Types>
    </Probe>
  </s:Body>
</s:Envelope>`

// Discoverer sweeps the primary interface's /24 for ONVIF devices. Hosts
// that do not accept a TCP connection on port 80 quickly are skipped, the
// rest get a WS-Discovery Probe over HTTP.
type Discoverer struct {
	log   *slog.Logger
	httpc *http.Client
}

func NewDiscoverer(log *slog.Logger) *Discoverer {
	return &Discoverer{
		log: log,
		httpc: &http.Client{
			Timeout: probeTimeout,
		},
	}
}

// Discover returns the devices found on the local /24, deduplicated by
// address and sorted for stable output. The sweep honours ctx and is
// capped at three minutes regardless.
func (d *Discoverer) Discover(ctx context.Context) ([]models.DiscoveredDevice, error) {
	const op = "onvif.Discover"

	subnet, err := primarySubnet()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	d.log.Info("starting camera sweep", slog.String("subnet", subnet+"0/24"))

	var (
		mu    sync.Mutex
		found = make(map[string]models.DiscoveredDevice)
	)

	sem := make(chan struct{}, maxProbeWorkers)
	var wg sync.WaitGroup

sweep:
	for host := 1; host <= 254; host++ {
		addr := fmt.Sprintf("%s%d", subnet, host)

		select {
		case <-ctx.Done():
			break sweep
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			dev, ok := d.probeHost(ctx, addr)
			if !ok {
				return
			}

			mu.Lock()
			if _, dup := found[addr]; !dup {
				found[addr] = dev
			}
			mu.Unlock()
		}(addr)
	}

	wg.Wait()

	devices := make([]models.DiscoveredDevice, 0, len(found))
	for _, dev := range found {
		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })

	d.log.Info("camera sweep finished", slog.Int("found", len(devices)))

	return devices, nil
}

func (d *Discoverer) probeHost(ctx context.Context, addr string) (models.DiscoveredDevice, bool) {
	if !tcpAlive(ctx, addr) {
		return models.DiscoveredDevice{}, false
	}

	envelope := fmt.Sprintf(probeTemplate, uuid.NewString())
	endpoint := fmt.Sprintf("http://%s/onvif/device_service", addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(envelope))
	if err != nil {
		return models.DiscoveredDevice{}, false
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return models.DiscoveredDevice{}, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return models.DiscoveredDevice{}, false
	}

	dev, ok := parseProbeMatch(string(body), addr)
	if !ok {
		return models.DiscoveredDevice{}, false
	}

	d.log.Debug("camera found", slog.String("address", addr), slog.String("name", dev.Name))

	return dev, true
}

// tcpAlive filters dead hosts before the heavier SOAP round trip.
func tcpAlive(ctx context.Context, addr string) bool {
	dialer := net.Dialer{Timeout: preflightWait}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, "80"))
	if err != nil {
		return false
	}
	conn.Close()

	return true
}

// primarySubnet finds the first non-loopback IPv4 address and returns its
// /24 prefix including the trailing dot.
func primarySubnet() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}

		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}

		return fmt.Sprintf("%d.%d.%d.", ip4[0], ip4[1], ip4[2]), nil
	}

	return "", fmt.Errorf("no active ipv4 interface")
}
