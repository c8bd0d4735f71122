// Package netaddr works out the URL other devices on the LAN should use to
// reach this machine.
package netaddr

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackpal/gateway"
)

// Resolver finds the local IPv4 address. The function fields exist so tests
// can replace the lookups that touch the real network.
type Resolver struct {
	DiscoverGateway func() (net.IP, error)
	Interfaces      func() ([]Iface, error)
	// Outbound returns the source address the kernel would pick for an
	// outbound UDP flow; no packet is sent.
	Outbound func() (net.IP, error)
}

// Iface is the part of net.Interface the resolver needs.
type Iface struct {
	Name  string
	Up    bool
	Addrs []net.Addr
}

func NewResolver() *Resolver {
	return &Resolver{
		DiscoverGateway: gateway.DiscoverGateway,
		Interfaces:      systemInterfaces,
		Outbound:        outboundIP,
	}
}

// LocalIP returns the IPv4 address on the interface facing the default
// gateway, falling back to the outbound route source address.
func (r *Resolver) LocalIP() (net.IP, error) {
	gw, gwErr := r.DiscoverGateway()
	if gwErr == nil {
		ip, err := r.ipForGateway(gw)
		if err == nil {
			return ip, nil
		}
		gwErr = err
	}
	ip, err := r.Outbound()
	if err == nil && usable(ip) {
		return ip.To4(), nil
	}
	if err == nil {
		err = fmt.Errorf("outbound address %s is not a LAN address", ip)
	}
	return nil, errors.Join(fmt.Errorf("gateway lookup: %w", gwErr), err)
}

func (r *Resolver) ipForGateway(gw net.IP) (net.IP, error) {
	ifaces, err := r.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if !iface.Up {
			continue
		}
		for _, addr := range iface.Addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || !usable(ipnet.IP) {
				continue
			}
			if ipnet.Contains(gw) {
				return ipnet.IP.To4(), nil
			}
		}
	}
	return nil, fmt.Errorf("no local IPv4 address in the subnet of gateway %s", gw)
}

func usable(ip net.IP) bool {
	v4 := ip.To4()
	return v4 != nil && v4.IsGlobalUnicast() && !v4.IsLoopback()
}

func systemInterfaces() ([]Iface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Iface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			slog.Debug("interface addresses", "interface", iface.Name, "error", err)
			continue
		}
		out = append(out, Iface{Name: iface.Name, Up: iface.Flags&net.FlagUp != 0, Addrs: addrs})
	}
	return out, nil
}

func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, errors.New("unexpected local address type")
	}
	return addr.IP, nil
}

// BaseURL builds the advertised URL for a server listening on host:port. An
// explicit override wins; a wildcard or empty host is replaced by the LAN
// address from r, or by localhost when that cannot be found.
func BaseURL(r *Resolver, override, host string, port int) (string, error) {
	if override != "" {
		u, err := url.Parse(override)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("invalid advertise URL %q", override)
		}
		return strings.TrimSuffix(u.String(), "/"), nil
	}
	h := host
	if h == "" || h == "0.0.0.0" || h == "::" {
		ip, err := r.LocalIP()
		if err != nil {
			slog.Warn("could not determine LAN address, advertising localhost", "error", err)
			h = "localhost"
		} else {
			h = ip.String()
		}
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(h, strconv.Itoa(port))}
	return u.String(), nil
}
