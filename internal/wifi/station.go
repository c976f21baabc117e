// Package wifi brings a node onto its network in station mode.
//
// On a Linux host the association is delegated to NetworkManager through
// nmcli; link status is read from the kernel's interface table. Nodes
// with a blank SSID (wired hosts, or links managed elsewhere) skip the
// association step and only wait for the link.
package wifi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"strings"
)

// Station is the network capability a publisher node needs.
type Station interface {
	// Begin starts association with the given network. It does not wait
	// for the link to come up.
	Begin(ctx context.Context, ssid, passphrase string) error
	// Connected reports whether the link is up with a usable address.
	Connected(ctx context.Context) bool
}

// Runner executes an external command with stdin attached and returns
// its combined output. stdin may be nil.
type Runner func(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	return cmd.CombinedOutput()
}

// Interface is the subset of interface state Connected inspects.
type Interface struct {
	Name  string
	Up    bool
	Addrs []net.Addr
}

// NMStation is a [Station] backed by nmcli and the host interface table.
type NMStation struct {
	iface      string
	run        Runner
	interfaces func() ([]Interface, error)
	logger     *slog.Logger
}

// Option customizes an [NMStation].
type Option func(*NMStation)

// WithRunner replaces the command runner used for nmcli.
func WithRunner(r Runner) Option {
	return func(s *NMStation) { s.run = r }
}

// WithInterfaces replaces the interface table lookup.
func WithInterfaces(f func() ([]Interface, error)) Option {
	return func(s *NMStation) { s.interfaces = f }
}

// NewNMStation creates a station bound to iface. An empty iface lets
// NetworkManager pick the device and accepts any non-loopback interface
// as the link.
func NewNMStation(iface string, logger *slog.Logger, opts ...Option) *NMStation {
	if logger == nil {
		logger = slog.Default()
	}
	s := &NMStation{
		iface:      iface,
		run:        execRunner,
		interfaces: hostInterfaces,
		logger:     logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Begin asks NetworkManager to join ssid. A blank ssid is a no-op.
// The passphrase is answered on nmcli's stdin (--ask) and never appears
// in the process arguments.
func (s *NMStation) Begin(ctx context.Context, ssid, passphrase string) error {
	if ssid == "" {
		s.logger.Info("wifi ssid not configured, waiting for existing link", "interface", s.iface)
		return nil
	}

	var args []string
	var stdin io.Reader
	if passphrase != "" {
		args = append(args, "--ask")
		stdin = strings.NewReader(passphrase + "\n")
	}
	args = append(args, "device", "wifi", "connect", ssid)
	if s.iface != "" {
		args = append(args, "ifname", s.iface)
	}

	s.logger.Info("wifi association started", "ssid", ssid, "interface", s.iface)
	if out, err := s.run(ctx, stdin, "nmcli", args...); err != nil {
		return fmt.Errorf("nmcli connect %s: %w: %s", ssid, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Connected reports whether the bound interface (or, when unbound, any
// non-loopback interface) is up and carries a global unicast address.
func (s *NMStation) Connected(ctx context.Context) bool {
	ifaces, err := s.interfaces()
	if err != nil {
		s.logger.Debug("wifi interface lookup failed", "error", err)
		return false
	}

	for _, ifc := range ifaces {
		if s.iface != "" && ifc.Name != s.iface {
			continue
		}
		if !ifc.Up {
			continue
		}
		for _, a := range ifc.Addrs {
			if usable(a) {
				return true
			}
		}
	}
	return false
}

func usable(a net.Addr) bool {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return false
	}
	return ip.IsGlobalUnicast()
}

func hostInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{
			Name:  ifc.Name,
			Up:    ifc.Flags&net.FlagUp != 0,
			Addrs: addrs,
		})
	}
	return out, nil
}
