package utils

import (
	"net"
	"strings"
)

// cgnatBlock is 100.64.0.0/10. Cloudflare WARP, Tailscale and carrier
// grade NATs hand out addresses from it.
var cgnatBlock = func() *net.IPNet {
	_, block, _ := net.ParseCIDR("100.64.0.0/10")
	return block
}()

var tunnelNameHints = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// Interface is the part of a network interface ShouldForceRelay looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []net.IP
}

// ShouldForceRelay reports whether this host is likely behind a VPN or
// CGNAT, where direct candidates rarely connect and TURN should be forced.
func ShouldForceRelay() bool {
	return relayHint(systemInterfaces())
}

func relayHint(ifaces []Interface) bool {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, hint := range tunnelNameHints {
			if strings.Contains(name, hint) {
				return true
			}
		}

		for _, ip := range iface.Addrs {
			if cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}

func systemInterfaces() []Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		info := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}

		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					info.Addrs = append(info.Addrs, v.IP)
				case *net.IPAddr:
					info.Addrs = append(info.Addrs, v.IP)
				}
			}
		}
		out = append(out, info)
	}
	return out
}
