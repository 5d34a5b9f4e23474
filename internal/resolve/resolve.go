// Package resolve wraps name resolution and rendering for the CLI
// front ends: turning a target argument into a literal address to
// probe, and turning a discovered address back into a display string,
// optionally with reverse DNS.
package resolve

import (
	"fmt"
	"net"
)

// Target resolves a positional CLI argument (FQDN or literal address)
// to the IP it should be probed at. prefer6 selects AAAA over A when
// both are available for a name.
func Target(arg string, prefer6 bool) (net.IP, error) {
	if ip := net.ParseIP(arg); ip != nil {
		return ip, nil
	}
	ips, err := net.LookupIP(arg)
	if err != nil {
		return nil, fmt.Errorf("resolve: %s: %w", arg, err)
	}
	var v4, v6 net.IP
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil && v4 == nil {
			v4 = ip4
		} else if ip.To4() == nil && v6 == nil {
			v6 = ip
		}
	}
	if prefer6 && v6 != nil {
		return v6, nil
	}
	if !prefer6 && v4 != nil {
		return v4, nil
	}
	if v6 != nil {
		return v6, nil
	}
	if v4 != nil {
		return v4, nil
	}
	return nil, fmt.Errorf("resolve: %s: no usable address", arg)
}

// Render formats addr for display, appending reverse DNS when resolve
// is true and a PTR record exists.
func Render(addr net.IP, resolve bool) string {
	if addr == nil {
		return "*"
	}
	if !resolve {
		return addr.String()
	}
	names, err := net.LookupAddr(addr.String())
	if err != nil || len(names) == 0 {
		return addr.String()
	}
	return fmt.Sprintf("%s (%s)", names[0], addr.String())
}
