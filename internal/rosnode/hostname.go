package rosnode

import (
	"net"
	"os"
	"strings"
)

// Address families reported by NetworkInterface.
const (
	FamilyIPv4 = "IPv4"
	FamilyIPv6 = "IPv6"
)

// NetworkInterface is one address bound to a local interface.
type NetworkInterface struct {
	Name     string
	Family   string
	Address  string
	Internal bool
}

// ResolveHostname picks the name this node advertises to peers:
//  1. ROS_HOSTNAME, then ROS_IP, whichever is first non-empty
//  2. the operating system hostname
//  3. the best interface address: the first external one, replaced by a later
//     public address if the current pick is private, or by a later IPv6
//     address if the current pick is IPv4
//  4. 127.0.0.1
func ResolveHostname(getEnv func(string) string, getHostname func() string, getInterfaces func() []NetworkInterface) string {
	for _, key := range []string{"ROS_HOSTNAME", "ROS_IP"} {
		if v := getEnv(key); v != "" {
			return v
		}
	}

	if h := getHostname(); h != "" {
		return h
	}

	var best *NetworkInterface
	for _, iface := range getInterfaces() {
		if (iface.Family != FamilyIPv4 && iface.Family != FamilyIPv6) || iface.Internal || iface.Address == "" {
			continue
		}
		iface := iface
		switch {
		case best == nil:
			best = &iface
		case IsPrivateIP(best.Address) && !IsPrivateIP(iface.Address):
			best = &iface
		case best.Family != FamilyIPv6 && iface.Family == FamilyIPv6:
			best = &iface
		}
	}
	if best != nil {
		return best.Address
	}

	return "127.0.0.1"
}

// IsPrivateIP reports whether ip starts with 192.168, 10. or 169.254.
// 172.16/12 is not treated as private.
func IsPrivateIP(ip string) bool {
	return strings.HasPrefix(ip, "192.168") || strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "169.254")
}

// OSHostname returns the operating system hostname, or "" on error.
func OSHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

// SystemInterfaces lists the addresses of every local interface.
func SystemInterfaces() []NetworkInterface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var out []NetworkInterface
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			family := FamilyIPv6
			if ipNet.IP.To4() != nil {
				family = FamilyIPv4
			}
			out = append(out, NetworkInterface{
				Name:     iface.Name,
				Family:   family,
				Address:  ipNet.IP.String(),
				Internal: iface.Flags&net.FlagLoopback != 0,
			})
		}
	}
	return out
}
