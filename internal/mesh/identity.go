package mesh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sort"
)

// ErrNoIdentity is returned when no node id can be derived from the host
var ErrNoIdentity = errors.New("no hardware address to derive node id from")

// ResolveNodeID returns configured when it is set, otherwise an id derived
// from the host's network hardware
func ResolveNodeID(configured uint32) (uint32, error) {
	if configured != 0 {
		return configured, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return 0, fmt.Errorf("failed to list network interfaces: %w", err)
	}
	return nodeIDFromInterfaces(ifaces)
}

// nodeIDFromInterfaces takes the last four bytes of the hardware address of
// the lowest-named non-loopback interface
func nodeIDFromInterfaces(ifaces []net.Interface) (uint32, error) {
	candidates := make([]net.Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) < 4 {
			continue
		}
		candidates = append(candidates, iface)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Name < candidates[j].Name
	})

	for _, iface := range candidates {
		addr := iface.HardwareAddr
		id := binary.BigEndian.Uint32(addr[len(addr)-4:])
		if id != 0 {
			return id, nil
		}
	}
	return 0, ErrNoIdentity
}
