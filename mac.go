package ialarm

import (
	"fmt"
	"net"

	"github.com/j-keck/arping"
)

// MacAddress finds the panel's MAC address with an ARP request. It only
// works when the panel is on the local network, and needs CAP_NET_RAW.
func MacAddress(host string) (string, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return "", fmt.Errorf("could not get the mac address: %w", err)
		}
		for _, candidate := range ips {
			if candidate.To4() != nil {
				ip = candidate
				break
			}
		}
		if ip == nil {
			return "", fmt.Errorf("could not get the mac address: %s has no ipv4 address", host)
		}
	}
	hw, _, err := arping.Ping(ip)
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}
