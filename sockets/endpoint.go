// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sockets

import (
	"net"
	"strconv"
)

// Family is the address family of an [Endpoint].
type Family string

const (
	IPv4 Family = "IPv4"
	IPv6 Family = "IPv6"
)

// Endpoint describes the far end of a socket.
type Endpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Family  Family `json:"family"`
}

// EndpointFromAddr builds an Endpoint from a socket address.
// IPv4-mapped IPv6 addresses are reported as IPv4. An IPv6 zone is
// appended to the address as "%zone".
func EndpointFromAddr(addr net.Addr) Endpoint {
	switch typed := addr.(type) {
	case *net.TCPAddr:
		return endpointFromIP(typed.IP, typed.Zone, typed.Port)
	case *net.UDPAddr:
		return endpointFromIP(typed.IP, typed.Zone, typed.Port)
	case nil:
		return Endpoint{Family: IPv4}
	}

	host, portString, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Endpoint{Address: addr.String(), Family: IPv4}
	}
	port, _ := strconv.Atoi(portString)
	return endpointFromIP(net.ParseIP(host), "", port)
}

func endpointFromIP(ip net.IP, zone string, port int) Endpoint {
	if ipv4 := ip.To4(); ipv4 != nil {
		return Endpoint{Address: ipv4.String(), Port: port, Family: IPv4}
	}
	address := ip.String()
	if zone != "" {
		address += "%" + zone
	}
	return Endpoint{Address: address, Port: port, Family: IPv6}
}
