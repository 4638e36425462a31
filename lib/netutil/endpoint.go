// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"fmt"
	"net/url"
)

// StreamAddress is a parsed stream endpoint, ready for net.Dial or
// net.Listen.
type StreamAddress struct {
	Network string // "tcp" or "unix"
	Address string // host:port, or a socket path
}

// String returns the endpoint form of the address.
func (a StreamAddress) String() string {
	if a.Network == "unix" {
		return "unix://" + a.Address
	}
	return a.Network + "://" + a.Address
}

// ParseStreamEndpoint parses tcp://host:port and unix:///path endpoints.
func ParseStreamEndpoint(endpoint string) (StreamAddress, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return StreamAddress{}, fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}
	switch parsed.Scheme {
	case "tcp":
		if parsed.Host == "" {
			return StreamAddress{}, fmt.Errorf("endpoint %q has no host:port", endpoint)
		}
		if parsed.Port() == "" {
			return StreamAddress{}, fmt.Errorf("endpoint %q has no port", endpoint)
		}
		return StreamAddress{Network: "tcp", Address: parsed.Host}, nil
	case "unix":
		path := parsed.Path
		if parsed.Host != "" {
			// unix://relative/path puts the first segment in Host.
			path = parsed.Host + parsed.Path
		}
		if path == "" {
			return StreamAddress{}, fmt.Errorf("endpoint %q has no socket path", endpoint)
		}
		return StreamAddress{Network: "unix", Address: path}, nil
	default:
		return StreamAddress{}, fmt.Errorf("endpoint %q: unsupported scheme %q (want tcp or unix)", endpoint, parsed.Scheme)
	}
}
