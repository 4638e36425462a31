// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var (
	// http://localhost:3000/, http://0.0.0.0:5173, http://[::1]:8080
	readyURLPattern = regexp.MustCompile(`https?://(?:\[[0-9a-fA-F:.]+\]|[A-Za-z0-9.-]+):\d{2,5}[^\s'"]*`)

	// "listening on port 3000", "Server running at port: 8080"
	readyPortPattern = regexp.MustCompile(`(?i)\b(?:listen(?:ing)?|running|started|serving|server)\b.*?\bport\b\s*:?\s*(\d{2,5})\b`)
)

// DetectReady scans one line of process output for a sign that the
// process is serving. Terminal escape sequences are ignored. Wildcard
// hosts are reported as localhost, which is where a browser on the
// host can reach them.
func DetectReady(line string) (ServerReady, bool) {
	line = ansi.Strip(line)

	if match := readyURLPattern.FindString(line); match != "" {
		parsed, err := url.Parse(strings.TrimRight(match, ".,;:)"))
		if err == nil {
			port, err := strconv.Atoi(parsed.Port())
			if err == nil && validPort(port) {
				host := parsed.Hostname()
				switch host {
				case "0.0.0.0", "::", "":
					host = "localhost"
				}
				parsed.Host = net.JoinHostPort(host, parsed.Port())
				return ServerReady{Port: port, URL: parsed.String()}, true
			}
		}
	}

	if match := readyPortPattern.FindStringSubmatch(line); match != nil {
		port, err := strconv.Atoi(match[1])
		if err == nil && validPort(port) {
			return ServerReady{Port: port, URL: "http://localhost:" + match[1]}, true
		}
	}
	return ServerReady{}, false
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
