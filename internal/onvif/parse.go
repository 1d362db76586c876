package onvif

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/aktnk/camerad/internal/domain/models"
)

// The replies are parsed with narrow regexes that tolerate arbitrary
// namespace prefixes; only the fields the product uses are extracted.
var (
	reProfileToken = regexp.MustCompile(`(?s)<[^>]*:Profiles[^>]*\stoken="([^"]+)"`)
	reStreamURI    = regexp.MustCompile(`(?s)<[^:>]*:?Uri>(.*?)</[^:>]*:?Uri>`)
	rePTZXAddr     = regexp.MustCompile(`(?s)<[^:>]*:PTZ>.*?<[^:>]*:XAddr>(.*?)</[^:>]*:XAddr>`)
	reFaultString  = regexp.MustCompile(`(?s)<[^:>]*:?(?:Reason|faultstring)>\s*(?:<[^:>]*:?Text[^>]*>)?(.*?)(?:</[^:>]*:?Text>)?\s*</[^:>]*:?(?:Reason|faultstring)>`)

	reXAddrs = regexp.MustCompile(`(?s)<[^:>]*:?XAddrs>(.*?)</[^:>]*:?XAddrs>`)
	reScopes = regexp.MustCompile(`(?s)<[^:>]*:?Scopes>(.*?)</[^:>]*:?Scopes>`)

	dateTimeFields = map[string]*regexp.Regexp{
		"Year":   regexp.MustCompile(`<[^:>]*:?Year>(\d+)</[^:>]*:?Year>`),
		"Month":  regexp.MustCompile(`<[^:>]*:?Month>(\d+)</[^:>]*:?Month>`),
		"Day":    regexp.MustCompile(`<[^:>]*:?Day>(\d+)</[^:>]*:?Day>`),
		"Hour":   regexp.MustCompile(`<[^:>]*:?Hour>(\d+)</[^:>]*:?Hour>`),
		"Minute": regexp.MustCompile(`<[^:>]*:?Minute>(\d+)</[^:>]*:?Minute>`),
		"Second": regexp.MustCompile(`<[^:>]*:?Second>(\d+)</[^:>]*:?Second>`),
	}
)

func parseProfileToken(xml string) (string, bool) {
	m := reProfileToken.FindStringSubmatch(xml)
	if m == nil {
		return "", false
	}

	return m[1], true
}

func parseStreamURI(xml string) (string, bool) {
	m := reStreamURI.FindStringSubmatch(xml)
	if m == nil {
		return "", false
	}

	return strings.TrimSpace(m[1]), true
}

func parsePTZXAddr(xml string) (string, bool) {
	m := rePTZXAddr.FindStringSubmatch(xml)
	if m == nil {
		return "", false
	}

	return strings.TrimSpace(m[1]), true
}

func parseFaultString(xml string) string {
	m := reFaultString.FindStringSubmatch(xml)
	if m == nil {
		return ""
	}

	return strings.TrimSpace(m[1])
}

func parseDateTimeField(xml, field string) (int, bool) {
	m := dateTimeFields[field].FindStringSubmatch(xml)
	if m == nil {
		return 0, false
	}

	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}

	return v, true
}

// parseProbeMatch extracts a discovered device from a ProbeMatches reply.
// Name and manufacturer come from the scope URIs; the port from the first
// XAddr when it carries one.
func parseProbeMatch(xml, address string) (models.DiscoveredDevice, bool) {
	if !strings.Contains(xml, "ProbeMatch") {
		return models.DiscoveredDevice{}, false
	}

	dev := models.DiscoveredDevice{
		Address:      address,
		Port:         80,
		Name:         "Unknown Camera",
		Manufacturer: "Unknown",
	}

	if m := reXAddrs.FindStringSubmatch(xml); m != nil {
		if first := strings.Fields(strings.TrimSpace(m[1])); len(first) > 0 {
			xaddr := first[0]
			dev.XAddr = &xaddr

			if u, err := url.Parse(xaddr); err == nil {
				if p := u.Port(); p != "" {
					if port, err := strconv.Atoi(p); err == nil {
						dev.Port = port
					}
				}
			}
		}
	}

	if m := reScopes.FindStringSubmatch(xml); m != nil {
		var hardware string

		for _, scope := range strings.Fields(m[1]) {
			decoded := scope
			if d, err := url.PathUnescape(scope); err == nil {
				decoded = d
			}

			switch {
			case strings.Contains(decoded, "/name/"):
				parts := strings.Split(decoded, "/name/")
				dev.Name = parts[len(parts)-1]
			case strings.Contains(decoded, "/hardware/"):
				parts := strings.Split(decoded, "/hardware/")
				hardware = parts[len(parts)-1]
			}
		}

		if dev.Manufacturer == "Unknown" && hardware != "" {
			dev.Manufacturer = hardware
		}
	}

	return dev, true
}
