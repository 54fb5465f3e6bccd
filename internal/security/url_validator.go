// Package security implements SSRF-safe admission of sitemap-discovered
// URLs before they are handed to the browser pool, plus log-safe
// redaction helpers (redact.go) for URLs that end up in structured logs.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/idna"
)

// dnsLookupTimeout bounds admission-time DNS resolution so a slow or
// unresponsive resolver for one sitemap URL can't stall discovery.
const dnsLookupTimeout = 5 * time.Second

// resolveHostTimeout resolves hostname to its IPs, bounded by ctx's deadline
// or dnsLookupTimeout, whichever the caller didn't already set.
func resolveHostTimeout(ctx context.Context, hostname string) ([]net.IP, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dnsLookupTimeout)
		defer cancel()
	}

	resolver := &net.Resolver{}
	return resolver.LookupIP(ctx, "ip", hostname)
}

// Admission errors. A sitemap URL rejected with any of these is dropped
// from the discovered URL list before it ever reaches the queue.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
	ErrDNSLookupFailed  = errors.New("DNS lookup failed or returned no IPs")
	ErrInvalidIDN       = errors.New("invalid internationalized domain name")
)

// idnaProfile is used for strict IDN validation to detect homograph attacks
// in sitemap-supplied hostnames.
var idnaProfile = idna.New(
	idna.ValidateLabels(true),
	idna.VerifyDNSLength(true),
	idna.StrictDomainName(true),
)

// AllowedSchemes defines the schemes a sitemap-discovered URL may use. A
// sitemap is web content; `<loc>` entries naming file://, javascript:, or
// other non-navigable schemes are rejected outright.
var AllowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// BlockedHosts names hostnames a discovered URL must never resolve to:
// localhost aliases and every major cloud metadata endpoint. A site audit
// crawls a sitemap an operator controls, but the sitemap's URL list is
// still attacker-reachable input if a third party can influence it — the
// same admission discipline a proxy would apply to a caller-supplied
// target applies here to a sitemap-supplied one.
var BlockedHosts = map[string]bool{
	"localhost": true,

	"instance-data":              true,
	"instance-data.ec2.internal": true,

	"metadata.google.internal": true,
	"metadata":                 true,

	"metadata.azure.com":        true,
	"management.azure.com":      true,
	"login.microsoftonline.com": true,
	"graph.microsoft.com":       true,

	"metadata.aliyun.com": true,

	"metadata.oraclecloud.com": true,

	"metadata.softlayer.local": true,

	"metadata.digitalocean.com": true,

	"metadata.hetzner.cloud": true,

	"metadata.vultr.com": true,

	"metadata.linode.com": true,

	"metadata.tencentyun.com": true,

	"kubernetes.default.svc": true,
	"kubernetes.default":     true,
	"kubernetes":             true,
}

// cloudMetadataIPs are link-local addresses cloud providers use to serve
// instance credentials; a sitemap URL that resolves to one of these is
// never admitted, regardless of hostname.
var cloudMetadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean, OpenStack
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata v2
	net.ParseIP("169.254.170.23"),  // AWS ECS task metadata v4
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6 metadata
	net.ParseIP("fc00:ec2::254"),   // AWS IPv6 metadata (alternate)

	net.ParseIP("169.254.169.253"), // Azure Wire Server
	net.ParseIP("169.254.169.252"), // GCP Kubernetes metadata
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud IMDS
	net.ParseIP("169.254.0.1"),     // container metadata, various platforms
}

// AdmitURL is the context-free form of AdmitURLWithContext, for call sites
// that don't carry a run deadline.
func AdmitURL(rawURL string) error {
	return AdmitURLWithContext(context.Background(), rawURL)
}

// AdmitURLWithContext decides whether a sitemap-discovered URL may be
// handed to the browser pool. It blocks:
//   - non-HTTP(S) schemes (file://, javascript:, data:, etc.)
//   - localhost and loopback addresses (the entire 127.0.0.0/8 range)
//   - private/internal IP ranges (RFC 1918, RFC 4193, link-local)
//   - cloud metadata service hosts and IPs
//   - IP-address encoding bypasses (decimal, octal, hex, shortened forms)
//   - IPv4-mapped IPv6 addresses used to hide a blocked IPv4 address
//
// ctx bounds the DNS resolution needed to admit a hostname (as opposed to
// an IP-literal URL).
func AdmitURLWithContext(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	if !AllowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}

	hostname := strings.ToLower(parsed.Hostname())
	if BlockedHosts[hostname] {
		return ErrLocalhostBlocked
	}
	if isLocalhostHostname(hostname) {
		return ErrLocalhostBlocked
	}
	if err := rejectHomograph(hostname); err != nil {
		return err
	}

	if ip := parseIPWithNormalization(hostname); ip != nil {
		ip = normalizeIPv4Mapped(ip)
		if err := admitIP(ip); err != nil {
			return fmt.Errorf("invalid parsed IP %s: %w", ip.String(), err)
		}
		return nil
	}

	// A bare hostname has to be resolved and every returned address
	// checked; failing closed on lookup failure keeps a sitemap entry
	// that resolves intermittently from slipping past admission once and
	// landing on a blocked target the next time the resolver answers.
	ips, err := resolveHostTimeout(ctx, hostname)
	if err != nil || len(ips) == 0 {
		return ErrDNSLookupFailed
	}
	for _, resolved := range ips {
		resolved = normalizeIPv4Mapped(resolved)
		if err := admitIP(resolved); err != nil {
			return fmt.Errorf("invalid resolved IP for %s: %w", hostname, err)
		}
	}

	return nil
}

// parseIPWithNormalization parses a hostname as an IP address, handling
// the encodings an attacker-influenced sitemap entry could use to smuggle
// a blocked address past a naive string-based host check:
//   - standard dotted decimal (192.168.1.1)
//   - a single decimal integer (3232235777 for 192.168.1.1)
//   - octal components (0300.0250.01.01 for 192.168.1.1)
//   - hex components (0xC0.0xA8.0x01.0x01 for 192.168.1.1)
//   - shortened 2- and 3-part forms (127.1, 127.0.1)
func parseIPWithNormalization(hostname string) net.IP {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}

	if num, err := strconv.ParseUint(hostname, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	parts := strings.Split(hostname, ".")
	switch len(parts) {
	case 4:
		var octets [4]byte
		for i, part := range parts {
			val, err := parseIntWithBase(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	case 2:
		first, err1 := parseIntWithBase(parts[0])
		second, err2 := parseIntWithBase(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && second <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(second>>16), byte(second>>8), byte(second))
		}
	case 3:
		first, err1 := parseIntWithBase(parts[0])
		second, err2 := parseIntWithBase(parts[1])
		third, err3 := parseIntWithBase(parts[2])
		if err1 == nil && err2 == nil && err3 == nil &&
			first <= 255 && second <= 255 && third <= 0xFFFF {
			// An ambiguous truncation (third > 255 with a non-zero low
			// byte) could decode to more than one address; reject rather
			// than guess which one the browser's resolver would pick.
			if third > 255 && (third&0xFF) != 0 {
				return nil
			}
			return net.IPv4(byte(first), byte(second), byte(third>>8), byte(third))
		}
	}

	return nil
}

// parseIntWithBase parses a decimal, 0-prefixed octal, or 0x-prefixed hex
// integer, matching how a browser's own hostname parser would interpret
// the same string.
func parseIntWithBase(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if strings.HasPrefix(s, "0") && len(s) > 1 && s[1] != 'x' && s[1] != 'X' {
		return strconv.ParseUint(s[1:], 8, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// normalizeIPv4Mapped converts an IPv4-mapped IPv6 address (::ffff:x.x.x.x)
// to plain IPv4 so it can't hide a blocked address behind IPv6 notation.
func normalizeIPv4Mapped(ip net.IP) net.IP {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

// rejectHomograph converts a non-ASCII hostname through the strict IDNA
// profile and logs (but does not block) punycode conversions, so an
// operator can notice a lookalike-Unicode sitemap entry during discovery.
func rejectHomograph(hostname string) error {
	isASCII := true
	for i := 0; i < len(hostname); i++ {
		if hostname[i] > 127 {
			isASCII = false
			break
		}
	}
	if isASCII {
		return nil
	}

	asciiHost, err := idnaProfile.ToASCII(hostname)
	if err != nil {
		log.Warn().Str("hostname", hostname).Err(err).Msg("sitemap URL rejected: invalid IDN hostname")
		return ErrInvalidIDN
	}
	if strings.Contains(asciiHost, "xn--") {
		log.Debug().Str("original", hostname).Str("punycode", asciiHost).
			Msg("sitemap URL uses an IDN hostname (punycode conversion)")
	}

	return nil
}

// isLocalhostHostname reports whether hostname is a localhost alias not
// already covered by the BlockedHosts table (subdomains and sibling TLDs).
func isLocalhostHostname(hostname string) bool {
	switch hostname {
	case "localhost", "localhost.localdomain", "local", "ip6-localhost", "ip6-loopback":
		return true
	}
	return strings.HasSuffix(hostname, ".localhost") || strings.HasPrefix(hostname, "localhost.")
}

// isLoopbackIP reports whether ip is in the loopback range: the entire
// 127.0.0.0/8 block for IPv4, ::1 for IPv6.
func isLoopbackIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 127
	}
	return ip.Equal(net.IPv6loopback)
}

// admitIP applies the IP-level admission policy shared by both the
// IP-literal and resolved-hostname paths of AdmitURLWithContext.
func admitIP(ip net.IP) error {
	if isLoopbackIP(ip) {
		return ErrLocalhostBlocked
	}
	if ip.IsPrivate() {
		return ErrPrivateIPBlocked
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ErrPrivateIPBlocked
	}
	if isCloudMetadataIP(ip) {
		return ErrMetadataBlocked
	}
	if ip.IsUnspecified() {
		return ErrPrivateIPBlocked
	}
	return nil
}

// isCloudMetadataIP reports whether ip is a known cloud metadata address,
// logging the attempt since a sitemap resolving there is a strong signal
// of a misconfigured or hostile sitemap.
func isCloudMetadataIP(ip net.IP) bool {
	for _, metadataIP := range cloudMetadataIPs {
		if ip.Equal(metadataIP) {
			log.Warn().Str("blocked_ip", ip.String()).
				Msg("sitemap URL rejected: resolves to a cloud metadata address")
			return true
		}
	}
	return false
}
