// Package cloak implements deterministic, keyed hostmask cloaking: a
// server-wide secret transforms real hosts/IPs into displayed hosts that
// are stable for a given input but do not reveal it.
package cloak

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// Cloaker holds the server-wide secret and suffix used to derive displayed
// hosts. The secret is never exposed through any Cloaker method.
type Cloaker struct {
	secret []byte
	suffix string
}

// New returns a Cloaker keyed by secret, appending suffix to every cloaked
// result.
func New(secret []byte, suffix string) *Cloaker {
	return &Cloaker{secret: secret, suffix: suffix}
}

func (c *Cloaker) hmacHex(domain, input string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(domain))
	mac.Write([]byte(input))
	return hex.EncodeToString(mac.Sum(nil))
}

// CloakIP cloaks an IPv4 address as "a.b.H1.H2.suffix" where a.b are the
// first two octets in the clear and H1/H2 are keyed hashes of the whole
// address under two different domain labels, so two hosts on the same /16
// still get unrelated cloaks beyond the shared prefix.
func (c *Cloaker) CloakIP(ip net.IP) string {
	v4 := ip.To4()
	if v4 == nil {
		return c.cloakIPv6(ip)
	}
	prefix := v4.String()
	last2 := c.hmacHex("ip4-last2", prefix)[:6]
	full := c.hmacHex("ip4-full", prefix)[:6]
	return strings.Join([]string{
		intToStr(int(v4[0])), intToStr(int(v4[1])), last2, full, c.suffix,
	}, ".")
}

func (c *Cloaker) cloakIPv6(ip net.IP) string {
	full := c.hmacHex("ip6-full", ip.String())[:12]
	return full + "." + c.suffix
}

func intToStr(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// CloakHostname preserves the registrable-domain suffix of host (the last
// two labels, or three for known multi-label public suffixes such as
// co.uk) and replaces everything before it with a keyed hash.
func (c *Cloaker) CloakHostname(host string) string {
	labels := strings.Split(host, ".")
	keep := 2
	if len(labels) >= 3 && isMultiLabelTLD(labels[len(labels)-2], labels[len(labels)-1]) {
		keep = 3
	}
	if keep > len(labels) {
		keep = len(labels)
	}
	registrable := strings.Join(labels[len(labels)-keep:], ".")
	prefix := c.hmacHex("host", host)[:8]
	return prefix + "." + registrable
}

var multiLabelTLDs = map[string]bool{
	"co.uk": true, "org.uk": true, "ac.uk": true, "gov.uk": true,
	"com.au": true, "net.au": true, "org.au": true,
	"co.jp": true, "co.nz": true,
}

func isMultiLabelTLD(second, last string) bool {
	return multiLabelTLDs[second+"."+last]
}

// CloakAccount cloaks an authenticated account name as "account.suffix",
// independent of the underlying transport host.
func (c *Cloaker) CloakAccount(account string) string {
	return account + "." + c.suffix
}
