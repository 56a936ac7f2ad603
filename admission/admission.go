// Package admission enforces the per-IP concurrent connection cap and the
// CIDR whitelists that exempt addresses from it (or, for play, require
// membership in it).
package admission

import (
	"net"
	"sync"
)

// whitelist is a parsed set of CIDR ranges, or the special "allow
// everything" wildcard.
type whitelist struct {
	allowAll bool
	nets     []*net.IPNet
}

func parseWhitelist(entries []string) whitelist {
	var w whitelist
	for _, e := range entries {
		if e == "*" {
			w.allowAll = true
			continue
		}
		if cidr := toCIDR(e); cidr != nil {
			w.nets = append(w.nets, cidr)
		}
	}
	return w
}

// toCIDR accepts either a CIDR range or a bare IP address, normalizing the
// latter to a single-address range.
func toCIDR(entry string) *net.IPNet {
	if _, cidr, err := net.ParseCIDR(entry); err == nil {
		return cidr
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
}

func (w whitelist) contains(ip net.IP) bool {
	if w.allowAll {
		return true
	}
	for _, n := range w.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Controller tracks concurrent connections per remote IP and the CIDR
// whitelists that bypass (connect) or gate (play) that accounting.
type Controller struct {
	limit int

	concurrencyWhitelist whitelist
	playWhitelist        whitelist

	mu       sync.Mutex
	counters map[string]int
}

// New builds a Controller. limit is the maximum concurrent connections
// permitted per IP outside the concurrency whitelist; a limit of 0 means
// unlimited.
func New(limit int, concurrencyWhitelist, playWhitelist []string) *Controller {
	return &Controller{
		limit:                limit,
		concurrencyWhitelist: parseWhitelist(concurrencyWhitelist),
		playWhitelist:        parseWhitelist(playWhitelist),
		counters:             make(map[string]int),
	}
}

// AllowConnect increments the counter for ip and reports whether the
// connection may proceed. The counter is only incremented when the
// connection is accepted, so a rejected connection never needs a
// corresponding Release call.
func (c *Controller) AllowConnect(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip != nil && c.concurrencyWhitelist.contains(ip) {
		return true
	}
	if c.limit <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters[ipStr] >= c.limit {
		return false
	}
	c.counters[ipStr]++
	return true
}

// Release decrements the counter for ip. It is a no-op for an IP that was
// never counted (whitelisted, or never accepted in the first place).
func (c *Controller) Release(ipStr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counters[ipStr]
	if !ok {
		return
	}
	if n <= 1 {
		delete(c.counters, ipStr)
		return
	}
	c.counters[ipStr] = n - 1
}

// AllowPlay reports whether ip may issue a play command. An empty whitelist
// permits every address, matching the spec's "whitelist absent means
// unrestricted" default.
func (c *Controller) AllowPlay(ipStr string) bool {
	if len(c.playWhitelist.nets) == 0 && !c.playWhitelist.allowAll {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return c.playWhitelist.contains(ip)
}
