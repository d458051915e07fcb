package supervisor

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"

	"github.com/btcsuite/btcd/wire"

	"github.com/kyoto-spv/kyoto/chaincfg"
)

// dnsLookupTimeout bounds a single seed query; a seed that doesn't answer
// promptly shouldn't stall startup.
const dnsLookupTimeout = 5 * time.Second

// resolveDNSSeeds queries every configured DNS seed for A and AAAA records
// and returns the results as NetAddress values, spec §4.4 rule 4's
// bootstrap path for an empty address book. Grounded on the teacher's
// discovery.DNSSeedBootstrapper, which drives miekg/dns directly over a
// raw connection rather than relying on net.Resolver's SRV-only lookup
// path; we query A/AAAA instead of SRV since Bitcoin's seed protocol
// (unlike Lightning's BOLT-10) just publishes node IPs as ordinary host
// records.
func resolveDNSSeeds(seeds []chaincfg.DNSSeed, defaultPort string) ([]wire.NetAddress, error) {
	var addrs []wire.NetAddress

	for _, seed := range seeds {
		ips, err := lookupSeedHost(seed.Host)
		if err != nil {
			log.Debugf("dns seed %s: %v", seed.Host, err)
			continue
		}

		services := wire.SFNodeNetwork
		if seed.HasFiltering {
			services |= wire.SFNodeCF
		}

		port, err := strconv.Atoi(defaultPort)
		if err != nil {
			return nil, fmt.Errorf("supervisor: bad default port %q: %w", defaultPort, err)
		}

		for _, ip := range ips {
			addrs = append(addrs, wire.NetAddress{
				Timestamp: time.Now(),
				Services:  services,
				IP:        ip,
				Port:      uint16(port),
			})
		}
	}

	return addrs, nil
}

// lookupSeedHost resolves host to a set of IPs by issuing A and AAAA
// queries directly against the system resolver over a dns.Client, rather
// than net.LookupHost, so failures and record types are distinguishable
// for logging exactly the way bootstrapper.go's fallback path does.
func lookupSeedHost(host string) ([]net.IP, error) {
	resolverAddr, err := systemResolverAddr()
	if err != nil {
		return nil, err
	}

	client := &dns.Client{Timeout: dnsLookupTimeout}
	fqdn := dns.Fqdn(host)

	var ips []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)

		resp, _, err := client.Exchange(msg, resolverAddr)
		if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
			continue
		}

		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				ips = append(ips, rec.A)
			case *dns.AAAA:
				ips = append(ips, rec.AAAA)
			}
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("supervisor: no addresses returned for %s", host)
	}
	return ips, nil
}

// systemResolverAddr reads /etc/resolv.conf for a nameserver to query
// directly via dns.Client, the same pattern the teacher's fallback SRV
// lookup uses for manual resolution.
func systemResolverAddr() (string, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "", fmt.Errorf("supervisor: no system resolver available: %w", err)
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port), nil
}
