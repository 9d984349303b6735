package contact

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	coreerrors "github.com/davidahmann/xarf/core/errors"
)

const DefaultZone = "abuse-contacts.abusix.zone"

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// QueryName builds the reversed-address name under zone, octets for IPv4 and
// nibbles for IPv6.
func QueryName(ip string, zone string) (string, error) {
	address, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", fmt.Errorf("parse ip %q: %w", ip, err)
	}
	address = address.Unmap()
	zone = strings.Trim(strings.TrimSpace(zone), ".")
	if zone == "" {
		zone = DefaultZone
	}
	labels := []string{}
	if address.Is4() {
		octets := address.As4()
		for i := len(octets) - 1; i >= 0; i-- {
			labels = append(labels, fmt.Sprintf("%d", octets[i]))
		}
	} else {
		raw := address.As16()
		for i := len(raw) - 1; i >= 0; i-- {
			labels = append(labels, fmt.Sprintf("%x", raw[i]&0x0f), fmt.Sprintf("%x", raw[i]>>4))
		}
	}
	return strings.Join(labels, ".") + "." + zone, nil
}

// Lookup returns the abuse contacts published for ip, deduplicated in answer
// order. A name that does not exist yields no contacts and no error.
func Lookup(ctx context.Context, resolver Resolver, ip string, zone string) ([]string, error) {
	name, err := QueryName(ip, zone)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "contact_lookup_invalid_ip", "contact lookup needs an ip source", false)
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	records, err := resolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, nil
		}
		return nil, coreerrors.Wrap(fmt.Errorf("lookup %s: %w", name, err), coreerrors.CategoryNetworkTransient, "contact_lookup_failed", "retry or pass --mail-to", true)
	}
	seen := map[string]struct{}{}
	contacts := []string{}
	for _, record := range records {
		for _, entry := range strings.Split(record, ",") {
			address := strings.TrimSpace(entry)
			if address == "" {
				continue
			}
			if _, ok := seen[address]; ok {
				continue
			}
			seen[address] = struct{}{}
			contacts = append(contacts, address)
		}
	}
	return contacts, nil
}
