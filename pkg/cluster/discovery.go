// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miekg/dns"
)

// DefaultDiscoveryTimeout bounds one SRV lookup.
const DefaultDiscoveryTimeout = 3 * time.Second

// ResolveSeeds expands a DNS SRV name into host:port seed addresses.
// Static host:port seeds pass through untouched; names starting with
// "srv+" are resolved against the given DNS server, so deployments can
// point the mesh at a headless service record instead of fixed IPs.
func ResolveSeeds(ctx context.Context, seeds []string, dnsServer string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}

	resolved := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if len(seed) < 4 || seed[:4] != "srv+" {
			resolved = append(resolved, seed)
			continue
		}
		targets, err := lookupSRV(ctx, seed[4:], dnsServer)
		if err != nil {
			logger.Warn("SRV seed lookup failed", "name", seed[4:], "error", err)
			continue
		}
		logger.Info("resolved SRV seeds", "name", seed[4:], "count", len(targets))
		resolved = append(resolved, targets...)
	}
	return resolved
}

func lookupSRV(ctx context.Context, name, server string) ([]string, error) {
	if server == "" {
		server = "127.0.0.1:53"
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeSRV)
	m.RecursionDesired = true

	client := &dns.Client{Timeout: DefaultDiscoveryTimeout}
	resp, _, err := client.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("SRV query for %s: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("SRV query for %s: rcode %s", name, dns.RcodeToString[resp.Rcode])
	}

	var targets []string
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		host := srv.Target
		if len(host) > 0 && host[len(host)-1] == '.' {
			host = host[:len(host)-1]
		}
		targets = append(targets, fmt.Sprintf("%s:%d", host, srv.Port))
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("SRV query for %s: no records", name)
	}
	return targets, nil
}
