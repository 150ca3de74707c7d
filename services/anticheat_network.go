// services/anticheat_network.go
package services

import (
	"fmt"
	"strings"
)

// hostingPrefixes are static datacenter/hosting address prefixes. A match
// only rejects when hosting-IP blocking is switched on; otherwise it is
// recorded as suspicion. Seed list covers documentation ranges used by the
// major clouds' health probes plus common datacenter blocks.
var hostingPrefixes = []string{
	"3.",       // AWS
	"13.",      // AWS / Azure
	"18.",      // AWS
	"34.",      // GCP
	"35.",      // GCP
	"52.",      // AWS / Azure
	"104.",     // GCP / Cloudflare
	"143.244.", // DigitalOcean
	"157.245.", // DigitalOcean
	"159.65.",  // DigitalOcean
	"165.227.", // DigitalOcean
	"167.99.",  // DigitalOcean
	"178.62.",  // DigitalOcean
	"188.166.", // DigitalOcean
	"45.32.",   // Vultr
	"45.63.",   // Vultr
	"66.42.",   // Vultr
	"95.179.",  // Vultr
	"5.9.",     // Hetzner
	"88.99.",   // Hetzner
	"135.181.", // Hetzner
	"195.201.", // Hetzner
}

func matchesHostingPrefix(ip string) (string, bool) {
	for _, prefix := range hostingPrefixes {
		if strings.HasPrefix(ip, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// Layer 7: network analysis. VPN matches against the local reputation table
// reject when blocking is on and confidence clears the threshold; hosting
// prefix matches reject only when hosting blocking is on.
func (s *AntiCheatService) checkNetwork(in ValidationInput, suspicion *[]string) (string, error) {
	enabled, err := s.Settings.GetBool(KeyNetworkAnalysisEnabled)
	if err != nil {
		return "", err
	}
	if !enabled || in.IPAddress == "" {
		return "", nil
	}

	match, err := s.Network.MatchVPN(in.IPAddress)
	if err != nil {
		return "", err
	}
	if match != nil {
		threshold, err := s.Settings.GetFloat(KeyVPNConfidenceThreshold)
		if err != nil {
			return "", err
		}
		blockVPN, err := s.Settings.GetBool(KeyVPNBlockingEnabled)
		if err != nil {
			return "", err
		}
		if match.Confidence >= threshold && blockVPN {
			return ReasonVPNDetected, nil
		}
		*suspicion = append(*suspicion, fmt.Sprintf("vpn_suspected:%s", match.Provider))
	}

	if prefix, ok := matchesHostingPrefix(in.IPAddress); ok {
		blockHosting, err := s.Settings.GetBool(KeyHostingIPBlockingEnabled)
		if err != nil {
			return "", err
		}
		if blockHosting {
			return ReasonHostingDetected, nil
		}
		*suspicion = append(*suspicion, fmt.Sprintf("hosting_ip:%s", prefix))
	}
	return "", nil
}
