package x402

import "fmt"

// Network identifiers as they appear in challenge documents. The chain prefix
// is fixed; the suffix names the cluster.
const (
	NetworkPrefix      = "solana-"
	NetworkDevnet      = "solana-devnet"
	NetworkMainnetBeta = "solana-mainnet-beta"
)

// Canonical USDC mint addresses per cluster. Both have 6 decimals.
const (
	USDCMintDevnet  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	USDCMintMainnet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// SchemeExact is the only payment scheme this server supports: the client
// submits a reference to an exact, already-settled transfer.
const SchemeExact = "exact"

// ProtocolVersion is the x402 protocol version spoken by this implementation.
const ProtocolVersion = 1

// NetworkForCluster maps a bare cluster name (devnet, mainnet-beta) to its
// namespaced network identifier.
func NetworkForCluster(cluster string) (string, error) {
	switch cluster {
	case "devnet":
		return NetworkDevnet, nil
	case "mainnet-beta":
		return NetworkMainnetBeta, nil
	default:
		return "", fmt.Errorf("x402: unknown cluster %q", cluster)
	}
}

// ClusterForNetwork strips the chain prefix from a namespaced network
// identifier, returning the bare cluster name.
func ClusterForNetwork(network string) (string, error) {
	if len(network) <= len(NetworkPrefix) || network[:len(NetworkPrefix)] != NetworkPrefix {
		return "", fmt.Errorf("x402: unsupported network %q", network)
	}
	cluster := network[len(NetworkPrefix):]
	switch cluster {
	case "devnet", "mainnet-beta":
		return cluster, nil
	default:
		return "", fmt.Errorf("x402: unsupported network %q", network)
	}
}

// USDCMintForNetwork returns the built-in USDC mint for a namespaced network.
func USDCMintForNetwork(network string) (string, error) {
	switch network {
	case NetworkDevnet:
		return USDCMintDevnet, nil
	case NetworkMainnetBeta:
		return USDCMintMainnet, nil
	default:
		return "", fmt.Errorf("x402: no built-in mint for network %q", network)
	}
}
