package solana

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/gate402/server/pkg/x402"
)

// SPL token instruction opcodes we decode.
const (
	tokenOpTransfer        = 3
	tokenOpTransferChecked = 12
)

// Token2022ProgramID is the SPL Token-2022 program. Transfers under either
// token program are treated identically.
var Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

// ExtractTransfers walks both top-level and inner instructions of a fetched
// transaction and decodes every SPL token transfer, in instruction order.
// Instructions that do not decode as transfers are skipped silently: they
// are simply not transfers.
func ExtractTransfers(tx *solana.Transaction, meta *rpc.TransactionMeta) []x402.ParsedTransfer {
	if tx == nil {
		return nil
	}
	message := &tx.Message

	var transfers []x402.ParsedTransfer
	for outer, inst := range message.Instructions {
		if transfer, ok := decodeTransfer(message, meta, inst, outer, -1); ok {
			transfers = append(transfers, transfer)
		}
		if meta == nil {
			continue
		}
		for _, group := range meta.InnerInstructions {
			if int(group.Index) != outer {
				continue
			}
			for inner, innerInst := range group.Instructions {
				if transfer, ok := decodeTransfer(message, meta, innerInst, outer, inner); ok {
					transfers = append(transfers, transfer)
				}
			}
		}
	}
	return transfers
}

// ExtractTransfersForMint returns the subset of transfers moving the given mint.
func ExtractTransfersForMint(tx *solana.Transaction, meta *rpc.TransactionMeta, mint string) []x402.ParsedTransfer {
	var filtered []x402.ParsedTransfer
	for _, transfer := range ExtractTransfers(tx, meta) {
		if transfer.Mint == mint {
			filtered = append(filtered, transfer)
		}
	}
	return filtered
}

// FindByDestination returns the transfers landing on the given token account.
func FindByDestination(transfers []x402.ParsedTransfer, destination string) []x402.ParsedTransfer {
	var matched []x402.ParsedTransfer
	for _, transfer := range transfers {
		if transfer.Destination == destination {
			matched = append(matched, transfer)
		}
	}
	return matched
}

// FindMatching returns the first transfer paying at least minAmount of mint
// to destination, or nil. First-in-instruction-order wins; amounts are never
// summed across transfers.
func FindMatching(transfers []x402.ParsedTransfer, destination string, minAmount uint64, mint string) *x402.ParsedTransfer {
	for i := range transfers {
		transfer := &transfers[i]
		if transfer.Destination != destination {
			continue
		}
		if mint != "" && transfer.Mint != mint {
			continue
		}
		if transfer.Amount < minAmount {
			continue
		}
		return transfer
	}
	return nil
}

// decodeTransfer decodes one compiled instruction as an SPL token transfer.
// Returns false for anything that is not a well-formed Transfer or
// TransferChecked under a token program.
func decodeTransfer(message *solana.Message, meta *rpc.TransactionMeta, inst solana.CompiledInstruction, outer, inner int) (x402.ParsedTransfer, bool) {
	programID, ok := accountAt(message, inst.ProgramIDIndex)
	if !ok {
		return x402.ParsedTransfer{}, false
	}
	if !programID.Equals(solana.TokenProgramID) && !programID.Equals(Token2022ProgramID) {
		return x402.ParsedTransfer{}, false
	}

	data := []byte(inst.Data)
	if len(data) < 9 {
		return x402.ParsedTransfer{}, false
	}
	amount := binary.LittleEndian.Uint64(data[1:9])

	switch data[0] {
	case tokenOpTransfer:
		// accounts: [source, destination, authority, ...multisig signers]
		if len(inst.Accounts) < 3 {
			return x402.ParsedTransfer{}, false
		}
		source, okSrc := accountAt(message, inst.Accounts[0])
		destination, okDst := accountAt(message, inst.Accounts[1])
		authority, okAuth := accountAt(message, inst.Accounts[2])
		if !okSrc || !okDst || !okAuth {
			return x402.ParsedTransfer{}, false
		}
		// Plain Transfer carries no mint; recover it from the transaction's
		// token balance records for the source (or destination) account.
		mint := mintForAccount(meta, inst.Accounts[0])
		if mint == "" {
			mint = mintForAccount(meta, inst.Accounts[1])
		}
		return x402.ParsedTransfer{
			Source:      source.String(),
			Destination: destination.String(),
			Authority:   authority.String(),
			Mint:        mint,
			Amount:      amount,
			OuterIndex:  outer,
			InnerIndex:  inner,
		}, true

	case tokenOpTransferChecked:
		// accounts: [source, mint, destination, authority, ...]
		// data: opcode, amount u64 LE, decimals u8
		if len(data) < 10 || len(inst.Accounts) < 4 {
			return x402.ParsedTransfer{}, false
		}
		source, okSrc := accountAt(message, inst.Accounts[0])
		mint, okMint := accountAt(message, inst.Accounts[1])
		destination, okDst := accountAt(message, inst.Accounts[2])
		authority, okAuth := accountAt(message, inst.Accounts[3])
		if !okSrc || !okMint || !okDst || !okAuth {
			return x402.ParsedTransfer{}, false
		}
		return x402.ParsedTransfer{
			Source:      source.String(),
			Destination: destination.String(),
			Authority:   authority.String(),
			Mint:        mint.String(),
			Amount:      amount,
			OuterIndex:  outer,
			InnerIndex:  inner,
		}, true

	default:
		return x402.ParsedTransfer{}, false
	}
}

// accountAt resolves an account index against the message's static keys.
// Indexes referencing lookup-table addresses fall outside the static list
// and make the instruction undecodable for our purposes.
func accountAt(message *solana.Message, index uint16) (solana.PublicKey, bool) {
	if int(index) >= len(message.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return message.AccountKeys[index], true
}

// mintForAccount looks up the mint of a token account via the transaction's
// post (falling back to pre) token balances.
func mintForAccount(meta *rpc.TransactionMeta, accountIndex uint16) string {
	if meta == nil {
		return ""
	}
	for _, balance := range meta.PostTokenBalances {
		if balance.AccountIndex == accountIndex {
			return balance.Mint.String()
		}
	}
	for _, balance := range meta.PreTokenBalances {
		if balance.AccountIndex == accountIndex {
			return balance.Mint.String()
		}
	}
	return ""
}
