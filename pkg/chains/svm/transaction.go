package svm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// transferCheckedOpcode is the SPL token program instruction index for
// TransferChecked.
const transferCheckedOpcode = 12

// TransferChecked is the parsed payment instruction of a client transaction.
type TransferChecked struct {
	Source      solana.PublicKey // source token account
	Mint        solana.PublicKey
	Destination solana.PublicKey // destination token account
	Owner       solana.PublicKey // source authority, the payer
	Amount      uint64
	Decimals    uint8
}

// DecodeTransaction parses a base64-encoded wire transaction.
func DecodeTransaction(b64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// EncodeTransaction serializes a transaction back to its base64 wire form.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// FeePayer returns the transaction's fee payer (first account key).
func FeePayer(tx *solana.Transaction) (solana.PublicKey, error) {
	if len(tx.Message.AccountKeys) == 0 {
		return solana.PublicKey{}, fmt.Errorf("transaction has no account keys")
	}
	return tx.Message.AccountKeys[0], nil
}

// ParseTransferChecked finds the single SPL TransferChecked instruction in
// the transaction. Transactions with zero or multiple transfers are
// rejected; compute-budget instructions are ignored.
func ParseTransferChecked(tx *solana.Transaction) (*TransferChecked, error) {
	var found *TransferChecked
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			return nil, fmt.Errorf("instruction program index out of range")
		}
		program := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if !program.Equals(solana.TokenProgramID) {
			continue
		}
		if len(inst.Data) < 10 || inst.Data[0] != transferCheckedOpcode {
			return nil, fmt.Errorf("unexpected token program instruction")
		}
		if len(inst.Accounts) < 4 {
			return nil, fmt.Errorf("transfer instruction has too few accounts")
		}
		if found != nil {
			return nil, fmt.Errorf("transaction carries more than one transfer")
		}

		keys := make([]solana.PublicKey, 4)
		for i := 0; i < 4; i++ {
			idx := inst.Accounts[i]
			if int(idx) >= len(tx.Message.AccountKeys) {
				return nil, fmt.Errorf("transfer account index out of range")
			}
			keys[i] = tx.Message.AccountKeys[idx]
		}
		found = &TransferChecked{
			Source:      keys[0],
			Mint:        keys[1],
			Destination: keys[2],
			Owner:       keys[3],
			Amount:      binary.LittleEndian.Uint64(inst.Data[1:9]),
			Decimals:    inst.Data[9],
		}
	}
	if found == nil {
		return nil, fmt.Errorf("transaction carries no token transfer")
	}
	return found, nil
}

// SpliceSignature signs the transaction message with key and places the
// signature at the key's position among the required signers. The slot must
// be empty (all-zero placeholder); a missing key is a structural error.
func SpliceSignature(tx *solana.Transaction, key solana.PrivateKey) error {
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	if numSigners == 0 || numSigners > len(tx.Message.AccountKeys) {
		return fmt.Errorf("invalid required signer count %d", numSigners)
	}

	index := -1
	pubkey := key.PublicKey()
	for i := 0; i < numSigners; i++ {
		if tx.Message.AccountKeys[i].Equals(pubkey) {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("signer %s is not among the transaction's required signers", pubkey)
	}

	for len(tx.Signatures) < numSigners {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	// An all-zero signature marks the slot the client left for us. Anything
	// else means the transaction was already signed there.
	if !tx.Signatures[index].IsZero() {
		return fmt.Errorf("signature slot %d is already filled", index)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	sig, err := key.Sign(msg)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}
	tx.Signatures[index] = sig
	return nil
}
