package tron

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal protobuf reader for the TRON Transaction message. Only the fields
// the facilitator inspects are decoded; everything else is skipped.

const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

const triggerSmartContractType = 31

// trc20TransferSelector is the 4-byte selector of transfer(address,uint256).
var trc20TransferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

type protoReader struct {
	buf []byte
	pos int
}

func (r *protoReader) done() bool { return r.pos >= len(r.buf) }

func (r *protoReader) varint() (uint64, error) {
	var v uint64
	for shift := 0; shift < 64; shift += 7 {
		if r.pos >= len(r.buf) {
			return 0, fmt.Errorf("truncated varint")
		}
		b := r.buf[r.pos]
		r.pos++
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("varint overflow")
}

func (r *protoReader) field() (num int, wire int, err error) {
	key, err := r.varint()
	if err != nil {
		return 0, 0, err
	}
	return int(key >> 3), int(key & 7), nil
}

func (r *protoReader) bytes() ([]byte, error) {
	n, err := r.varint()
	if err != nil {
		return nil, err
	}
	if uint64(r.pos)+n > uint64(len(r.buf)) {
		return nil, fmt.Errorf("truncated length-delimited field")
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *protoReader) skip(wire int) error {
	switch wire {
	case wireVarint:
		_, err := r.varint()
		return err
	case wireBytes:
		_, err := r.bytes()
		return err
	case wireFixed64:
		r.pos += 8
	case wireFixed32:
		r.pos += 4
	default:
		return fmt.Errorf("unsupported wire type %d", wire)
	}
	if r.pos > len(r.buf) {
		return fmt.Errorf("truncated fixed-width field")
	}
	return nil
}

// SignedTransaction is a decoded TRON transaction: the raw_data bytes the
// signature covers, plus the signatures.
type SignedTransaction struct {
	RawData    RawTransaction
	rawBytes   []byte
	Signatures [][]byte
}

// RawTransaction is the subset of Transaction.raw the facilitator checks.
type RawTransaction struct {
	RefBlockBytes []byte
	RefBlockHash  []byte
	Expiration    int64
	Timestamp     int64
	FeeLimit      int64
	Contracts     []TriggerSmartContract
}

// TriggerSmartContract is a smart-contract call inside a transaction.
type TriggerSmartContract struct {
	Owner    []byte
	Contract []byte
	Data     []byte
}

// DecodeSignedTransaction decodes a hex-encoded signed Transaction protobuf.
func DecodeSignedTransaction(hexTx string) (*SignedTransaction, error) {
	raw, err := hex.DecodeString(hexTx)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}

	var tx SignedTransaction
	r := &protoReader{buf: raw}
	for !r.done() {
		num, wire, err := r.field()
		if err != nil {
			return nil, err
		}
		switch {
		case num == 1 && wire == wireBytes:
			tx.rawBytes, err = r.bytes()
			if err != nil {
				return nil, err
			}
		case num == 2 && wire == wireBytes:
			sig, err := r.bytes()
			if err != nil {
				return nil, err
			}
			tx.Signatures = append(tx.Signatures, sig)
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	if len(tx.rawBytes) == 0 {
		return nil, fmt.Errorf("transaction has no raw_data")
	}
	if err := decodeRawData(tx.rawBytes, &tx.RawData); err != nil {
		return nil, err
	}
	return &tx, nil
}

func decodeRawData(raw []byte, out *RawTransaction) error {
	r := &protoReader{buf: raw}
	for !r.done() {
		num, wire, err := r.field()
		if err != nil {
			return err
		}
		switch {
		case num == 1 && wire == wireBytes:
			out.RefBlockBytes, err = r.bytes()
		case num == 4 && wire == wireBytes:
			out.RefBlockHash, err = r.bytes()
		case num == 8 && wire == wireVarint:
			v, verr := r.varint()
			out.Expiration, err = int64(v), verr
		case num == 11 && wire == wireBytes:
			var msg []byte
			msg, err = r.bytes()
			if err == nil {
				err = decodeContract(msg, out)
			}
		case num == 14 && wire == wireVarint:
			v, verr := r.varint()
			out.Timestamp, err = int64(v), verr
		case num == 18 && wire == wireVarint:
			v, verr := r.varint()
			out.FeeLimit, err = int64(v), verr
		default:
			err = r.skip(wire)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeContract(raw []byte, out *RawTransaction) error {
	r := &protoReader{buf: raw}
	var ctype uint64
	var value []byte
	for !r.done() {
		num, wire, err := r.field()
		if err != nil {
			return err
		}
		switch {
		case num == 1 && wire == wireVarint:
			ctype, err = r.varint()
		case num == 2 && wire == wireBytes:
			var anyMsg []byte
			anyMsg, err = r.bytes()
			if err == nil {
				value, err = decodeAnyValue(anyMsg)
			}
		default:
			err = r.skip(wire)
		}
		if err != nil {
			return err
		}
	}
	if ctype != triggerSmartContractType {
		return fmt.Errorf("unsupported contract type %d", ctype)
	}

	var call TriggerSmartContract
	r = &protoReader{buf: value}
	for !r.done() {
		num, wire, err := r.field()
		if err != nil {
			return err
		}
		switch {
		case num == 1 && wire == wireBytes:
			call.Owner, err = r.bytes()
		case num == 2 && wire == wireBytes:
			call.Contract, err = r.bytes()
		case num == 4 && wire == wireBytes:
			call.Data, err = r.bytes()
		default:
			err = r.skip(wire)
		}
		if err != nil {
			return err
		}
	}
	out.Contracts = append(out.Contracts, call)
	return nil
}

// decodeAnyValue unwraps a google.protobuf.Any and returns its value bytes.
func decodeAnyValue(raw []byte) ([]byte, error) {
	r := &protoReader{buf: raw}
	var value []byte
	for !r.done() {
		num, wire, err := r.field()
		if err != nil {
			return nil, err
		}
		if num == 2 && wire == wireBytes {
			value, err = r.bytes()
		} else {
			err = r.skip(wire)
		}
		if err != nil {
			return nil, err
		}
	}
	if value == nil {
		return nil, fmt.Errorf("contract parameter carries no value")
	}
	return value, nil
}

// TxID is the transaction id: sha256 of the raw_data bytes.
func (t *SignedTransaction) TxID() string {
	h := sha256.Sum256(t.rawBytes)
	return hex.EncodeToString(h[:])
}

// Transfer is a parsed TRC-20 transfer call.
type Transfer struct {
	From     string
	To       string
	Contract string
	Amount   *big.Int
}

// ParseTransfer extracts the TRC-20 transfer from the transaction. The
// transaction must hold exactly one TriggerSmartContract calling
// transfer(address,uint256).
func (t *SignedTransaction) ParseTransfer() (*Transfer, error) {
	if len(t.RawData.Contracts) != 1 {
		return nil, fmt.Errorf("expected exactly one contract call, found %d", len(t.RawData.Contracts))
	}
	call := t.RawData.Contracts[0]
	if len(call.Data) != 68 {
		return nil, fmt.Errorf("unexpected calldata length %d", len(call.Data))
	}
	for i, b := range trc20TransferSelector {
		if call.Data[i] != b {
			return nil, fmt.Errorf("not a transfer call (selector %x)", call.Data[:4])
		}
	}

	from, err := EncodeAddress(call.Owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner address: %w", err)
	}
	contract, err := EncodeAddress(call.Contract)
	if err != nil {
		return nil, fmt.Errorf("invalid contract address: %w", err)
	}
	// transfer(address,uint256): the address occupies the last 20 bytes of
	// the first 32-byte argument.
	to, err := EncodeEVMAddress(call.Data[16:36])
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	return &Transfer{
		From:     from,
		To:       to,
		Contract: contract,
		Amount:   new(big.Int).SetBytes(call.Data[36:68]),
	}, nil
}

// RecoverSigner recovers the base58check address that signed the transaction.
func (t *SignedTransaction) RecoverSigner() (string, error) {
	if len(t.Signatures) == 0 {
		return "", fmt.Errorf("transaction is unsigned")
	}
	sig := t.Signatures[0]
	if len(sig) != 65 {
		return "", fmt.Errorf("invalid signature length %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	hash := sha256.Sum256(t.rawBytes)
	pub, err := crypto.SigToPub(hash[:], normalized)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	return EncodeEVMAddress(addr.Bytes())
}
