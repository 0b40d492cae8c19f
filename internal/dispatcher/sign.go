package dispatcher

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/holiman/uint256"

	"github.com/spamgen/spamgen/internal/template"
)

// buildAndSign turns a resolved UnsignedTx plus gas parameters into a
// signed transaction. The concrete tx type follows the same rule the
// generator this is modeled on uses: presence of BlobData/
// AuthorizationAddress selects EIP-4844/EIP-7702, otherwise a plain
// EIP-1559 dynamic-fee tx.
func buildAndSign(
	tx template.UnsignedTx,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	nonce uint64,
	gasTipCap, gasFeeCap *big.Int,
	gasLimit uint64,
	blobBaseFee *big.Int,
) (*types.Transaction, error) {
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}

	switch {
	case len(tx.BlobData) > 0:
		return buildAndSignBlob(tx, key, chainID, nonce, gasTipCap, gasFeeCap, gasLimit, value, blobBaseFee)
	case tx.AuthorizationAddress != nil:
		return buildAndSignSetCode(tx, key, chainID, nonce, gasTipCap, gasFeeCap, gasLimit, value)
	default:
		inner := &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: gasTipCap,
			GasFeeCap: gasFeeCap,
			Gas:       gasLimit,
			To:        tx.To,
			Value:     value,
			Data:      tx.Data,
		}
		signer := types.NewLondonSigner(chainID)
		return types.SignNewTx(key, signer, inner)
	}
}

func buildAndSignBlob(
	tx template.UnsignedTx,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	nonce uint64,
	gasTipCap, gasFeeCap *big.Int,
	gasLimit uint64,
	value *big.Int,
	blobBaseFee *big.Int,
) (*types.Transaction, error) {
	if tx.To == nil {
		return nil, fmt.Errorf("dispatcher: blob txs cannot be contract creations")
	}
	sidecar, err := buildBlobSidecar(tx.BlobData)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: building blob sidecar: %w", err)
	}
	feeCap := blobBaseFee
	if feeCap == nil {
		feeCap = big.NewInt(1)
	}
	inner := &types.BlobTx{
		ChainID:    uint256.MustFromBig(chainID),
		Nonce:      nonce,
		GasTipCap:  uint256.MustFromBig(gasTipCap),
		GasFeeCap:  uint256.MustFromBig(gasFeeCap),
		Gas:        gasLimit,
		To:         *tx.To,
		Value:      uint256.MustFromBig(value),
		Data:       tx.Data,
		BlobFeeCap: uint256.MustFromBig(feeCap),
		BlobHashes: sidecar.BlobHashes(),
		Sidecar:    sidecar,
	}
	signer := types.NewCancunSigner(chainID)
	return types.SignNewTx(key, signer, inner)
}

func buildAndSignSetCode(
	tx template.UnsignedTx,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	nonce uint64,
	gasTipCap, gasFeeCap *big.Int,
	gasLimit uint64,
	value *big.Int,
) (*types.Transaction, error) {
	if tx.To == nil {
		return nil, fmt.Errorf("dispatcher: set-code txs cannot be contract creations")
	}
	auth, err := types.SignSetCode(key, types.SetCodeAuthorization{
		ChainID: *uint256.MustFromBig(chainID),
		Address: *tx.AuthorizationAddress,
		Nonce:   nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: signing authorization tuple: %w", err)
	}
	inner := &types.SetCodeTx{
		ChainID:   uint256.MustFromBig(chainID),
		Nonce:     nonce,
		GasTipCap: uint256.MustFromBig(gasTipCap),
		GasFeeCap: uint256.MustFromBig(gasFeeCap),
		Gas:       gasLimit,
		To:        *tx.To,
		Value:     uint256.MustFromBig(value),
		Data:      tx.Data,
		AuthList:  []types.SetCodeAuthorization{auth},
	}
	signer := types.NewPragueSigner(chainID)
	return types.SignNewTx(key, signer, inner)
}

// buildBlobSidecar packs raw data into a single 4844 blob, one field
// element at a time (each 32-byte slot's top byte must stay zero), then
// computes its KZG commitment and proof.
func buildBlobSidecar(data []byte) (*types.BlobTxSidecar, error) {
	var blob kzg4844.Blob
	const fieldElementSize = 32
	maxBytes := (len(blob) / fieldElementSize) * (fieldElementSize - 1)
	if len(data) > maxBytes {
		return nil, fmt.Errorf("blob data too large: %d bytes, max %d", len(data), maxBytes)
	}
	for i, elemStart := 0, 0; elemStart < len(data); i, elemStart = i+1, elemStart+fieldElementSize-1 {
		end := elemStart + fieldElementSize - 1
		if end > len(data) {
			end = len(data)
		}
		copy(blob[i*fieldElementSize+1:], data[elemStart:end])
	}

	commitment, err := kzg4844.BlobToCommitment(&blob)
	if err != nil {
		return nil, fmt.Errorf("computing commitment: %w", err)
	}
	proof, err := kzg4844.ComputeBlobProof(&blob, commitment)
	if err != nil {
		return nil, fmt.Errorf("computing proof: %w", err)
	}

	return &types.BlobTxSidecar{
		Blobs:       []kzg4844.Blob{blob},
		Commitments: []kzg4844.Commitment{commitment},
		Proofs:      []kzg4844.Proof{proof},
	}, nil
}
