// Package shred implements the erasure codec of the dissemination protocol:
// a block is split into K fixed-size data fragments plus N−K parity
// fragments of a systematic Reed-Solomon code over GF(2^8), such that any K
// of the N fragments reconstruct the block exactly.
package shred

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/alpenlabs/alpenglow/model"
)

// lengthPrefixSize is the size of the serialized-block length prefix
// embedded before zero-padding, so decoding can strip the padding.
const lengthPrefixSize = 4

// Encode splits the block into its shred set. The operation is
// deterministic: the same block with the same parameters always yields
// byte-identical shreds, so a single leader signature covers the whole set.
func Encode(block *model.Block, params model.CodingParams, shredSize int) ([]*model.Shred, error) {
	if err := params.Validate(); err != nil {
		return nil, model.NewConfigurationErrorf("invalid coding parameters: %s", err)
	}
	if shredSize <= 0 {
		return nil, model.NewConfigurationErrorf("shred size must be positive, got %d", shredSize)
	}

	payload, err := model.EncodeBlock(block)
	if err != nil {
		return nil, err
	}

	dataShards := int(params.DataShreds)
	totalShards := int(params.TotalShreds)
	capacity := dataShards * shredSize
	if lengthPrefixSize+len(payload) > capacity {
		return nil, fmt.Errorf(
			"serialized block (%d bytes) exceeds coding capacity %d (K=%d, shred size %d)",
			len(payload), capacity-lengthPrefixSize, dataShards, shredSize)
	}

	// length prefix + payload, zero-padded to K shards
	padded := make([]byte, capacity)
	binary.BigEndian.PutUint32(padded[:lengthPrefixSize], uint32(len(payload)))
	copy(padded[lengthPrefixSize:], payload)

	shards := make([][]byte, totalShards)
	for i := 0; i < dataShards; i++ {
		shards[i] = padded[i*shredSize : (i+1)*shredSize]
	}
	for i := dataShards; i < totalShards; i++ {
		shards[i] = make([]byte, shredSize)
	}

	if parityShards := totalShards - dataShards; parityShards > 0 {
		enc, err := reedsolomon.New(dataShards, parityShards)
		if err != nil {
			return nil, fmt.Errorf("could not construct reed-solomon encoder: %w", err)
		}
		if err := enc.Encode(shards); err != nil {
			return nil, fmt.Errorf("could not compute parity shards: %w", err)
		}
	}

	blockID := block.ID()
	shreds := make([]*model.Shred, 0, totalShards)
	for i, shard := range shards {
		shreds = append(shreds, &model.Shred{
			BlockID:  blockID,
			Slot:     block.Slot,
			Index:    uint16(i),
			Params:   params,
			IsParity: i >= dataShards,
			Payload:  shard,
			Checksum: model.HashToID(shard),
		})
	}
	return shreds, nil
}

// Decode reconstructs the block from any subset of its shred set holding at
// least K distinct indices. Corrupted shreds (failing their integrity
// checksum) are rejected before reconstruction; shreds disagreeing on block
// ID or coding parameters fail the whole call with InconsistentShredsError.
func Decode(shreds []*model.Shred) (*model.Block, error) {
	if len(shreds) == 0 {
		return nil, model.NewInconsistentShredsErrorf("no shreds to decode")
	}

	blockID := shreds[0].BlockID
	params := shreds[0].Params
	if err := params.Validate(); err != nil {
		return nil, model.NewInconsistentShredsErrorf("invalid coding parameters: %s", err)
	}
	dataShards := int(params.DataShreds)
	totalShards := int(params.TotalShreds)

	shards := make([][]byte, totalShards)
	shredSize := -1
	distinct := 0
	for _, s := range shreds {
		if s.BlockID != blockID {
			return nil, model.NewInconsistentShredsErrorf(
				"shreds reference different blocks %x and %x", blockID, s.BlockID)
		}
		if s.Params != params {
			return nil, model.NewInconsistentShredsErrorf(
				"shreds disagree on coding parameters: %+v vs %+v", params, s.Params)
		}
		if int(s.Index) >= totalShards {
			return nil, model.NewInvalidShredErrorf(blockID, s.Index,
				"index out of range for N=%d", totalShards)
		}
		if !s.VerifyChecksum() {
			// corrupted payload: reject the shred, the rest may still suffice
			continue
		}
		if shredSize == -1 {
			shredSize = len(s.Payload)
		} else if len(s.Payload) != shredSize {
			return nil, model.NewInconsistentShredsErrorf(
				"shreds disagree on fragment size: %d vs %d", shredSize, len(s.Payload))
		}
		if shards[s.Index] == nil {
			shards[s.Index] = s.Payload
			distinct++
		}
	}

	if distinct < dataShards {
		return nil, model.InsufficientShredsError{BlockID: blockID, Have: distinct, Need: dataShards}
	}

	if parityShards := totalShards - dataShards; parityShards > 0 {
		enc, err := reedsolomon.New(dataShards, parityShards)
		if err != nil {
			return nil, fmt.Errorf("could not construct reed-solomon decoder: %w", err)
		}
		if err := enc.ReconstructData(shards); err != nil {
			return nil, fmt.Errorf("could not reconstruct data shards: %w", err)
		}
	}

	padded := make([]byte, 0, dataShards*shredSize)
	for i := 0; i < dataShards; i++ {
		padded = append(padded, shards[i]...)
	}
	if len(padded) < lengthPrefixSize {
		return nil, model.NewInconsistentShredsErrorf("reconstructed data shorter than length prefix")
	}
	payloadLen := binary.BigEndian.Uint32(padded[:lengthPrefixSize])
	if int(payloadLen) > len(padded)-lengthPrefixSize {
		return nil, model.NewInconsistentShredsErrorf(
			"embedded payload length %d exceeds reconstructed data %d", payloadLen, len(padded)-lengthPrefixSize)
	}

	block, err := model.DecodeBlock(padded[lengthPrefixSize : lengthPrefixSize+int(payloadLen)])
	if err != nil {
		return nil, fmt.Errorf("could not decode reconstructed block: %w", err)
	}
	if block.ID() != blockID {
		return nil, fmt.Errorf(
			"reconstructed block %x does not match claimed block ID %x", block.ID(), blockID)
	}
	return block, nil
}
