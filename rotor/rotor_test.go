package rotor_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/module/metrics"
	"github.com/alpenlabs/alpenglow/rotor"
	"github.com/alpenlabs/alpenglow/utils/unittest"
)

var testParams = model.CodingParams{DataShreds: 4, TotalShreds: 6}

func awaitEvent(t *testing.T, r *rotor.Rotor) rotor.Event {
	select {
	case event := <-r.Completions():
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("no coding completion delivered")
		return nil
	}
}

func TestEncodeDecodePipeline(t *testing.T) {
	r := rotor.New(zerolog.Nop(), metrics.Noop{}, 2, 8)
	defer r.Stop()

	block := unittest.BlockFixture(unittest.WithPayload(unittest.SeedFixture(500)))
	r.SubmitEncode(context.Background(), block, testParams, 256)

	encoded, ok := awaitEvent(t, r).(rotor.BlockEncoded)
	require.True(t, ok)
	require.Equal(t, block.ID(), encoded.Block.ID())
	require.Len(t, encoded.Shreds, int(testParams.TotalShreds))

	// any K of the produced shreds decode back to the block
	r.SubmitDecode(context.Background(), block.ID(), encoded.Shreds[2:6])
	decoded, ok := awaitEvent(t, r).(rotor.BlockDecoded)
	require.True(t, ok)
	require.Equal(t, block.ID(), decoded.Block.ID())
}

func TestDecodeFailureReported(t *testing.T) {
	r := rotor.New(zerolog.Nop(), metrics.Noop{}, 2, 8)
	defer r.Stop()

	block := unittest.BlockFixture(unittest.WithPayload(unittest.SeedFixture(500)))
	r.SubmitEncode(context.Background(), block, testParams, 256)
	encoded := awaitEvent(t, r).(rotor.BlockEncoded)

	// three shreds are below K
	r.SubmitDecode(context.Background(), block.ID(), encoded.Shreds[:3])
	failed, ok := awaitEvent(t, r).(rotor.DecodeFailed)
	require.True(t, ok)
	require.Equal(t, block.ID(), failed.BlockID)
	require.True(t, model.IsInsufficientShredsError(failed.Err))
}

func TestCancelledJobsDropped(t *testing.T) {
	r := rotor.New(zerolog.Nop(), metrics.Noop{}, 1, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := unittest.BlockFixture(unittest.WithPayload(unittest.SeedFixture(500)))
	r.SubmitEncode(ctx, block, testParams, 256)
	r.Stop() // drains the queue

	select {
	case event := <-r.Completions():
		t.Fatalf("cancelled job still delivered %T", event)
	default:
	}
}
