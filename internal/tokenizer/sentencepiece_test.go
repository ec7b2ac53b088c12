package tokenizer

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	pieceNormal  = 1
	pieceUnknown = 2
	pieceControl = 3
)

var tinyPieces = []struct {
	text string
	kind uint64
}{
	{"<unk>", pieceUnknown}, {"<s>", pieceControl}, {"</s>", pieceControl},
	{"▁", pieceNormal}, {"t", pieceNormal}, {"h", pieceNormal}, {"e", pieceNormal},
	{"c", pieceNormal}, {"a", pieceNormal}, {"s", pieceNormal},
	{"th", pieceNormal}, {"the", pieceNormal}, {"▁the", pieceNormal},
	{"at", pieceNormal}, {"▁c", pieceNormal}, {"▁cat", pieceNormal},
	{"▁s", pieceNormal}, {"▁sat", pieceNormal},
}

// writeSentencePieceModel encodes a BPE ModelProto with tinyPieces and plain
// normalization and returns its path.
func writeSentencePieceModel(t *testing.T, withNormalizer bool) string {
	t.Helper()
	var model []byte
	for i, p := range tinyPieces {
		var piece []byte
		piece = protowire.AppendTag(piece, 1, protowire.BytesType)
		piece = protowire.AppendString(piece, p.text)
		piece = protowire.AppendTag(piece, 2, protowire.Fixed32Type)
		piece = protowire.AppendFixed32(piece, math.Float32bits(-float32(i)))
		piece = protowire.AppendTag(piece, 3, protowire.VarintType)
		piece = protowire.AppendVarint(piece, p.kind)
		model = protowire.AppendTag(model, 1, protowire.BytesType)
		model = protowire.AppendBytes(model, piece)
	}

	var trainer []byte
	trainer = protowire.AppendTag(trainer, 3, protowire.VarintType)
	trainer = protowire.AppendVarint(trainer, 2) // BPE
	model = protowire.AppendTag(model, 2, protowire.BytesType)
	model = protowire.AppendBytes(model, trainer)

	if withNormalizer {
		var norm []byte
		norm = protowire.AppendTag(norm, 3, protowire.VarintType) // add_dummy_prefix
		norm = protowire.AppendVarint(norm, 0)
		norm = protowire.AppendTag(norm, 4, protowire.VarintType) // remove_extra_whitespaces
		norm = protowire.AppendVarint(norm, 0)
		model = protowire.AppendTag(model, 3, protowire.BytesType)
		model = protowire.AppendBytes(model, norm)
	}

	path := filepath.Join(t.TempDir(), "spiece.model")
	require.NoError(t, os.WriteFile(path, model, 0o644))
	return path
}

func loadTinySentencePiece(t *testing.T) *SentencePiece {
	t.Helper()
	tok, err := Load(writeSentencePieceModel(t, true))
	require.NoError(t, err)
	sp, ok := tok.(*SentencePiece)
	require.True(t, ok, "Load returned %T", tok)
	return sp
}

func TestSentencePieceEncodeDecode(t *testing.T) {
	t.Parallel()
	sp := loadTinySentencePiece(t)
	assert.Equal(t, len(tinyPieces), sp.VocabSize())

	ids, err := sp.Encode("the cat sat")
	require.NoError(t, err)
	assert.Equal(t, []int{11, 15, 17}, ids)

	text, err := sp.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "the cat sat", text)

	empty, err := sp.Encode("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSentencePieceDecodeDropsControlAndUnknown(t *testing.T) {
	t.Parallel()
	sp := loadTinySentencePiece(t)

	text, err := sp.Decode([]int{1, 0, 11, 0, 15, 2})
	require.NoError(t, err)
	assert.Equal(t, "the cat", text)

	text, err = sp.Decode([]int{0})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestSentencePieceInvalidToken(t *testing.T) {
	t.Parallel()
	sp := loadTinySentencePiece(t)

	for _, ids := range [][]int{{len(tinyPieces)}, {11, -1}} {
		_, err := sp.Decode(ids)
		var ite *InvalidTokenError
		require.ErrorAs(t, err, &ite, "ids %v", ids)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestSentencePieceDecodeIsStableUnderReencoding(t *testing.T) {
	t.Parallel()
	sp := loadTinySentencePiece(t)

	rng := rand.New(rand.NewPCG(3, 4))
	for range 500 {
		ids := make([]int, rng.IntN(10))
		for i := range ids {
			ids[i] = rng.IntN(sp.VocabSize())
		}
		once, err := sp.Decode(ids)
		require.NoError(t, err)
		reenc, err := sp.Encode(once)
		require.NoError(t, err)
		twice, err := sp.Decode(reenc)
		require.NoError(t, err)
		require.Equal(t, once, twice, "ids %v", ids)
	}
}

func TestSentencePieceClosed(t *testing.T) {
	t.Parallel()
	sp := loadTinySentencePiece(t)
	require.NoError(t, sp.Close())
	_, err := sp.Encode("the")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSentencePieceWithoutNormalizerFailsToLoad(t *testing.T) {
	t.Parallel()
	_, err := LoadSentencePiece(writeSentencePieceModel(t, false))
	require.Error(t, err)
}
