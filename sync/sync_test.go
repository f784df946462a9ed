package sync_test

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/document"
	"github.com/brunokim/mdcrdt/id"
	"github.com/brunokim/mdcrdt/sync"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := document.New(1)
	_, blk, err := doc.InsertBlock(0, document.Paragraph)
	require.NoError(t, err)
	op1, err := doc.InsertText(blk.ID, 0, "H")
	require.NoError(t, err)
	op2, err := doc.InsertText(blk.ID, 1, "i")
	require.NoError(t, err)

	msg := sync.ChangeMessage{From: id.New(), Ops: []document.Op{op1, op2}}
	data, err := sync.Encode(msg)
	require.NoError(t, err)

	got, err := sync.Decode(data, sync.DefaultLimits())
	require.NoError(t, err)
	require.Len(t, got.Ops, 2)
	require.Equal(t, op1.ID, got.Ops[0].ID)
	require.Equal(t, "H", got.Ops[0].Value)
	require.Equal(t, "i", got.Ops[1].Value)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	// Four zero bytes in place of the magic, followed by a valid CRC32
	// trailer, so the magic check (not the trailer check) rejects it.
	body := []byte{0, 0, 0, 0}
	data := binary.BigEndian.AppendUint32(body, crc32.ChecksumIEEE(body))
	_, err := sync.Decode(data, sync.DefaultLimits())
	require.ErrorIs(t, err, sync.ErrBadMagic)
}

func TestDecodeRejectsCorruptTrailer(t *testing.T) {
	doc := document.New(1)
	_, _, err := doc.InsertBlock(0, document.Paragraph)
	require.NoError(t, err)
	msg := sync.ChangeMessage{From: id.New()}
	data, err := sync.Encode(msg)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF

	_, err = sync.Decode(data, sync.DefaultLimits())
	require.ErrorIs(t, err, sync.ErrTrailerMismatch)
}

func TestBufferHoldsOutOfOrderOpsUntilDependencyArrives(t *testing.T) {
	source := document.New(1)
	blockOp, blk, err := source.InsertBlock(0, document.Paragraph)
	require.NoError(t, err)
	op1, err := source.InsertText(blk.ID, 0, "A")
	require.NoError(t, err)
	op2, err := source.InsertText(blk.ID, 1, "B")
	require.NoError(t, err)

	dest := document.New(2)
	buf := sync.NewBuffer(sync.DefaultLimits())

	// Deliver op2 before the block or op1 exist on dest: everything must
	// buffer rather than error.
	result, err := buf.Apply(dest, []document.Op{op2})
	require.NoError(t, err)
	require.Equal(t, 0, result.Applied)
	require.Equal(t, 1, buf.Len())

	// Delivering the block-insert op and op1 should cascade and drain op2
	// too, since each arrival makes the next op's dependency ready.
	result, err = buf.Apply(dest, []document.Op{blockOp, op1})
	require.NoError(t, err)
	require.Equal(t, 3, result.Applied)
	require.Equal(t, 0, buf.Len())
	require.Equal(t, "AB", dest.Blocks[blk.ID].PlainText())
}

func TestEncodeChangesSinceOmitsAlreadyCoveredOps(t *testing.T) {
	alice := document.New(1)
	_, blk, err := alice.InsertBlock(0, document.Paragraph)
	require.NoError(t, err)

	bob := alice.Fork()
	bob.Peer = 2

	op1, err := alice.InsertText(blk.ID, 0, "A")
	require.NoError(t, err)
	op2, err := alice.InsertText(blk.ID, 1, "B")
	require.NoError(t, err)

	msg := sync.EncodeChangesSince(alice, bob.SV)
	require.Equal(t, bob.SV, msg.From)
	require.Len(t, msg.Ops, 2)
	require.Equal(t, op1.ID, msg.Ops[0].ID)
	require.Equal(t, op2.ID, msg.Ops[1].ID)

	result, err := sync.NewBuffer(sync.DefaultLimits()).Apply(bob, msg.Ops)
	require.NoError(t, err)
	require.Equal(t, 2, result.Applied)
	require.Equal(t, "AB", bob.Blocks[blk.ID].PlainText())
}

func TestBufferBuffersCounterGapWithNoOtherDependency(t *testing.T) {
	// Mirrors spec.md's scenario 5: a SetFrontmatter op with OpId(2,1)
	// delivered before OpId(1,1) must buffer rather than apply, since it
	// carries no origin/target to gate on.
	source := document.New(1)
	op1, err := source.SetFrontmatter("title", "A")
	require.NoError(t, err)
	op2, err := source.SetFrontmatter("title", "B")
	require.NoError(t, err)
	require.Equal(t, uint64(1), op1.ID.Counter)
	require.Equal(t, uint64(2), op2.ID.Counter)

	dest := document.New(2)
	buf := sync.NewBuffer(sync.DefaultLimits())

	result, err := buf.Apply(dest, []document.Op{op2})
	require.NoError(t, err)
	require.Equal(t, 0, result.Applied)
	require.Equal(t, 1, result.Buffered)
	require.Equal(t, uint64(0), dest.SV[1])

	result, err = buf.Apply(dest, []document.Op{op1})
	require.NoError(t, err)
	require.Equal(t, 2, result.Applied)
	require.Equal(t, 0, result.Buffered)
	require.Equal(t, uint64(2), dest.SV[1])
}

func TestBufferBuffersAddMarkUntilAnchorsArrive(t *testing.T) {
	// textOp comes from a different peer than markOp, so markOp's own
	// counter is contiguous on delivery and only the anchor-presence check
	// (not the counter-gap check) can be responsible for buffering it.
	base := document.New(1)
	blockOp, blk, err := base.InsertBlock(0, document.Paragraph)
	require.NoError(t, err)

	alice := base.Fork()
	bob := base.Fork()
	bob.Peer = 2

	textOp, err := bob.InsertText(blk.ID, 0, "Hi")
	require.NoError(t, err)
	markOp, err := alice.AddMark(blk.ID, crdt.Bold,
		crdt.Anchor{Atom: textOp.ID, Bias: crdt.Before},
		crdt.Anchor{Atom: id.OpId{}, Bias: crdt.After},
	)
	require.NoError(t, err)

	dest := document.New(3)
	buf := sync.NewBuffer(sync.DefaultLimits())

	// Deliver the block and the mark before its anchor text atom exists:
	// the mark must buffer instead of failing at render time.
	result, err := buf.Apply(dest, []document.Op{blockOp, markOp})
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)
	require.Equal(t, 1, result.Buffered)

	result, err = buf.Apply(dest, []document.Op{textOp})
	require.NoError(t, err)
	require.Equal(t, 2, result.Applied)
	require.Equal(t, 0, result.Buffered)
	require.True(t, dest.Blocks[blk.ID].Marks.IsEffective(markOp.ID))
}

func TestBufferReportsBlockKindConflict(t *testing.T) {
	base := document.New(1)
	_, blk, err := base.InsertBlock(0, document.Paragraph)
	require.NoError(t, err)

	alice := base.Fork()
	bob := base.Fork()
	bob.Peer = 2

	opA, err := alice.SetBlockKind(blk.ID, document.Heading)
	require.NoError(t, err)
	opB, err := bob.SetBlockKind(blk.ID, document.BlockQuote)
	require.NoError(t, err)

	dest := base.Fork()
	dest.Peer = 3
	result, err := sync.NewBuffer(sync.DefaultLimits()).Apply(dest, []document.Op{opA, opB})
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, sync.ConflictBlockKind, result.Conflicts[0].Kind)
	require.Equal(t, blk.ID, result.Conflicts[0].BlockID)
}

func TestBufferReportsDeleteEditConflict(t *testing.T) {
	base := document.New(1)
	_, blk, err := base.InsertBlock(0, document.Paragraph)
	require.NoError(t, err)

	alice := base.Fork()
	bob := base.Fork()
	bob.Peer = 2

	opEdit, err := alice.SetBlockAttr(blk.ID, document.AttrHeadingLevel, 2)
	require.NoError(t, err)
	opDelete, err := bob.DeleteBlock(blk.ID)
	require.NoError(t, err)

	dest := base.Fork()
	dest.Peer = 3
	result, err := sync.NewBuffer(sync.DefaultLimits()).Apply(dest, []document.Op{opEdit, opDelete})
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, sync.ConflictDeleteEdit, result.Conflicts[0].Kind)
	require.Equal(t, blk.ID, result.Conflicts[0].BlockID)
}
