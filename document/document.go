package document

import (
	"errors"
	"fmt"
	"sort"

	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/id"
	"github.com/google/uuid"
)

var (
	// ErrUnknownBlock is returned when an operation targets a block ID
	// that the document has never seen.
	ErrUnknownBlock = errors.New("document: unknown block")
	// ErrNotContainer is returned when a child-block operation targets a
	// leaf block.
	ErrNotContainer = errors.New("document: block does not hold children")
	// ErrNotLeaf describes a text or mark operation aimed at a container
	// block. No Document method returns it: text and mark operations are
	// applied to a block of any kind.
	ErrNotLeaf = errors.New("document: block does not hold text")
)

// OpKind identifies the shape of an atomic document operation, mirroring
// the handful of primitive edits every higher-level API call lowers to
// (spec.md §4.7).
type OpKind int

const (
	OpCreateBlock OpKind = iota
	OpInsertBlock
	OpDeleteBlock
	OpSetBlockKind
	OpSetBlockAttr
	OpSetFrontmatter
	OpInsertChild
	OpDeleteChild
	OpInsertText
	OpDeleteText
	OpAddMark
	OpRemoveMark
	OpSetMarkAttr
)

// Op is a single atomic CRDT operation, the unit exchanged by the sync
// layer. Only the fields relevant to Kind are populated; this flat shape
// follows the teacher's preference for one operation envelope over a
// type hierarchy per op kind.
type Op struct {
	Kind OpKind
	// ID is the OpId this operation mints (the new atom/interval's own
	// identity, or the write's LWW timestamp).
	ID id.OpId
	// BlockID is the block this operation targets. Zero for document-level
	// operations (InsertBlock targets BlockOrder instead; Frontmatter
	// writes carry no block).
	BlockID id.OpId
	// OriginLeft/OriginRight position a sequence insertion (InsertBlock,
	// InsertChild, InsertText).
	OriginLeft  id.OpId
	OriginRight id.OpId
	// Target names the atom/interval an operation acts on (DeleteBlock,
	// DeleteChild, DeleteText, RemoveMark, SetMarkAttr).
	Target id.OpId
	// Key names an attribute or frontmatter key (SetBlockAttr,
	// SetFrontmatter, SetMarkAttr).
	Key string
	// Value carries a written value (SetBlockAttr, SetFrontmatter,
	// SetMarkAttr) or the BlockKind (InsertBlock, SetBlockKind) or the
	// grapheme cluster (InsertText).
	Value interface{}
	// MarkKind, StartAnchor, EndAnchor are used by AddMark only.
	MarkKind    crdt.MarkKind
	StartAnchor crdt.Anchor
	EndAnchor   crdt.Anchor
}

// Document is a CRDT-backed Markdown document: an ordered sequence of
// blocks plus a frontmatter map, replicated across peers (spec.md §3).
type Document struct {
	// DocID identifies this document instance across every replica and
	// every peer that edits it — unlike Peer, it never changes on Fork,
	// since a fork is still the same logical document. It has no bearing
	// on CRDT convergence; it exists for callers that key storage, log
	// lines, or sync sessions by document rather than by block or peer.
	DocID       string
	Peer        uint64
	clock       uint64
	Frontmatter *crdt.Map
	BlockOrder  *crdt.Sequence[id.OpId]
	Blocks      map[id.OpId]*Block
	SV          id.StateVector

	// history retains every op this document has applied, local or
	// remote, so a delta since an arbitrary state vector can be produced
	// later (spec.md §4.8 "Encoding a delta since SV", §6
	// SyncState::encode_changes_since). It is never consulted for
	// convergence — only OpsSince reads it.
	history []Op
}

// New returns an empty document that will mint operations as the given
// peer, identified by a freshly generated DocID.
func New(peer uint64) *Document {
	return &Document{
		DocID:       uuid.NewString(),
		Peer:        peer,
		Frontmatter: crdt.NewMap(),
		BlockOrder:  crdt.NewSequence[id.OpId](),
		Blocks:      make(map[id.OpId]*Block),
		SV:          id.New(),
	}
}

// NextOpID mints a fresh, locally-unique OpId and advances the document's
// own entry in its state vector. The counter follows the document's own
// peer's entry in SV rather than a clock inherited through Fork, so each
// peer's counters stay contiguous, as the sync layer's causal buffer
// expects.
func (d *Document) NextOpID() id.OpId {
	d.clock = d.SV.NextCounter(d.Peer)
	opID := id.OpId{Counter: d.clock, Peer: d.Peer}
	d.SV[d.Peer] = d.clock
	return opID
}

// record appends op to the document's local history. Called once per
// applied op, local or remote, after the op has taken effect.
func (d *Document) record(op Op) {
	d.history = append(d.history, op)
}

func (d *Document) block(blockID id.OpId) (*Block, error) {
	b, ok := d.Blocks[blockID]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownBlock, blockID)
	}
	return b, nil
}

// InsertBlock creates a new top-level block of the given kind at offset
// and applies it locally, returning the op for replication.
func (d *Document) InsertBlock(offset int, kind BlockKind) (Op, *Block, error) {
	left, right, err := d.BlockOrder.OriginsForOffset(offset)
	if err != nil {
		return Op{}, nil, err
	}
	opID := d.NextOpID()
	op := Op{Kind: OpInsertBlock, ID: opID, OriginLeft: left, OriginRight: right, Value: kind}
	blk, err := d.applyInsertBlock(op)
	if err != nil {
		return Op{}, nil, err
	}
	d.record(op)
	return op, blk, nil
}

func (d *Document) applyInsertBlock(op Op) (*Block, error) {
	if err := d.BlockOrder.Integrate(crdt.Atom[id.OpId]{
		ID: op.ID, OriginLeft: op.OriginLeft, OriginRight: op.OriginRight, Payload: op.ID,
	}); err != nil {
		return nil, err
	}
	blk := newBlock(op.ID, op.ID, op.Value.(BlockKind))
	d.Blocks[op.ID] = blk
	return blk, nil
}

// CreateBlock mints a new block of the given kind without placing it in
// any order — neither the document's top-level BlockOrder nor any
// container's Children. The caller links it in afterwards with
// InsertBlock (for a top-level position) or InsertChild (to nest it
// under a container), which is how the Markdown parser builds nested
// structures such as list items without them also surfacing as top-level
// blocks.
func (d *Document) CreateBlock(kind BlockKind) (Op, *Block, error) {
	opID := d.NextOpID()
	op := Op{Kind: OpCreateBlock, ID: opID, Value: kind}
	blk, err := d.applyCreateBlock(op)
	if err != nil {
		return Op{}, nil, err
	}
	d.record(op)
	return op, blk, nil
}

func (d *Document) applyCreateBlock(op Op) (*Block, error) {
	blk := newBlock(op.ID, op.ID, op.Value.(BlockKind))
	d.Blocks[op.ID] = blk
	return blk, nil
}

// DeleteBlock tombstones a top-level block. Its content remains retained
// (but invisible) so concurrent edits to it can still be integrated.
func (d *Document) DeleteBlock(blockID id.OpId) (Op, error) {
	opID := d.NextOpID()
	op := Op{Kind: OpDeleteBlock, ID: opID, Target: blockID}
	if err := d.applyDeleteBlock(op); err != nil {
		return Op{}, err
	}
	d.record(op)
	return op, nil
}

func (d *Document) applyDeleteBlock(op Op) error {
	return d.BlockOrder.Delete(op.Target, op.ID)
}

// SetBlockKind changes a block's kind with LWW semantics.
func (d *Document) SetBlockKind(blockID id.OpId, kind BlockKind) (Op, error) {
	opID := d.NextOpID()
	op := Op{Kind: OpSetBlockKind, ID: opID, BlockID: blockID, Value: kind}
	if err := d.applySetBlockKind(op); err != nil {
		return Op{}, err
	}
	d.record(op)
	return op, nil
}

func (d *Document) applySetBlockKind(op Op) error {
	b, err := d.block(op.BlockID)
	if err != nil {
		return err
	}
	b.SetKind(op.ID, op.Value.(BlockKind))
	b.markDirty()
	return nil
}

// SetBlockAttr sets a kind-specific attribute (heading level, fence info,
// ...) on a block, LWW.
func (d *Document) SetBlockAttr(blockID id.OpId, key string, value interface{}) (Op, error) {
	opID := d.NextOpID()
	op := Op{Kind: OpSetBlockAttr, ID: opID, BlockID: blockID, Key: key, Value: value}
	if err := d.applySetBlockAttr(op); err != nil {
		return Op{}, err
	}
	d.record(op)
	return op, nil
}

func (d *Document) applySetBlockAttr(op Op) error {
	b, err := d.block(op.BlockID)
	if err != nil {
		return err
	}
	b.Attrs.Set(op.Key, op.ID, op.Value)
	b.markDirty()
	return nil
}

// SetFrontmatter sets a document-level frontmatter key, LWW.
func (d *Document) SetFrontmatter(key string, value interface{}) (Op, error) {
	opID := d.NextOpID()
	op := Op{Kind: OpSetFrontmatter, ID: opID, Key: key, Value: value}
	if err := d.applySetFrontmatter(op); err != nil {
		return Op{}, err
	}
	d.record(op)
	return op, nil
}

func (d *Document) applySetFrontmatter(op Op) error {
	d.Frontmatter.Set(op.Key, op.ID, op.Value)
	return nil
}

// InsertChild inserts an existing block ID into a container block's child
// order at offset (used when building nested structures such as list
// items inside a list).
func (d *Document) InsertChild(parentID id.OpId, offset int, childID id.OpId) (Op, error) {
	parent, err := d.block(parentID)
	if err != nil {
		return Op{}, err
	}
	if !parent.IsContainer() {
		return Op{}, fmt.Errorf("%w: %v", ErrNotContainer, parentID)
	}
	left, right, err := parent.Children.OriginsForOffset(offset)
	if err != nil {
		return Op{}, err
	}
	opID := d.NextOpID()
	op := Op{Kind: OpInsertChild, ID: opID, BlockID: parentID, OriginLeft: left, OriginRight: right, Value: childID}
	if err := d.applyInsertChild(op); err != nil {
		return Op{}, err
	}
	d.record(op)
	return op, nil
}

func (d *Document) applyInsertChild(op Op) error {
	parent, err := d.block(op.BlockID)
	if err != nil {
		return err
	}
	childID := op.Value.(id.OpId)
	return parent.Children.Integrate(crdt.Atom[id.OpId]{
		ID: op.ID, OriginLeft: op.OriginLeft, OriginRight: op.OriginRight, Payload: childID,
	})
}

// DeleteChild removes a child block ID from its parent's child order.
func (d *Document) DeleteChild(parentID, childAtomID id.OpId) (Op, error) {
	parent, err := d.block(parentID)
	if err != nil {
		return Op{}, err
	}
	opID := d.NextOpID()
	op := Op{Kind: OpDeleteChild, ID: opID, BlockID: parentID, Target: childAtomID}
	if err := parent.Children.Delete(op.Target, op.ID); err != nil {
		return Op{}, err
	}
	d.record(op)
	return op, nil
}

// InsertText inserts a grapheme cluster into a leaf block's text at
// offset.
func (d *Document) InsertText(blockID id.OpId, offset int, cluster string) (Op, error) {
	b, err := d.block(blockID)
	if err != nil {
		return Op{}, err
	}
	left, right, err := b.Text.OriginsForOffset(offset)
	if err != nil {
		return Op{}, err
	}
	opID := d.NextOpID()
	op := Op{Kind: OpInsertText, ID: opID, BlockID: blockID, OriginLeft: left, OriginRight: right, Value: cluster}
	if err := d.applyInsertText(op); err != nil {
		return Op{}, err
	}
	d.record(op)
	return op, nil
}

func (d *Document) applyInsertText(op Op) error {
	b, err := d.block(op.BlockID)
	if err != nil {
		return err
	}
	if err := b.Text.Integrate(crdt.Atom[string]{
		ID: op.ID, OriginLeft: op.OriginLeft, OriginRight: op.OriginRight, Payload: op.Value.(string),
	}); err != nil {
		return err
	}
	b.markDirty()
	return nil
}

// DeleteText tombstones a single text atom.
func (d *Document) DeleteText(blockID, target id.OpId) (Op, error) {
	b, err := d.block(blockID)
	if err != nil {
		return Op{}, err
	}
	opID := d.NextOpID()
	op := Op{Kind: OpDeleteText, ID: opID, BlockID: blockID, Target: target}
	if err := b.Text.Delete(op.Target, op.ID); err != nil {
		return Op{}, err
	}
	b.markDirty()
	d.record(op)
	return op, nil
}

// AddMark adds a formatting interval over blockID's text.
func (d *Document) AddMark(blockID id.OpId, kind crdt.MarkKind, start, end crdt.Anchor) (Op, error) {
	b, err := d.block(blockID)
	if err != nil {
		return Op{}, err
	}
	opID := d.NextOpID()
	op := Op{Kind: OpAddMark, ID: opID, BlockID: blockID, MarkKind: kind, StartAnchor: start, EndAnchor: end}
	b.Marks.Add(op.ID, op.MarkKind, op.StartAnchor, op.EndAnchor)
	b.markDirty()
	d.record(op)
	return op, nil
}

// RemoveMark removes the mark interval identified by target.
func (d *Document) RemoveMark(blockID, target id.OpId) (Op, error) {
	b, err := d.block(blockID)
	if err != nil {
		return Op{}, err
	}
	opID := d.NextOpID()
	op := Op{Kind: OpRemoveMark, ID: opID, BlockID: blockID, Target: target}
	b.Marks.Remove(op.Target, op.ID)
	b.markDirty()
	d.record(op)
	return op, nil
}

// SetMarkAttr sets an attribute (e.g. a link's href) on a mark interval.
func (d *Document) SetMarkAttr(blockID, target id.OpId, key string, value interface{}) (Op, error) {
	b, err := d.block(blockID)
	if err != nil {
		return Op{}, err
	}
	opID := d.NextOpID()
	op := Op{Kind: OpSetMarkAttr, ID: opID, BlockID: blockID, Target: target, Key: key, Value: value}
	if err := b.Marks.SetAttr(op.Target, op.Key, op.ID, op.Value); err != nil {
		return Op{}, err
	}
	b.markDirty()
	d.record(op)
	return op, nil
}

// Apply integrates a remote operation. The caller (the sync layer) is
// responsible for ensuring op's causal dependencies have already been
// applied; Apply itself does no buffering.
func (d *Document) Apply(op Op) error {
	switch op.Kind {
	case OpCreateBlock:
		if _, err := d.applyCreateBlock(op); err != nil {
			return err
		}
	case OpInsertBlock:
		if _, err := d.applyInsertBlock(op); err != nil {
			return err
		}
	case OpDeleteBlock:
		if err := d.applyDeleteBlock(op); err != nil {
			return err
		}
	case OpSetBlockKind:
		if err := d.applySetBlockKind(op); err != nil {
			return err
		}
	case OpSetBlockAttr:
		if err := d.applySetBlockAttr(op); err != nil {
			return err
		}
	case OpSetFrontmatter:
		if err := d.applySetFrontmatter(op); err != nil {
			return err
		}
	case OpInsertChild:
		if err := d.applyInsertChild(op); err != nil {
			return err
		}
	case OpDeleteChild:
		b, err := d.block(op.BlockID)
		if err != nil {
			return err
		}
		if err := b.Children.Delete(op.Target, op.ID); err != nil {
			return err
		}
	case OpInsertText:
		if err := d.applyInsertText(op); err != nil {
			return err
		}
	case OpDeleteText:
		b, err := d.block(op.BlockID)
		if err != nil {
			return err
		}
		if err := b.Text.Delete(op.Target, op.ID); err != nil {
			return err
		}
		b.markDirty()
	case OpAddMark:
		b, err := d.block(op.BlockID)
		if err != nil {
			return err
		}
		b.Marks.Add(op.ID, op.MarkKind, op.StartAnchor, op.EndAnchor)
		b.markDirty()
	case OpRemoveMark:
		b, err := d.block(op.BlockID)
		if err != nil {
			return err
		}
		b.Marks.Remove(op.Target, op.ID)
		b.markDirty()
	case OpSetMarkAttr:
		b, err := d.block(op.BlockID)
		if err != nil {
			return err
		}
		if err := b.Marks.SetAttr(op.Target, op.Key, op.ID, op.Value); err != nil {
			return err
		}
		b.markDirty()
	default:
		return fmt.Errorf("document: unknown op kind %d", op.Kind)
	}
	d.SV.Advance(op.ID)
	d.record(op)
	return nil
}

// VisibleBlocks returns the document's top-level blocks in order,
// skipping deleted ones.
func (d *Document) VisibleBlocks() []*Block {
	var out []*Block
	for _, opID := range d.BlockOrder.VisibleIDs() {
		if b, ok := d.Blocks[opID]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Fork returns an independent deep copy of the document, sharing no
// mutable state with the original — the starting point for two replicas
// that will now diverge (spec.md's forking workflow).
func (d *Document) Fork() *Document {
	out := &Document{
		DocID:       d.DocID,
		Peer:        d.Peer,
		clock:       d.clock,
		Frontmatter: d.Frontmatter.Clone(),
		BlockOrder:  d.BlockOrder.Clone(),
		Blocks:      make(map[id.OpId]*Block, len(d.Blocks)),
		SV:          d.SV.Clone(),
		history:     append([]Op(nil), d.history...),
	}
	for k, b := range d.Blocks {
		out.Blocks[k] = b.clone()
	}
	return out
}

// OpsSince returns every op this document has applied that sv does not
// cover (sv[peer] < counter), sorted ascending by (peer, counter) —
// spec.md §4.8's "Encoding a delta since SV". The sort is purely for
// wire compactness and carries no semantic meaning.
func (d *Document) OpsSince(sv id.StateVector) []Op {
	var out []Op
	for _, op := range d.history {
		if sv[op.ID.Peer] < op.ID.Counter {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Peer != out[j].ID.Peer {
			return out[i].ID.Peer < out[j].ID.Peer
		}
		return out[i].ID.Counter < out[j].ID.Counter
	})
	return out
}

// BlockSnapshot is the plain-data projection of a Block, suitable for
// serialization or display (spec.md §6).
type BlockSnapshot struct {
	ID       id.OpId
	Kind     BlockKind
	Attrs    map[string]interface{}
	Text     string
	Children []id.OpId
}

// Snapshot returns a plain-data projection of the document's current
// visible state.
func (d *Document) Snapshot() (frontmatter map[string]interface{}, blocks []BlockSnapshot) {
	frontmatter = d.Frontmatter.Snapshot()
	for _, b := range d.VisibleBlocks() {
		bs := BlockSnapshot{
			ID:    b.ID,
			Kind:  b.Kind(),
			Attrs: b.Attrs.Snapshot(),
		}
		if b.IsContainer() {
			bs.Children = b.Children.VisibleIDs()
		} else {
			bs.Text = b.PlainText()
		}
		blocks = append(blocks, bs)
	}
	return frontmatter, blocks
}
