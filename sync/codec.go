package sync

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/document"
	"github.com/brunokim/mdcrdt/id"
)

// magic identifies the wire format and guards against decoding an
// unrelated byte stream.
var magic = [4]byte{'M', 'C', 'R', 'D'}

const wireVersion = 1

// Wire value tags for Op.Value, which is an interface{} in memory but
// must be a closed set on the wire.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagString
	tagStringSlice
)

var (
	// ErrBadMagic is returned when decoding a byte stream that doesn't
	// start with the expected magic bytes.
	ErrBadMagic = errors.New("sync: bad magic bytes")
	// ErrTrailerMismatch is returned when the trailing CRC32 doesn't match
	// the decoded payload, indicating corruption or truncation.
	ErrTrailerMismatch = errors.New("sync: CRC32 trailer mismatch")
	// ErrUnsupportedValue is returned when encoding an Op.Value of a type
	// the wire format has no tag for.
	ErrUnsupportedValue = errors.New("sync: unsupported op value type")
)

// Encode serializes msg to the binary wire format: magic, version, state
// vector, operations, then a CRC32 trailer over everything preceding it.
func Encode(msg ChangeMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	writeUvarint(&buf, wireVersion)

	writeUvarint(&buf, uint64(len(msg.From)))
	for peer, counter := range msg.From {
		writeUvarint(&buf, peer)
		writeUvarint(&buf, counter)
	}

	writeUvarint(&buf, uint64(len(msg.Ops)))
	for _, op := range msg.Ops {
		if err := encodeOp(&buf, op); err != nil {
			return nil, err
		}
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], sum)
	buf.Write(trailer[:])
	return buf.Bytes(), nil
}

// Decode parses a byte stream produced by Encode, enforcing limits on
// message size so a malformed or hostile payload cannot exhaust memory.
func Decode(data []byte, limits Limits) (ChangeMessage, error) {
	if limits.MaxMessageBytes > 0 && int64(len(data)) > limits.MaxMessageBytes {
		return ChangeMessage{}, fmt.Errorf("%w: message size", ErrResourceExhausted)
	}
	if len(data) < 4+4 {
		return ChangeMessage{}, io.ErrUnexpectedEOF
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(trailer) {
		return ChangeMessage{}, ErrTrailerMismatch
	}

	r := bytes.NewReader(body)
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return ChangeMessage{}, err
	}
	if gotMagic != magic {
		return ChangeMessage{}, ErrBadMagic
	}
	if _, err := readUvarint(r); err != nil { // version, unused for now
		return ChangeMessage{}, err
	}

	svLen, err := readUvarint(r)
	if err != nil {
		return ChangeMessage{}, err
	}
	if limits.MaxPeerTableLength > 0 && svLen > uint64(limits.MaxPeerTableLength) {
		return ChangeMessage{}, fmt.Errorf("%w: state vector size", ErrResourceExhausted)
	}
	sv := id.New()
	for i := uint64(0); i < svLen; i++ {
		peer, err := readUvarint(r)
		if err != nil {
			return ChangeMessage{}, err
		}
		counter, err := readUvarint(r)
		if err != nil {
			return ChangeMessage{}, err
		}
		sv[peer] = counter
	}

	opLen, err := readUvarint(r)
	if err != nil {
		return ChangeMessage{}, err
	}
	ops := make([]document.Op, 0, opLen)
	for i := uint64(0); i < opLen; i++ {
		op, err := decodeOp(r, limits)
		if err != nil {
			return ChangeMessage{}, err
		}
		ops = append(ops, op)
	}
	return ChangeMessage{From: sv, Ops: ops}, nil
}

func writeOpID(buf *bytes.Buffer, opID id.OpId) {
	writeUvarint(buf, opID.Counter)
	writeUvarint(buf, opID.Peer)
}

func readOpID(r *bytes.Reader) (id.OpId, error) {
	counter, err := readUvarint(r)
	if err != nil {
		return id.OpId{}, err
	}
	peer, err := readUvarint(r)
	if err != nil {
		return id.OpId{}, err
	}
	return id.OpId{Counter: counter, Peer: peer}, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader, limits Limits) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	if limits.MaxStringBytes > 0 && n > uint64(limits.MaxStringBytes) {
		return "", fmt.Errorf("%w: string length", ErrResourceExhausted)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeAnchor(buf *bytes.Buffer, a crdt.Anchor) {
	writeOpID(buf, a.Atom)
	buf.WriteByte(byte(a.Bias))
}

func readAnchor(r *bytes.Reader) (crdt.Anchor, error) {
	atom, err := readOpID(r)
	if err != nil {
		return crdt.Anchor{}, err
	}
	bias, err := r.ReadByte()
	if err != nil {
		return crdt.Anchor{}, err
	}
	return crdt.Anchor{Atom: atom, Bias: crdt.Bias(bias)}, nil
}

func writeValue(buf *bytes.Buffer, v interface{}) error {
	switch x := v.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case bool:
		buf.WriteByte(tagBool)
		if x {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int:
		buf.WriteByte(tagInt)
		writeUvarint(buf, uint64(int64(x)))
	case document.BlockKind:
		buf.WriteByte(tagString)
		writeString(buf, string(x))
	case string:
		buf.WriteByte(tagString)
		writeString(buf, x)
	case []string:
		buf.WriteByte(tagStringSlice)
		writeUvarint(buf, uint64(len(x)))
		for _, s := range x {
			writeString(buf, s)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return nil
}

func readValue(r *bytes.Reader, limits Limits) (interface{}, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNil:
		return nil, nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case tagInt:
		u, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		return int(int64(u)), nil
	case tagString:
		return readString(r, limits)
	case tagStringSlice:
		n, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		out := make([]string, n)
		for i := range out {
			s, err := readString(r, limits)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sync: unknown value tag %d", tag)
	}
}

func encodeOp(buf *bytes.Buffer, op document.Op) error {
	buf.WriteByte(byte(op.Kind))
	writeOpID(buf, op.ID)
	writeOpID(buf, op.BlockID)
	writeOpID(buf, op.OriginLeft)
	writeOpID(buf, op.OriginRight)
	writeOpID(buf, op.Target)
	writeString(buf, op.Key)
	if err := writeValue(buf, op.Value); err != nil {
		return err
	}
	writeString(buf, op.MarkKind.String())
	writeAnchor(buf, op.StartAnchor)
	writeAnchor(buf, op.EndAnchor)
	return nil
}

func decodeOp(r *bytes.Reader, limits Limits) (document.Op, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return document.Op{}, err
	}
	op := document.Op{Kind: document.OpKind(kindByte)}
	if op.ID, err = readOpID(r); err != nil {
		return document.Op{}, err
	}
	if op.BlockID, err = readOpID(r); err != nil {
		return document.Op{}, err
	}
	if op.OriginLeft, err = readOpID(r); err != nil {
		return document.Op{}, err
	}
	if op.OriginRight, err = readOpID(r); err != nil {
		return document.Op{}, err
	}
	if op.Target, err = readOpID(r); err != nil {
		return document.Op{}, err
	}
	if op.Key, err = readString(r, limits); err != nil {
		return document.Op{}, err
	}
	if op.Value, err = readValue(r, limits); err != nil {
		return document.Op{}, err
	}
	// A BlockKind travels as a plain string; restore its type for the op
	// kinds whose Value is a BlockKind.
	switch op.Kind {
	case document.OpCreateBlock, document.OpInsertBlock, document.OpSetBlockKind:
		if s, ok := op.Value.(string); ok {
			op.Value = document.BlockKind(s)
		}
	}
	markTag, err := readString(r, limits)
	if err != nil {
		return document.Op{}, err
	}
	op.MarkKind = crdt.MarkKindFromString(markTag)
	if op.StartAnchor, err = readAnchor(r); err != nil {
		return document.Op{}, err
	}
	if op.EndAnchor, err = readAnchor(r); err != nil {
		return document.Op{}, err
	}
	return op, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}
