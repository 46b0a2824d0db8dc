// Package row implements the canonical Projected Row byte layout shared by
// storage, execution, and index keys:
//
//	[ size:u32 | num_cols:u16 | col_id[num_cols]:u16 | pad | offset[num_cols]:u32 | null_bitmap | values... ]
//
// Instead of a human-readable "schema.table|col=val,..." debug string, a
// Projected Row packs the same idea — an ordered column-id set plus their
// values — into an aligned, offset-indexed byte buffer that can be read
// back in O(1) per column instead of O(n) string-splitting.
package row

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

const headerFixedSize = 4 + 2 // size:u32 + num_cols:u16

// align rounds up n to the next multiple of a (a must be a power of two).
func align(n, a uint32) uint32 {
	if a == 0 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

// Initializer precomputes offsets from a layout descriptor and a column-id
// set, reorders columns internally for alignment efficiency, and produces
// identical Projected Rows in O(row-size) thereafter.
type Initializer struct {
	cols       []ColumnLayout // in the packed (alignment-sorted) order used for col_id[]/offset[]
	posByCol   map[ColID]int
	offsets    []uint32 // offset[i], parallel to cols
	bitmapOff  uint32
	bitmapLen  uint32
	fixedBytes uint32 // header + bitmap + all fixed-size value slots (varlen area starts here)
}

// NewInitializer builds an Initializer for the given column set. Column IDs
// in cols must be unique; NewInitializer panics
// on a duplicate, since this is a programmer/schema-construction error, not
// a runtime data error.
func NewInitializer(cols []ColumnLayout) *Initializer {
	packed := make([]ColumnLayout, len(cols))
	copy(packed, cols)
	// Sort by descending alignment (ties broken by ColID) to minimize
	// padding.
	sort.SliceStable(packed, func(i, j int) bool {
		ai, aj := packed[i].Kind.AlignOf(), packed[j].Kind.AlignOf()
		if ai != aj {
			return ai > aj
		}
		return packed[i].ColumnID < packed[j].ColumnID
	})

	posByCol := make(map[ColID]int, len(packed))
	for i, c := range packed {
		if _, dup := posByCol[c.ColumnID]; dup {
			panic(fmt.Sprintf("row: duplicate column id %d in projection", c.ColumnID))
		}
		posByCol[c.ColumnID] = i
	}

	n := uint32(len(packed))
	colIDArea := 2 * n
	headerBeforePad := headerFixedSize + colIDArea
	offsetAreaStart := align(headerBeforePad, 4)
	offsetArea := 4 * n
	bitmapOff := offsetAreaStart + offsetArea
	bitmapLen := (n + 7) / 8

	cursor := bitmapOff + bitmapLen
	offsets := make([]uint32, n)
	for i, c := range packed {
		cursor = align(cursor, c.Kind.AlignOf())
		offsets[i] = cursor
		cursor += c.Kind.SizeOf()
	}

	return &Initializer{
		cols:       packed,
		posByCol:   posByCol,
		offsets:    offsets,
		bitmapOff:  bitmapOff,
		bitmapLen:  bitmapLen,
		fixedBytes: cursor,
	}
}

// NumColumns returns the number of columns in the projection.
func (init *Initializer) NumColumns() int { return len(init.cols) }

// Columns returns the packed column order used for col_id[]/offset[].
func (init *Initializer) Columns() []ColumnLayout {
	out := make([]ColumnLayout, len(init.cols))
	copy(out, init.cols)
	return out
}

// Builder accumulates values for a single Projected Row before Finish
// serializes it. Varlen payloads are appended in Set call order.
type Builder struct {
	init    *Initializer
	fixed   []byte // fixedBytes-sized scratch, pre-zeroed
	present []bool // true = present (matches the 1=present bitmap convention)
	varlen  []byte // appended varlen payloads
}

// NewBuilder starts building a row for the given initializer. Every column
// starts out null; Set must be called to populate a value.
func NewBuilder(init *Initializer) *Builder {
	return &Builder{
		init:    init,
		fixed:   make([]byte, init.fixedBytes),
		present: make([]bool, len(init.cols)),
	}
}

func (b *Builder) posOf(col ColID) int {
	p, ok := b.init.posByCol[col]
	if !ok {
		panic(fmt.Sprintf("row: column %d not in projection", col))
	}
	return p
}

// SetNull marks col as SQL NULL.
func (b *Builder) SetNull(col ColID) {
	b.present[b.posOf(col)] = false
}

// SetBool writes a bool value for col.
func (b *Builder) SetBool(col ColID, v bool) {
	p := b.mustKind(col, KindBool)
	if v {
		b.fixed[b.init.offsets[p]] = 1
	} else {
		b.fixed[b.init.offsets[p]] = 0
	}
}

// SetInt2 writes an int16 value for col.
func (b *Builder) SetInt2(col ColID, v int16) {
	p := b.mustKind(col, KindInt2)
	binary.LittleEndian.PutUint16(b.fixed[b.init.offsets[p]:], uint16(v))
}

// SetInt4 writes an int32 value for col.
func (b *Builder) SetInt4(col ColID, v int32) {
	p := b.mustKind(col, KindInt4)
	binary.LittleEndian.PutUint32(b.fixed[b.init.offsets[p]:], uint32(v))
}

// SetInt8 writes an int64 value for col.
func (b *Builder) SetInt8(col ColID, v int64) {
	p := b.mustKind(col, KindInt8)
	binary.LittleEndian.PutUint64(b.fixed[b.init.offsets[p]:], uint64(v))
}

// SetFloat4 writes a float32 value for col.
func (b *Builder) SetFloat4(col ColID, v float32) {
	p := b.mustKind(col, KindFloat4)
	binary.LittleEndian.PutUint32(b.fixed[b.init.offsets[p]:], math.Float32bits(v))
}

// SetFloat8 writes a float64 value for col.
func (b *Builder) SetFloat8(col ColID, v float64) {
	p := b.mustKind(col, KindFloat8)
	binary.LittleEndian.PutUint64(b.fixed[b.init.offsets[p]:], math.Float64bits(v))
}

// SetVarlen writes a variable-length value (varchar/text) for col.
func (b *Builder) SetVarlen(col ColID, v []byte) {
	p := b.mustKind(col, KindVarlen)
	start := b.init.fixedBytes + uint32(len(b.varlen))
	b.varlen = append(b.varlen, v...)
	off := b.init.offsets[p]
	binary.LittleEndian.PutUint32(b.fixed[off:], start)
	binary.LittleEndian.PutUint32(b.fixed[off+4:], uint32(len(v)))
}

func (b *Builder) mustKind(col ColID, want ValueKind) int {
	p := b.posOf(col)
	if b.init.cols[p].Kind != want {
		panic(fmt.Sprintf("row: column %d has kind %v, not %v", col, b.init.cols[p].Kind, want))
	}
	b.present[p] = true
	return p
}

// Finish serializes the accumulated values into a packed Projected Row.
func (b *Builder) Finish() Row {
	n := uint32(len(b.init.cols))
	total := b.init.fixedBytes + uint32(len(b.varlen))

	buf := make([]byte, total)
	copy(buf[:b.init.fixedBytes], b.fixed)
	copy(buf[b.init.fixedBytes:], b.varlen)

	binary.LittleEndian.PutUint32(buf[0:], total)
	binary.LittleEndian.PutUint16(buf[4:], uint16(n))

	colIDBase := headerFixedSize
	for i, c := range b.init.cols {
		binary.LittleEndian.PutUint16(buf[colIDBase+2*i:], uint16(c.ColumnID))
	}

	offBase := align(uint32(colIDBase)+2*n, 4)
	for i, off := range b.init.offsets {
		binary.LittleEndian.PutUint32(buf[offBase+4*uint32(i):], off)
	}

	for i := range b.init.cols {
		if b.present[i] {
			buf[b.init.bitmapOff+uint32(i)/8] |= 1 << (uint(i) % 8)
		}
	}

	return Row(buf)
}

// Row is a packed Projected Row image. It is
// self-describing: Decode parses a Row back into an Initializer-compatible
// view without needing the original Initializer, since col_id[] and
// offset[] are carried inline.
type Row []byte

// Size returns the row's total byte length, as stored in its header.
func (r Row) Size() uint32 { return binary.LittleEndian.Uint32(r[0:]) }

// NumColumns returns the column count stored in the row's header.
func (r Row) NumColumns() int { return int(binary.LittleEndian.Uint16(r[4:])) }

func (r Row) colIDAt(i int) ColID {
	return ColID(binary.LittleEndian.Uint16(r[headerFixedSize+2*i:]))
}

func (r Row) offsetAt(i int) uint32 {
	n := uint32(r.NumColumns())
	base := align(uint32(headerFixedSize)+2*n, 4)
	return binary.LittleEndian.Uint32(r[base+4*uint32(i):])
}

func (r Row) bitmapOffset() uint32 {
	n := uint32(r.NumColumns())
	base := align(uint32(headerFixedSize)+2*n, 4)
	return base + 4*n
}

// find returns the packed position of col, or -1 if col is not projected
// in this row.
func (r Row) find(col ColID) int {
	n := r.NumColumns()
	for i := 0; i < n; i++ {
		if r.colIDAt(i) == col {
			return i
		}
	}
	return -1
}

// IsNull reports whether col is present (false) or SQL NULL (true) in this
// row. The bitmap uses 1 = present, 0 = null.
func (r Row) IsNull(col ColID) bool {
	i := r.find(col)
	if i < 0 {
		return true
	}
	byteOff := r.bitmapOffset() + uint32(i)/8
	bit := byte(1) << (uint(i) % 8)
	return r[byteOff]&bit == 0
}

// GetInt4 reads an int32 column value. Callers must know the column's kind
// out of band (from the schema); this mirrors how storage layers read
// fixed-width columns without re-deriving the type from the row itself.
func (r Row) GetInt4(col ColID) (int32, bool) {
	i := r.find(col)
	if i < 0 || r.IsNull(col) {
		return 0, false
	}
	off := r.offsetAt(i)
	return int32(binary.LittleEndian.Uint32(r[off:])), true
}

// GetInt8 reads an int64 column value.
func (r Row) GetInt8(col ColID) (int64, bool) {
	i := r.find(col)
	if i < 0 || r.IsNull(col) {
		return 0, false
	}
	off := r.offsetAt(i)
	return int64(binary.LittleEndian.Uint64(r[off:])), true
}

// GetBool reads a bool column value.
func (r Row) GetBool(col ColID) (bool, bool) {
	i := r.find(col)
	if i < 0 || r.IsNull(col) {
		return false, false
	}
	off := r.offsetAt(i)
	return r[off] != 0, true
}

// GetFloat8 reads a float64 column value.
func (r Row) GetFloat8(col ColID) (float64, bool) {
	i := r.find(col)
	if i < 0 || r.IsNull(col) {
		return 0, false
	}
	off := r.offsetAt(i)
	return math.Float64frombits(binary.LittleEndian.Uint64(r[off:])), true
}

// GetVarlen reads a varchar/text column value.
func (r Row) GetVarlen(col ColID) ([]byte, bool) {
	i := r.find(col)
	if i < 0 || r.IsNull(col) {
		return nil, false
	}
	off := r.offsetAt(i)
	start := binary.LittleEndian.Uint32(r[off:])
	length := binary.LittleEndian.Uint32(r[off+4:])
	return r[start : start+length], true
}
