package row

import "testing"

func testLayout() []ColumnLayout {
	return []ColumnLayout{
		{ColumnID: 1, Kind: KindInt4},
		{ColumnID: 2, Kind: KindVarlen},
		{ColumnID: 3, Kind: KindBool},
		{ColumnID: 4, Kind: KindInt8},
	}
}

func TestRoundTrip(t *testing.T) {
	init := NewInitializer(testLayout())

	b := NewBuilder(init)
	b.SetInt4(1, 42)
	b.SetVarlen(2, []byte("hello"))
	b.SetBool(3, true)
	b.SetInt8(4, -9000)

	r := b.Finish()

	if v, ok := r.GetInt4(1); !ok || v != 42 {
		t.Fatalf("col 1: got %d, %v", v, ok)
	}
	if v, ok := r.GetVarlen(2); !ok || string(v) != "hello" {
		t.Fatalf("col 2: got %q, %v", v, ok)
	}
	if v, ok := r.GetBool(3); !ok || v != true {
		t.Fatalf("col 3: got %v, %v", v, ok)
	}
	if v, ok := r.GetInt8(4); !ok || v != -9000 {
		t.Fatalf("col 4: got %d, %v", v, ok)
	}
	if int(r.Size()) != len(r) {
		t.Fatalf("size header %d does not match actual length %d", r.Size(), len(r))
	}
}

func TestRoundTripAnyOrder(t *testing.T) {
	init := NewInitializer(testLayout())

	b := NewBuilder(init)
	// Write in a different order than declared.
	b.SetInt8(4, 7)
	b.SetBool(3, false)
	b.SetVarlen(2, []byte("z"))
	b.SetInt4(1, -1)
	r := b.Finish()

	if v, _ := r.GetInt4(1); v != -1 {
		t.Fatalf("col1 = %d", v)
	}
	if v, _ := r.GetInt8(4); v != 7 {
		t.Fatalf("col4 = %d", v)
	}
}

func TestNullPreserved(t *testing.T) {
	init := NewInitializer(testLayout())
	b := NewBuilder(init)
	b.SetInt4(1, 5)
	// Column 2, 3, 4 left null.
	r := b.Finish()

	if !r.IsNull(2) || !r.IsNull(3) || !r.IsNull(4) {
		t.Fatal("expected columns 2,3,4 to be null")
	}
	if r.IsNull(1) {
		t.Fatal("expected column 1 to be present")
	}
	if _, ok := r.GetVarlen(2); ok {
		t.Fatal("expected GetVarlen on null column to report absent")
	}
}

func TestOffsetsAligned(t *testing.T) {
	init := NewInitializer(testLayout())
	for _, c := range init.Columns() {
		pos := init.posByCol[c.ColumnID]
		off := init.offsets[pos]
		a := c.Kind.AlignOf()
		if off%a != 0 {
			t.Fatalf("column %d offset %d not aligned to %d", c.ColumnID, off, a)
		}
	}
}

func TestMinimumSize(t *testing.T) {
	init := NewInitializer(testLayout())
	b := NewBuilder(init)
	b.SetInt4(1, 1)
	b.SetVarlen(2, nil)
	b.SetBool(3, true)
	b.SetInt8(4, 1)
	r := b.Finish()

	var sumAlignSize uint32
	for _, c := range testLayout() {
		sumAlignSize += c.Kind.SizeOf()
	}
	bitmapBytes := uint32((len(testLayout()) + 7) / 8)
	headerMin := uint32(headerFixedSize) + 2*uint32(len(testLayout()))
	minSize := headerMin + 4*uint32(len(testLayout())) + bitmapBytes + sumAlignSize
	if r.Size() < minSize {
		t.Fatalf("row size %d smaller than computed minimum %d", r.Size(), minSize)
	}
}

func TestDuplicateColumnIDPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate column id")
		}
	}()
	NewInitializer([]ColumnLayout{
		{ColumnID: 1, Kind: KindInt4},
		{ColumnID: 1, Kind: KindBool},
	})
}
