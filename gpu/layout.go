package gpu

import (
	"fmt"
	"strings"
)

// Scalar and vector kinds understood by the layout calculator. These are
// the only kinds the particle and uniform structs use.
const (
	KindF32   = "f32"
	KindU32   = "u32"
	KindVec3F = "vec3f"
)

// FieldSpec declares one struct field before layout.
type FieldSpec struct {
	Name string
	Kind string
}

// Field is a laid-out struct field.
type Field struct {
	Name   string
	Kind   string
	Offset uint32
	Size   uint32
}

// BufferLayout is the exact CPU-side description of a GPU struct: field
// offsets, sizes and the array stride, following WGSL structure layout
// rules. It must match the layout the shader declares; Lower verifies that.
type BufferLayout struct {
	Name   string
	Fields []Field
	Stride uint32
}

func fieldSizeAlign(kind string) (size, align uint32, err error) {
	switch kind {
	case KindF32, KindU32:
		return 4, 4, nil
	case KindVec3F:
		return 12, 16, nil
	}
	return 0, 0, fmt.Errorf("unknown field kind %q", kind)
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) / a * a
}

// ComputeLayout lays out specs in declaration order under WGSL alignment
// rules. The result is fully determined by the input; compiling the same
// struct twice yields byte-identical layouts.
func ComputeLayout(name string, specs []FieldSpec) (BufferLayout, error) {
	layout := BufferLayout{Name: name, Fields: make([]Field, 0, len(specs))}
	var cursor, structAlign uint32
	for _, spec := range specs {
		size, align, err := fieldSizeAlign(spec.Kind)
		if err != nil {
			return BufferLayout{}, fmt.Errorf("layout %s/%s: %w", name, spec.Name, err)
		}
		cursor = alignUp(cursor, align)
		layout.Fields = append(layout.Fields, Field{
			Name:   spec.Name,
			Kind:   spec.Kind,
			Offset: cursor,
			Size:   size,
		})
		cursor += size
		if align > structAlign {
			structAlign = align
		}
	}
	if structAlign == 0 {
		return BufferLayout{}, fmt.Errorf("layout %s: no fields", name)
	}
	layout.Stride = alignUp(cursor, structAlign)
	return layout, nil
}

// Offset returns the byte offset of a named field. Field names are fixed at
// compile time, so a miss is a programming fault.
func (l *BufferLayout) Offset(name string) uint32 {
	for _, f := range l.Fields {
		if f.Name == name {
			return f.Offset
		}
	}
	panic(fmt.Sprintf("layout %s: no field %q", l.Name, name))
}

// String renders the layout deterministically, one field per line. Used by
// the determinism tests and for debug logging.
func (l *BufferLayout) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s stride=%d\n", l.Name, l.Stride)
	for _, f := range l.Fields {
		fmt.Fprintf(&b, "  %s %s offset=%d size=%d\n", f.Name, f.Kind, f.Offset, f.Size)
	}
	return b.String()
}

// particleFields is the fixed GPU-resident particle record, in declaration
// order. The trailing pad keeps the stride at a 16-byte multiple explicit.
func particleFields() []FieldSpec {
	return []FieldSpec{
		{Name: "position", Kind: KindVec3F},
		{Name: "velocity", Kind: KindVec3F},
		{Name: "life", Kind: KindF32},
		{Name: "size", Kind: KindF32},
		{Name: "color", Kind: KindVec3F},
		{Name: "_pad", Kind: KindF32},
	}
}

// uniformFields is the per-dispatch uniform block, fully overwritten before
// every dispatch.
func uniformFields() []FieldSpec {
	return []FieldSpec{
		{Name: "dt", Kind: KindF32},
		{Name: "gravity", Kind: KindF32},
		{Name: "particle_count", Kind: KindU32},
		{Name: "emit_count", Kind: KindU32},
		{Name: "emit_position", Kind: KindVec3F},
		{Name: "emit_base", Kind: KindU32},
		{Name: "time", Kind: KindF32},
	}
}
