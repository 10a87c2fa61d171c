package taskman

import (
	"fmt"
	"sync/atomic"
)

// builderSerial hands out a distinct serial to every GraphBuilder so that a
// CellID from one builder is never mistaken for a cell of another.
var builderSerial atomic.Uint32

// CellID identifies a cell within the builder (and graph) that defined it.
// The zero value refers to no cell.
type CellID struct {
	graph uint32
	index int
}

// Valid reports whether id was returned by DefineCell.
func (id CellID) Valid() bool { return id.graph != 0 }

// UseAsProducer returns a use declaring exclusive write access to the cell.
func (id CellID) UseAsProducer() CellUse { return CellUse{Cell: id, Kind: Producer} }

// UseAsConsumer returns a use declaring read access to the cell.
func (id CellID) UseAsConsumer() CellUse { return CellUse{Cell: id, Kind: Consumer} }

func (id CellID) String() string {
	if !id.Valid() {
		return "cell(invalid)"
	}
	return fmt.Sprintf("cell#%d", id.index)
}

// CellRef is a CellID that remembers the type of the value stored in the cell.
type CellRef[T any] struct {
	id CellID
}

// ID returns the untyped identifier.
func (r CellRef[T]) ID() CellID { return r.id }

// UseAsProducer returns a use declaring exclusive write access to the cell.
func (r CellRef[T]) UseAsProducer() CellUse { return r.id.UseAsProducer() }

// UseAsConsumer returns a use declaring read access to the cell.
func (r CellRef[T]) UseAsConsumer() CellUse { return r.id.UseAsConsumer() }

func (r CellRef[T]) String() string {
	var zero T
	return fmt.Sprintf("%s(%T)", r.id, zero)
}

// UseKind is the access mode of a CellUse.
type UseKind uint8

const (
	// Consumer reads the cell after its producer (if any) has finished.
	Consumer UseKind = iota
	// Producer has exclusive write access to the cell.
	Producer
)

func (k UseKind) String() string {
	switch k {
	case Consumer:
		return "consumer"
	case Producer:
		return "producer"
	default:
		return fmt.Sprintf("UseKind(%d)", uint8(k))
	}
}

// CellUse declares that a task accesses a cell in the given mode.
type CellUse struct {
	Cell CellID
	Kind UseKind
}

func (u CellUse) String() string { return u.Cell.String() + ":" + u.Kind.String() }

// cell is the type-erased storage of one cell.
type cell interface {
	typeName() string
}

type cellBox[T any] struct {
	value T
}

func (*cellBox[T]) typeName() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

// DefineCell allocates a cell holding initial and returns a typed reference
// to it. The reference is only meaningful to b and the graph it builds.
func DefineCell[T any](b *GraphBuilder, initial T) CellRef[T] {
	b.mustNotBeBuilt()
	id := CellID{graph: b.serial, index: len(b.cells)}
	b.cells = append(b.cells, &cellBox[T]{value: initial})
	return CellRef[T]{id: id}
}

// lookupCell resolves a typed reference against cells owned by graph serial.
// A foreign reference or a type mismatch is an implementation bug and panics.
func lookupCell[T any](serial uint32, cells []cell, ref CellRef[T]) *cellBox[T] {
	id := ref.id
	if id.graph != serial || id.index < 0 || id.index >= len(cells) {
		panic(fmt.Sprintf("taskman: %s does not belong to this graph", id))
	}
	box, ok := cells[id.index].(*cellBox[T])
	if !ok {
		var zero T
		panic(fmt.Sprintf("taskman: %s holds %s, not %T", id, cells[id.index].typeName(), zero))
	}
	return box
}
