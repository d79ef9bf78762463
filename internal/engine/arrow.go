package engine

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// GridSchema is the Arrow layout of DenseGrid.Cells.
var GridSchema = arrow.NewSchema([]arrow.Field{
	{Name: "category", Type: arrow.BinaryTypes.String},
	{Name: "year", Type: arrow.PrimitiveTypes.Int32},
	{Name: "count", Type: arrow.PrimitiveTypes.Float64},
	{Name: "smoothed", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

// GridRecord builds one Arrow record from the grid. The caller releases it.
func GridRecord(g *DenseGrid, mem memory.Allocator) arrow.Record {
	b := array.NewRecordBuilder(mem, GridSchema)
	defer b.Release()

	cats := b.Field(0).(*array.StringBuilder)
	years := b.Field(1).(*array.Int32Builder)
	counts := b.Field(2).(*array.Float64Builder)
	smoothed := b.Field(3).(*array.Float64Builder)

	for _, c := range g.Cells() {
		cats.Append(c.Category)
		years.Append(int32(c.Year))
		counts.Append(c.Count)
		if c.Smoothed != nil {
			smoothed.Append(*c.Smoothed)
		} else {
			smoothed.AppendNull()
		}
	}
	return b.NewRecord()
}

// WriteArrow streams the grid to w in Arrow IPC stream format.
func WriteArrow(w io.Writer, g *DenseGrid, mem memory.Allocator) error {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	rec := GridRecord(g, mem)
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(GridSchema), ipc.WithAllocator(mem))
	if err := iw.Write(rec); err != nil {
		iw.Close()
		return fmt.Errorf("arrow: write grid: %w", err)
	}
	return iw.Close()
}
