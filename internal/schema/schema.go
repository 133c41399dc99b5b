// Package schema resolves the point columns that exist on an annotation
// table and the supervoxel/root columns their materialization writes into,
// the way the source system's annotation schema registry drives
// create_annotation_model/create_segmentation_model.
package schema

import "fmt"

// Model names an aligned-volume table and the schema tag that was used to
// create it.
type Model struct {
	Table string
	Tag   string
}

// Definition describes one schema tag's point columns: the annotation-side
// column storing the point, and the suffix used to derive the matching
// supervoxel_id/root_id column names on the paired segmentation table.
type Definition struct {
	Tag     string
	Columns []PointColumn
}

// PointColumn names one point the schema carries, and the segmentation
// column names derived from it.
type PointColumn struct {
	// Suffix is the annotation table's point column name, e.g. "pt",
	// "pre_pt", "post_pt".
	Suffix string
}

// SupervoxelColumn returns the segmentation table column holding the
// supervoxel id resolved for this point.
func (p PointColumn) SupervoxelColumn() string {
	return p.Suffix + "_supervoxel_id"
}

// RootColumn returns the segmentation table column holding the root id
// resolved for this point.
func (p PointColumn) RootColumn() string {
	return p.Suffix + "_root_id"
}

// PositionColumn returns the annotation table column holding the point
// geometry itself.
func (p PointColumn) PositionColumn() string {
	return p.Suffix + "_position"
}

// Factory resolves schema tags to their point-column definitions.
type Factory struct {
	definitions map[string]Definition
}

// NewFactory returns a Factory seeded with the built-in schema tags.
func NewFactory() *Factory {
	f := &Factory{definitions: make(map[string]Definition)}
	f.Register(Definition{
		Tag: "synapse",
		Columns: []PointColumn{
			{Suffix: "pre_pt"},
			{Suffix: "post_pt"},
		},
	})
	f.Register(Definition{
		Tag: "bound_tag",
		Columns: []PointColumn{
			{Suffix: "pt"},
		},
	})
	return f
}

// Register adds or replaces a schema tag's definition.
func (f *Factory) Register(def Definition) {
	f.definitions[def.Tag] = def
}

// Get returns the definition for tag.
func (f *Factory) Get(tag string) (Definition, error) {
	def, ok := f.definitions[tag]
	if !ok {
		return Definition{}, fmt.Errorf("unknown schema tag %q", tag)
	}
	return def, nil
}

// ColumnsBySuffix splits a definition's point columns into the annotation
// position columns, the segmentation supervoxel columns, and the
// segmentation root columns a materialization run reads and writes,
// preserving point-column order across all three slices.
func ColumnsBySuffix(def Definition) (annCols, svCols, rootCols []string) {
	for _, c := range def.Columns {
		annCols = append(annCols, c.PositionColumn())
		svCols = append(svCols, c.SupervoxelColumn())
		rootCols = append(rootCols, c.RootColumn())
	}
	return
}
