package model

import "time"

// AnnotationRow is one row read from an annotation table's point columns, keyed
// by the table's primary id. PointColumn names the schema-defined suffix
// ("pt", "pre_pt", "post_pt", ...) the point was read from, since a single
// annotation row can carry more than one point column (e.g. synapse
// pre_pt/post_pt pairs) and each is materialized independently.
type AnnotationRow struct {
	ID          int64
	PointColumn string
	Point       Point3D
}

// SegmentationRow is one row to upsert into a segmentation table: the
// supervoxel id and resolved root id for a single annotation point column.
type SegmentationRow struct {
	ID             int64
	PointColumn    string
	SupervoxelID   uint64
	RootID         uint64
	MissingRootID  bool
}

// MaterializationInfo describes one materialization run: the aligned
// database/table pair being populated, its bounding box, and the chunking
// geometry derived from the segmentation volume backing it.
type MaterializationInfo struct {
	Database          string
	AnnotationTable   string
	SegmentationTable string
	SchemaTag         string
	Bounds            BoundingBox
	ChunkSize         [3]int64
	// CoordResolution is the voxel resolution (nm/voxel) the annotation
	// table's points are stored in, used to rescale points into the
	// segmentation volume's native resolution before supervoxel lookup.
	CoordResolution Point3D
	Timestamp       time.Time
}
