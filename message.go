package main

const (
	MsgIntersection = "The new region overlaps an existing one. Draw it again so that its bounding box does not intersect any defined region."

	MsgInvalidGeometry = "A region needs exactly four corner points enclosing a non-empty area."

	MsgNoRegions = "There are no regions to save. Define at least one region first."

	MsgRegionsFileMissing = "No saved regions were found. Save regions before loading them."

	MsgMalformedRegions = "The saved regions file could not be read. Fix or remove it and save again."

	MsgDetectorUnavailable = "Vehicle detection is not available. Check the model configuration."

	MsgEmptyFrame = "The image has no pixels. Upload a camera frame."

	MsgNoResult = "No frame has been processed yet."
)
