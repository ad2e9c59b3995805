// Package common - result types and status codes shared by every stage of an impulse.
package common

import (
	"fmt"
	"image"
)

// BoundingBox is a single detection in input-image pixel coordinates.
//
// A Value of exactly 0 marks an unused slot; padded result lists are filled
// with such boxes.
type BoundingBox struct {
	Label   string  `json:"label" yaml:"label"`
	ClassID int     `json:"class_id" yaml:"class_id"`
	X       uint32  `json:"x" yaml:"x"`
	Y       uint32  `json:"y" yaml:"y"`
	Width   uint32  `json:"width" yaml:"width"`
	Height  uint32  `json:"height" yaml:"height"`
	Value   float32 `json:"value" yaml:"value"`
}

// String formats the bounding box information for display.
//
// Returns:
//   - A formatted string containing label, confidence, and geometry.
//
// @example
// box := BoundingBox{Label: "person", Value: 0.95, X: 10, Y: 20, Width: 30, Height: 40}
// fmt.Println(box.String()) // person (0.950000) [ x: 10, y: 20, width: 30, height: 40 ]
func (b *BoundingBox) String() string {
	return fmt.Sprintf("%s (%f) [ x: %d, y: %d, width: %d, height: %d ]",
		b.Label, b.Value, b.X, b.Y, b.Width, b.Height)
}

// Found reports whether the slot holds a detection.
func (b *BoundingBox) Found() bool {
	return b.Value > 0
}

// ToRect converts the bounding box to an image.Rectangle.
//
// Returns:
//   - An image.Rectangle spanning [X, X+Width) x [Y, Y+Height).
func (b *BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.Width), int(b.Y+b.Height))
}

// Intersection calculates the intersection area between two bounding boxes.
//
// Arguments:
//   - other: The other bounding box to calculate intersection with.
//
// Returns:
//   - The area of intersection in pixels as float32.
//
// @example
// box1 := BoundingBox{X: 0, Y: 0, Width: 100, Height: 100}
// box2 := BoundingBox{X: 50, Y: 50, Width: 100, Height: 100}
// area := box1.Intersection(&box2) // Returns 2500.0 (50x50 overlap)
func (b *BoundingBox) Intersection(other *BoundingBox) float32 {
	intersected := b.ToRect().Intersect(other.ToRect()).Size()
	return float32(intersected.X * intersected.Y)
}

// IoU calculates the Intersection over Union between two bounding boxes.
//
// Degenerate boxes (zero area) have an IoU of 0 with everything.
//
// Arguments:
//   - other: The other bounding box to calculate IoU with.
//
// Returns:
//   - The IoU value between 0 and 1.
func (b *BoundingBox) IoU(other *BoundingBox) float32 {
	areaA := float32(b.Width) * float32(b.Height)
	areaB := float32(other.Width) * float32(other.Height)
	if areaA <= 0 || areaB <= 0 {
		return 0
	}
	inter := b.Intersection(other)
	return inter / (areaA + areaB - inter)
}
