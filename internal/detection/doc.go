// Package detection locates near-white rectangular zones on a rasterized page.
//
// A zone is a place on a document template where a QR code can be stamped
// without covering printed content. Detection works on a single page raster
// and reports candidate rectangles in the page's physical coordinate system
// (PDF points).
//
// # Algorithm Overview
//
//  1. Masking: every pixel whose brightness is strictly greater than the
//     white threshold is marked true (see [NewMask] and [MaskFromImage]).
//  2. Labelling: 4-connected components of true pixels are found with an
//     iterative stack flood fill. Each cell is pushed at most once, so every
//     pixel belongs to at most one component.
//  3. Filtering: a component is kept when its bounding-box area divided by the
//     grid area lies in [MinAreaRatio, MaxAreaRatio] and its width/height
//     aspect lies in [MinAspect, MaxAspect].
//  4. Ordering: kept zones are sorted by bounding-box area, largest first.
//     Equal areas keep the scan order of their seed pixels.
//  5. Scaling: pixel boxes are converted to points with independent X and Y
//     factors (pageWidth/gridWidth, pageHeight/gridHeight).
//
// # Coordinate System
//
// Pixel bounds are inclusive on both ends: a component covering a single pixel
// at (3,4) has Bounds{X1: 3, Y1: 4, X2: 3, Y2: 4} and a width of 1. Physical
// rectangles use a top-left origin with Y increasing downward, matching the
// PDF writer used for stamping, and are half-open: X1 = (Bounds.X2+1)*scaleX.
//
// # Limitations
//
// Only axis-aligned bounding boxes are reported. A white region shaped like an
// "L" yields its full bounding box, which may overlap printed content; the
// aspect filter and placement margins reduce but do not remove this risk.
package detection
