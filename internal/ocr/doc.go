// Package ocr locates printed words on a page raster using Tesseract.
//
// Word boxes are used to reject candidate QR zones that are blank only at
// the white threshold but still carry faint or thin text, such as form
// labels printed in light gray.
//
// # Prerequisites
//
// Tesseract and its language data must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// The package builds without CGO as well; in that case every call returns
// ErrUnavailable and text filtering is skipped by callers.
//
// # Confidence
//
// Tesseract reports a confidence between 0 and 100 for each word. Words
// below Locator.MinConfidence (0.0 to 1.0) are dropped, which keeps
// speckle and table rules from being read as text.
package ocr
