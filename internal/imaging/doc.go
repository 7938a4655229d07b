// Package imaging provides the raster operations used to analyse and preview
// document templates.
//
// This package turns page rasters into brightness planes, smooths them before
// thresholding, caches rasterized templates, crops candidate zones and draws
// zone overlays for the browser preview. All operations work with standard Go
// image.Image types and use a coordinate system where (0,0) is at the top-left
// corner, X increases rightward, and Y increases downward.
//
// # Brightness Modes
//
// A template pixel is "white" when its brightness exceeds a threshold. Three
// brightness measures are available:
//   - mean: (R+G+B)/3 on 8-bit components. This is the default.
//   - luma: weighted grayscale computed by bild's effect.Grayscale.
//   - lightness: CIE L* from go-colorful, rescaled from 0-1 to 0-255.
//
// All modes produce values in the 0-255 range so the same threshold applies.
//
// # Thread Safety
//
// TemplateCache is safe for concurrent use. The remaining functions are
// stateless and never modify their input images.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Empty images
//   - Crop regions outside the image bounds
//   - Unknown brightness modes or malformed hex colors
//   - Encoding errors during image output
package imaging
