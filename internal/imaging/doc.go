// Package imaging prepares local files for upload to the analysis service.
//
// Every tool that references a local file goes through this package before
// any network call is made:
//
//   - Resolve turns the argument into an absolute path and fails fast when the
//     file is missing or is a directory. The error names the resolved path.
//   - Inspector.Inspect reads image metadata with image.DecodeConfig, without
//     decoding pixels. Results are cached by path, size and modification time.
//   - Inspector.Open returns the body to upload. Images larger than the
//     configured edge are downscaled with disintegration/imaging; everything
//     else, including files no decoder recognizes, is streamed unchanged.
//
// # Thread Safety
//
// Inspector is safe for concurrent use. Upload values are not; each one
// belongs to a single request.
package imaging
