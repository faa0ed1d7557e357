// Package client is the outbound HTTP client for the image analysis service.
//
// One method exists per remote operation. File uploads resolve the local path
// first and fail without contacting the service when the file is missing.
// Non-2xx answers become *RemoteError values carrying the status and body.
package client
