// Package hash provides the CRC32-Castagnoli checksum shared by buffer
// pages, page-store delta blobs and S3 uploads.
//
// Pages store the checksum in their header. Delta blobs carry it as a
// trailer:
//
//	blob := hash.Seal(payload)
//	body, ok := hash.Unseal(blob)
package hash
