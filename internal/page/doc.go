// Package page defines the on-disk layout of vecbuf pages.
//
// Every page is a fixed-size image with a 16-byte header:
//
//	[0:2]  magic "VB"
//	[2]    kind (static meta, buffer meta, buffer page)
//	[3]    format version
//	[4:8]  CRC32C of bytes [8:pageSize]
//	[8:16] reserved
//
// Page 0 holds the static metadata, page 1 the buffer metadata, and the
// buffer log starts at page 2. Buffer pages carry a forward link, a link to
// the previous checkpoint page, an embedded checkpoint, and a densely packed
// array of 8-byte tuple ids.
package page
