// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: open, remove, rename, mkdir and readdir
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: wraps a FileSystem and injects write, sync, close and
//     rename failures for crash tests
//
// Tests inject a FaultyFS into blobstore.LocalStore to simulate a crash
// between writing a commit blob and publishing the commit pointer:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("CURRENT", fs.Fault{FailOnRename: true})
//	store := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
package fs
