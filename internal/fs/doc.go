// Package fs abstracts the file system operations of the local blob store
// so tests can inject failures.
//
//   - [OS]: the os package
//   - [FaultyFS]: wraps another FileSystem and fails writes, syncs, closes
//     or renames of matching files
//
// Production code uses fs.Default:
//
//	f, err := fs.Default.CreateTemp(dir, ".tmp-"+name+"-*")
//
// Tests inject a FaultyFS:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".sst", fs.Fault{FailWrites: true, WriteLimit: 1024})
//	store := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
//
// Operations take no context.Context; local file system calls cannot be
// interrupted at the syscall level.
package fs
