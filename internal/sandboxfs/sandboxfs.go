// Package sandboxfs mounts a read-only FUSE view over one Action's
// declared input paths, so a sandboxed process can see exactly its
// declared inputs at stable paths without a bind-mount per input.
//
// Grounded on the teacher's internal/fuse/fuse.go, which serves a
// union overlay of squashfs package images through jacobsa/fuse. That
// filesystem is keyed by (image, squashfs inode) pairs resolved lazily
// from on-disk package images; this one is keyed by a static map of
// declared relative path -> host absolute path built once per mount and
// never mutated, since a sandbox's input set is fixed for the action's
// lifetime. The LookUpInode/GetInodeAttributes/ReadDir/ReadFile shapes
// below follow the teacher's method-for-method, simplified to a single
// flat inode table instead of a per-package union reader.
package sandboxfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

const rootInode = fuseops.RootInodeID

// never matches the teacher's rationale: declared inputs don't change
// for the lifetime of one action's sandbox, so entry/attribute caches
// can be told they never expire.
var never = time.Now().Add(365 * 24 * time.Hour)

type node struct {
	name     string
	isDir    bool
	hostPath string // empty for directories
	size     int64
	mode     os.FileMode
	modTime  time.Time
	children map[string]fuseops.InodeID // dir only, name -> child inode
}

// fs implements fuseutil.FileSystem over a static, read-only inode table
// built once at Mount time from the declared input map.
type fs struct {
	fuseutil.NotImplementedFileSystem

	mu     sync.Mutex
	inodes map[fuseops.InodeID]*node
	next   fuseops.InodeID

	readers map[fuseops.InodeID]*os.File
}

// build constructs the inode table from paths (declared relative path ->
// host absolute path), creating intermediate directory nodes as needed.
// Entries are walked in sorted order so ReadDir output is deterministic.
func build(paths map[string]string) (*fs, error) {
	f := &fs{
		inodes:  map[fuseops.InodeID]*node{rootInode: {name: "/", isDir: true, children: map[string]fuseops.InodeID{}}},
		next:    rootInode + 1,
		readers: map[fuseops.InodeID]*os.File{},
	}

	rels := make([]string, 0, len(paths))
	for rel := range paths {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		hostPath := paths[rel]
		fi, err := os.Stat(hostPath)
		if err != nil {
			return nil, fmt.Errorf("sandboxfs: stat declared input %s: %w", rel, err)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("sandboxfs: declared input %s is a directory, not supported", rel)
		}
		if err := f.insert(rel, hostPath, fi); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *fs) insert(rel, hostPath string, fi os.FileInfo) error {
	parts := strings.Split(path.Clean("/"+rel), "/")[1:]
	if len(parts) == 0 {
		return fmt.Errorf("sandboxfs: empty declared input path")
	}

	parent := f.inodes[rootInode]
	parentID := rootInode
	for _, dirName := range parts[:len(parts)-1] {
		childID, ok := parent.children[dirName]
		if !ok {
			childID = f.next
			f.next++
			f.inodes[childID] = &node{name: dirName, isDir: true, children: map[string]fuseops.InodeID{}}
			parent.children[dirName] = childID
		}
		parent = f.inodes[childID]
		parentID = childID
	}
	_ = parentID

	leaf := parts[len(parts)-1]
	id := f.next
	f.next++
	f.inodes[id] = &node{
		name:     leaf,
		hostPath: hostPath,
		size:     fi.Size(),
		mode:     fi.Mode(),
		modTime:  fi.ModTime(),
	}
	parent.children[leaf] = id
	return nil
}

func (f *fs) attrs(n *node) fuseops.InodeAttributes {
	if n.isDir {
		return fuseops.InodeAttributes{
			Nlink: 1,
			Mode:  os.ModeDir | 0555,
			Atime: n.modTime, Mtime: n.modTime, Ctime: n.modTime,
		}
	}
	return fuseops.InodeAttributes{
		Size:  uint64(n.size),
		Nlink: 1,
		Mode:  n.mode.Perm()&^0222 | (n.mode & os.ModeType), // read-only regardless of host mode bits beyond type
		Atime: n.modTime, Mtime: n.modTime, Ctime: n.modTime,
	}
}

func (f *fs) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.IoSize = 65536
	return nil
}

func (f *fs) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, ok := f.inodes[op.Parent]
	if !ok || !parent.isDir {
		return fuse.EIO
	}
	childID, ok := parent.children[op.Name]
	if !ok {
		return fuse.ENOENT
	}
	child := f.inodes[childID]
	op.Entry.Child = childID
	op.Entry.Attributes = f.attrs(child)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (f *fs) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.inodes[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	op.Attributes = f.attrs(n)
	op.AttributesExpiration = never
	return nil
}

func (f *fs) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.inodes[op.Inode]
	if !ok || !n.isDir {
		return fuse.ENOENT
	}
	return nil
}

func (f *fs) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	f.mu.Lock()
	n, ok := f.inodes[op.Inode]
	f.mu.Unlock()
	if !ok || !n.isDir {
		return fuse.EIO
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	var entries []fuseutil.Dirent
	for i, name := range names {
		child := f.inodes[n.children[name]]
		typ := fuseutil.DT_File
		if child.isDir {
			typ = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  n.children[name],
			Name:   name,
			Type:   typ,
		})
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return nil
	}
	for _, e := range entries[op.Offset:] {
		written := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if written == 0 {
			break
		}
		op.BytesRead += written
	}
	return nil
}

func (f *fs) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	f.mu.Lock()
	n, ok := f.inodes[op.Inode]
	f.mu.Unlock()
	if !ok || n.isDir {
		return fuse.ENOENT
	}
	return nil
}

func (f *fs) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	f.mu.Lock()
	n, ok := f.inodes[op.Inode]
	r, cached := f.readers[op.Inode]
	f.mu.Unlock()
	if !ok || n.isDir {
		return fuse.EIO
	}
	if !cached {
		var err error
		r, err = os.Open(n.hostPath)
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.readers[op.Inode] = r
		f.mu.Unlock()
	}
	var err error
	op.BytesRead, err = r.ReadAt(op.Dst, op.Offset)
	if err == io.EOF {
		err = nil
	}
	return err
}

func (f *fs) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.readers {
		r.Close()
	}
}

// Mount serves a read-only view of paths (declared relative path -> host
// absolute path) at mountpoint, returning a cleanup func that unmounts
// and waits for the server to exit. Directories in the path map are not
// supported: every value must be a regular file, since only per-action
// inputs are ever exposed this way.
func Mount(mountpoint string, paths map[string]string) (func() error, error) {
	filesys, err := build(paths)
	if err != nil {
		return nil, err
	}

	server := fuseutil.NewFileSystemServer(filesys)
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:   "sandboxfs",
		ReadOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sandboxfs: mount %s: %w", mountpoint, err)
	}

	cleanup := func() error {
		if err := fuse.Unmount(mountpoint); err != nil {
			return fmt.Errorf("sandboxfs: unmount %s: %w", mountpoint, err)
		}
		return mfs.Join(context.Background())
	}
	return cleanup, nil
}
