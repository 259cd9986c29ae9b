// This package composes the user-facing summary of a single MFT record:
// its best name, reconstructed full path, directory/size/time metadata.

package ntfs

import (
	"path/filepath"
	"time"
)

// maxPathDepth bounds the parent walk in computePath. The original this
// package is modeled on has no such bound and would spin forever on a
// corrupted or maliciously cyclic parent chain; spec-mandated protection.
const maxPathDepth = 4096

// FileInfo is the composed, user-facing view of one MFT record.
type FileInfo struct {
	Name        string
	Path        string
	IsDirectory bool
	Size        uint64
	Created     time.Time
	Accessed    time.Time
	Modified    time.Time
}

// mftForFileInfo is the subset of *Mft that NewFileInfo needs.
type mftForFileInfo interface {
	recordGetter
	VolumePath() string
}

// NewFileInfo composes a FileInfo for `record`. `cache`, if non-nil, is
// consulted to shortcut the parent walk and is populated with every
// intermediate path resolved along the way. If the record's name or any
// ancestor cannot be resolved, Path is left empty — by design, not as an
// error (see design notes). Name is empty only when the record itself has
// no usable file name; it is still set when an ancestor fails to resolve.
func NewFileInfo(mft mftForFileInfo, record *Record, cache PathCache) *FileInfo {
	info := &FileInfo{}

	var created, accessed, modified *time.Time

	record.Attributes(func(attr *Attribute) {
		if attr.Header.TypeID == uint32(AttributeStandardInformation) {
			if stdInfo, ok := attr.AsStandardInformation(); ok {
				c := NtfsToUnixTime(stdInfo.CreationTime)
				a := NtfsToUnixTime(stdInfo.AccessTime)
				m := NtfsToUnixTime(stdInfo.ModificationTime)
				created, accessed, modified = &c, &a, &m
			}
		}

		if attr.Header.TypeID == uint32(AttributeData) {
			if attr.Header.IsNonResident == 0 {
				if rh, ok := attr.ResidentHeader(); ok {
					info.Size = uint64(rh.ValueLength)
				}
			} else if nrh, ok := attr.NonResidentHeader(); ok {
				info.Size = nrh.DataSize
			}
		}
	})

	if created != nil {
		info.Created = *created
	}
	if accessed != nil {
		info.Accessed = *accessed
	}
	if modified != nil {
		info.Modified = *modified
	}

	info.IsDirectory = record.IsDirectory()

	info.computePath(mft, record, cache)

	return info
}

func (info *FileInfo) computePath(mft mftForFileInfo, record *Record, cache PathCache) {
	name := record.GetBestFileName(mft)
	if name == nil {
		return
	}

	info.Name = name.Name
	nextParent := name.Parent()

	type component struct {
		number uint64
		name   string
	}

	var components []component
	var cachedPath string
	haveCachedPath := false

	for depth := 0; nextParent != RootRecord; depth++ {
		if depth >= maxPathDepth {
			return
		}

		if cache != nil {
			if path, found := cache.Lookup(nextParent); found {
				cachedPath = path
				haveCachedPath = true
				break
			}
		}

		parentRecord, err := mft.GetRecord(nextParent)
		if err != nil {
			return
		}

		parentName := parentRecord.GetBestFileName(mft)
		if parentName == nil {
			return
		}

		components = append(components, component{number: parentRecord.Number, name: parentName.Name})
		nextParent = parentName.Parent()
	}

	path := mft.VolumePath()
	if haveCachedPath {
		path = cachedPath
	}

	for i := len(components) - 1; i >= 0; i-- {
		path = filepath.Join(path, components[i].name)
		if cache != nil {
			cache.Insert(components[i].number, path)
		}
	}

	path = filepath.Join(path, info.Name)
	if cache != nil {
		cache.Insert(record.Number, path)
	}

	info.Path = path
}
