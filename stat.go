package vfat

import (
	"os"
	"strings"
	"time"
)

// shortName returns the 8.3 name of the record with the space padding
// stripped from both parts. The dot is only added when an extension exists.
func (h *EntryHeader) shortName() string {
	name := strings.TrimRight(string(h.Name[:8]), " ")
	ext := strings.TrimRight(string(h.Name[8:11]), " ")

	if ext != "" {
		name += "."
	}

	return name + ext
}

// firstCluster combines the split cluster fields into the number of the
// first cluster of the entry.
func (h *EntryHeader) firstCluster() fatEntry {
	return fatEntry(uint32(h.FirstClusterHI)<<16 | uint32(h.FirstClusterLO))
}

// Created returns the creation timestamp of the entry.
func (h *EntryHeader) Created() time.Time {
	return entryTime(h.CreateDate, h.CreateTime)
}

// Accessed returns the last access date of the entry. FAT stores no access
// time, only the date.
func (h *EntryHeader) Accessed() time.Time {
	return entryTime(h.LastAccessDate, 0)
}

// Modified returns the last write timestamp of the entry.
func (h *EntryHeader) Modified() time.Time {
	return entryTime(h.WriteDate, h.WriteTime)
}

// FileInfo returns an os.FileInfo view of the entry. Sys() exposes the raw
// EntryHeader for callers which need the cluster number or the full
// timestamps.
func (h *EntryHeader) FileInfo() os.FileInfo {
	return entryHeaderFileInfo{*h}
}

type entryHeaderFileInfo struct {
	entry EntryHeader
}

func (e entryHeaderFileInfo) Name() string {
	return e.entry.shortName()
}

func (e entryHeaderFileInfo) Size() int64 {
	return int64(e.entry.FileSize)
}

func (e entryHeaderFileInfo) Mode() os.FileMode {
	if e.IsDir() {
		return os.ModeDir
	}
	return 0
}

func (e entryHeaderFileInfo) ModTime() time.Time {
	return e.entry.Modified()
}

func (e entryHeaderFileInfo) IsDir() bool {
	return e.entry.Attribute&AttrDirectory == AttrDirectory
}

func (e entryHeaderFileInfo) Sys() interface{} {
	return e.entry
}

// rootFileInfo is the synthetic stat of the root directory, which has no
// directory record of its own. It reports the mount time.
type rootFileInfo struct {
	modTime time.Time
}

func (r rootFileInfo) Name() string       { return "/" }
func (r rootFileInfo) Size() int64        { return 0 }
func (r rootFileInfo) Mode() os.FileMode  { return os.ModeDir }
func (r rootFileInfo) ModTime() time.Time { return r.modTime }
func (r rootFileInfo) IsDir() bool        { return true }
func (r rootFileInfo) Sys() interface{}   { return nil }
