package vfat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aligator/checkpoint"
	"github.com/spf13/afero"
)

// FATType describes the FAT variant of a volume. Only FAT32 is supported,
// volumes with fewer clusters than the FAT32 minimum are rejected.
type FATType uint8

const FAT32 FATType = 32

const (
	bootSectorSize     = 512
	directoryEntrySize = 32

	// firstDataCluster is the number of the first cluster in the data
	// region. FAT entries 0 and 1 are reserved.
	firstDataCluster = 2

	// minClusterCount is the FAT32 minimum. A volume with fewer clusters is
	// FAT12 or FAT16 by definition.
	minClusterCount = 65525

	maxClusterSize = 32 * 1024

	// eofThreshold is the smallest FAT entry value marking end-of-chain.
	eofThreshold = 0x0FFFFFF8
)

// These errors may occur while opening or reading a volume.
var (
	ErrInvalidBootSector = errors.New("invalid FAT32 boot sector")
	ErrReadVolume        = errors.New("could not read from the volume")
	ErrCorruptedChain    = errors.New("corrupted FAT chain")
	ErrResolvePath       = errors.New("could not resolve the path")
	ErrReadOnly          = errors.New("the filesystem is read-only")
)

// fatEntry is one 32 bit FAT entry. The upper 4 bits are reserved and masked
// off by Value.
type fatEntry uint32

func (e fatEntry) Value() uint32 {
	return uint32(e) & 0x0FFFFFFF
}

func (e fatEntry) IsFree() bool {
	return e.Value() == 0
}

func (e fatEntry) IsReservedTemp() bool {
	return e.Value() == 1
}

func (e fatEntry) IsNextCluster() bool {
	v := e.Value()
	return v >= firstDataCluster && v <= 0x0FFFFFEF
}

func (e fatEntry) IsReservedSometimes() bool {
	v := e.Value()
	return v >= 0x0FFFFFF0 && v <= 0x0FFFFFF5
}

func (e fatEntry) IsReserved() bool {
	return e.Value() == 0x0FFFFFF6
}

func (e fatEntry) IsBad() bool {
	return e.Value() == 0x0FFFFFF7
}

func (e fatEntry) IsEOF() bool {
	return e.Value() >= eofThreshold
}

// ReadAsNextCluster reports whether a chain walk continues through this
// entry. Everything from the first data cluster up to the end-of-chain
// threshold links to a next cluster.
func (e fatEntry) ReadAsNextCluster() bool {
	v := e.Value()
	return v >= firstDataCluster && v < eofThreshold
}

// ReadAsEOF reports whether a chain walk terminates at this entry.
func (e fatEntry) ReadAsEOF() bool {
	return e.Value() >= eofThreshold
}

// Info contains the general information about an opened volume.
type Info struct {
	Label             string
	SectorSize        uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	SectorsPerFAT     uint32
	TotalSectors      uint32
	RootCluster       fatEntry
}

// Geometry holds the byte offsets and sizes derived from a boot sector. It
// is computed once at mount time and never changes afterwards.
type Geometry struct {
	FATOffset   int64
	FATSize     int64
	DataOffset  int64
	ClusterSize int64
}

// newGeometry derives the region layout from a boot sector. Pure arithmetic,
// no I/O.
func newGeometry(boot BootSector) Geometry {
	sectorSize := int64(boot.BytesPerSector)
	fatSectors := int64(boot.SectorsPerFAT32) * int64(boot.NumFATs)

	return Geometry{
		FATOffset:   int64(boot.ReservedSectors) * sectorSize,
		FATSize:     int64(boot.SectorsPerFAT32) * sectorSize,
		DataOffset:  (int64(boot.ReservedSectors) + fatSectors) * sectorSize,
		ClusterSize: int64(boot.SectorsPerCluster) * sectorSize,
	}
}

// clusterOffset maps a data cluster number to its byte offset on the device.
func (g Geometry) clusterOffset(cluster fatEntry) int64 {
	return g.DataOffset + int64(cluster.Value()-firstDataCluster)*g.ClusterSize
}

// validate runs all FAT32 sanity checks on the boot sector. Any failure
// means the volume geometry cannot be trusted and mounting has to abort.
func (b BootSector) validate() error {
	switch b.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return checkpoint.Wrap(fmt.Errorf("unsupported sector size %d", b.BytesPerSector), ErrInvalidBootSector)
	}

	switch b.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return checkpoint.Wrap(fmt.Errorf("unsupported sectors per cluster %d", b.SectorsPerCluster), ErrInvalidBootSector)
	}

	if uint32(b.BytesPerSector)*uint32(b.SectorsPerCluster) >= maxClusterSize {
		return checkpoint.Wrap(fmt.Errorf("cluster size %d exceeds the maximum", uint32(b.BytesPerSector)*uint32(b.SectorsPerCluster)), ErrInvalidBootSector)
	}

	if b.NumFATs != 2 {
		return checkpoint.Wrap(fmt.Errorf("expected exactly 2 FAT copies, got %d", b.NumFATs), ErrInvalidBootSector)
	}

	// On FAT32 all legacy FAT12/16 fields have to be zero.
	if b.RootEntryCount != 0 || b.TotalSectors16 != 0 || b.SectorsPerFAT16 != 0 {
		return checkpoint.Wrap(errors.New("legacy FAT12/16 fields are not zero"), ErrInvalidBootSector)
	}

	if b.FSVersion != 0 {
		return checkpoint.Wrap(fmt.Errorf("unsupported FAT32 version %d", b.FSVersion), ErrInvalidBootSector)
	}

	if b.Signature != 0xAA55 {
		return checkpoint.Wrap(fmt.Errorf("wrong boot signature 0x%04X", b.Signature), ErrInvalidBootSector)
	}

	if b.Reserved != [12]byte{} {
		return checkpoint.Wrap(errors.New("reserved region is not zero"), ErrInvalidBootSector)
	}

	metaSectors := uint32(b.ReservedSectors) + b.SectorsPerFAT32*uint32(b.NumFATs)
	if b.TotalSectors32 <= metaSectors {
		return checkpoint.Wrap(errors.New("no room for a data region"), ErrInvalidBootSector)
	}

	clusterCount := (b.TotalSectors32 - metaSectors) / uint32(b.SectorsPerCluster)
	if clusterCount < minClusterCount {
		return checkpoint.Wrap(fmt.Errorf("cluster count %d is below the FAT32 minimum", clusterCount), ErrInvalidBootSector)
	}

	return nil
}

// Fs is one mounted FAT32 volume. It owns the backing reader, the derived
// geometry and the in-memory copy of the FAT, all loaded once at mount time.
// The FAT is immutable after the load, device access is serialized by lock,
// so an Fs can be shared between goroutines.
type Fs struct {
	lock   sync.Mutex
	reader io.ReadSeeker

	boot    BootSector
	info    Info
	geo     Geometry
	fat     []fatEntry
	mounted time.Time
}

// New opens the FAT32 filesystem from the given reader. The boot sector gets
// validated and the whole FAT is loaded into memory before New returns, no
// later operation re-reads either.
func New(reader io.ReadSeeker) (*Fs, error) {
	fs := &Fs{reader: reader}
	if err := fs.initialize(false); err != nil {
		return nil, checkpoint.From(err)
	}

	return fs, nil
}

// NewSkipChecks opens the filesystem just like New but skips the boot sector
// validation, which may allow reading not perfectly standard volumes.
// Use with caution!
func NewSkipChecks(reader io.ReadSeeker) (*Fs, error) {
	fs := &Fs{reader: reader}
	if err := fs.initialize(true); err != nil {
		return nil, checkpoint.From(err)
	}

	return fs, nil
}

func (fs *Fs) initialize(skipValidation bool) error {
	fs.mounted = time.Now()

	// The boot record always fits in the first 512 bytes, independent of the
	// real sector size.
	sector := make([]byte, bootSectorSize)
	if err := fs.readAt(0, sector); err != nil {
		return checkpoint.Wrap(err, ErrReadVolume)
	}

	if err := binary.Read(bytes.NewReader(sector), binary.LittleEndian, &fs.boot); err != nil {
		return checkpoint.Wrap(err, ErrInvalidBootSector)
	}

	if !skipValidation {
		if err := fs.boot.validate(); err != nil {
			return err
		}
	}

	fs.info = Info{
		Label:             strings.TrimRight(string(fs.boot.VolumeLabel[:]), " "),
		SectorSize:        fs.boot.BytesPerSector,
		SectorsPerCluster: fs.boot.SectorsPerCluster,
		ReservedSectors:   fs.boot.ReservedSectors,
		NumFATs:           fs.boot.NumFATs,
		SectorsPerFAT:     fs.boot.SectorsPerFAT32,
		TotalSectors:      fs.boot.TotalSectors32,
		RootCluster:       fatEntry(fs.boot.RootCluster),
	}
	fs.geo = newGeometry(fs.boot)

	return fs.loadFAT()
}

// loadFAT reads the first FAT copy into memory. All chain walking happens on
// this copy, the device is only touched for cluster data afterwards.
func (fs *Fs) loadFAT() error {
	if fs.geo.FATSize <= 0 || fs.geo.ClusterSize <= 0 {
		return checkpoint.Wrap(errors.New("boot sector describes an empty FAT or cluster region"), ErrInvalidBootSector)
	}

	raw := make([]byte, fs.geo.FATSize)
	if err := fs.readAt(fs.geo.FATOffset, raw); err != nil {
		return checkpoint.Wrap(err, ErrReadVolume)
	}

	fs.fat = make([]fatEntry, fs.geo.FATSize/4)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, fs.fat); err != nil {
		return checkpoint.Wrap(err, ErrReadVolume)
	}

	return nil
}

// readAt reads exactly len(dst) bytes at the given device offset. The lock
// serializes the seek and the read so an Fs can be used from several
// goroutines.
func (fs *Fs) readAt(offset int64, dst []byte) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if _, err := fs.reader.Seek(offset, io.SeekStart); err != nil {
		return checkpoint.From(err)
	}

	if _, err := io.ReadFull(fs.reader, dst); err != nil {
		return checkpoint.From(err)
	}

	return nil
}

// readCluster reads one whole data cluster into a fresh buffer.
func (fs *Fs) readCluster(cluster fatEntry) ([]byte, error) {
	buffer := make([]byte, fs.geo.ClusterSize)
	if err := fs.readAt(fs.geo.clusterOffset(cluster), buffer); err != nil {
		return nil, checkpoint.Wrap(err, ErrReadVolume)
	}

	return buffer, nil
}

// forEachCluster follows the FAT chain from start and calls visit for every
// cluster in it. visit returns false to stop the walk early. The iteration
// is bounded by the FAT entry count, so a cyclic chain surfaces as
// ErrCorruptedChain instead of looping forever. Out-of-range cluster numbers
// and free, reserved or bad entries in the middle of a chain are reported
// the same way.
func (fs *Fs) forEachCluster(start fatEntry, visit func(cluster fatEntry) bool) error {
	cluster := start
	for i := 0; i < len(fs.fat); i++ {
		value := cluster.Value()
		if value < firstDataCluster || int64(value) >= int64(len(fs.fat)) {
			return checkpoint.Wrap(fmt.Errorf("cluster %d is outside of the FAT", value), ErrCorruptedChain)
		}

		if !visit(cluster) {
			return nil
		}

		entry := fs.fat[value]
		if entry.ReadAsEOF() {
			return nil
		}
		if !entry.ReadAsNextCluster() {
			return checkpoint.Wrap(fmt.Errorf("unexpected FAT entry 0x%08X after cluster %d", entry.Value(), value), ErrCorruptedChain)
		}

		cluster = entry
	}

	return checkpoint.Wrap(fmt.Errorf("the chain starting at cluster %d does not terminate", start.Value()), ErrCorruptedChain)
}

// walkDir decodes the directory whose chain starts at cluster and calls
// visit for each record, in on-disk order. visit returns false to stop the
// scan early. A record starting with 0xE5 is unused and skipped, a record
// starting with 0x00 ends the whole directory. Long file name fragments and
// volume labels never reach visit.
func (fs *Fs) walkDir(cluster fatEntry, visit func(entry EntryHeader) bool) error {
	var innerErr error

	err := fs.forEachCluster(cluster, func(current fatEntry) bool {
		buffer, err := fs.readCluster(current)
		if err != nil {
			innerErr = err
			return false
		}

		for offset := 0; offset+directoryEntrySize <= len(buffer); offset += directoryEntrySize {
			record := buffer[offset : offset+directoryEntrySize]

			if record[0] == 0x00 {
				return false
			}
			if record[0] == 0xE5 {
				continue
			}

			var entry EntryHeader
			if err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &entry); err != nil {
				innerErr = checkpoint.From(err)
				return false
			}

			if entry.Attribute&AttrLongName == AttrLongName {
				continue
			}
			if entry.Attribute&attrSkipMask != 0 {
				continue
			}

			if !visit(entry) {
				return false
			}
		}

		return true
	})

	if innerErr != nil {
		return innerErr
	}

	return err
}

// readDir reads all entries of the directory starting at the given cluster.
func (fs *Fs) readDir(cluster fatEntry) ([]EntryHeader, error) {
	var entries []EntryHeader
	err := fs.walkDir(cluster, func(entry EntryHeader) bool {
		entries = append(entries, entry)
		return true
	})
	if err != nil {
		return nil, checkpoint.From(err)
	}

	return entries, nil
}

// readRoot reads all entries of the root directory.
func (fs *Fs) readRoot() ([]EntryHeader, error) {
	return fs.readDir(fs.info.RootCluster)
}

// searchDir scans the directory starting at cluster for an entry with
// exactly the given name. The match is case sensitive. The scan stops at the
// first hit.
func (fs *Fs) searchDir(cluster fatEntry, name string) (*EntryHeader, error) {
	var found *EntryHeader
	err := fs.walkDir(cluster, func(entry EntryHeader) bool {
		if entry.shortName() == name {
			match := entry
			found = &match
			return false
		}
		return true
	})
	if err != nil {
		return nil, checkpoint.From(err)
	}

	if found == nil {
		return nil, checkpoint.Wrap(os.ErrNotExist, fmt.Errorf("no entry %q in directory at cluster %d", name, cluster.Value()))
	}

	return found, nil
}

// resolve walks the slash separated path down from the root directory.
// It returns nil for the root itself. Path components have to match the 8.3
// short names exactly, and every component except the last has to be a
// directory - a file in the middle of a path counts as not found.
func (fs *Fs) resolve(path string) (*EntryHeader, error) {
	var current *EntryHeader
	cluster := fs.info.RootCluster

	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}

		if current != nil {
			if current.Attribute&AttrDirectory == 0 {
				return nil, checkpoint.Wrap(os.ErrNotExist, ErrResolvePath)
			}
			cluster = current.firstCluster()
		}

		entry, err := fs.searchDir(cluster, component)
		if err != nil {
			return nil, checkpoint.Wrap(err, ErrResolvePath)
		}

		current = entry
	}

	return current, nil
}

// readFileAt reads up to readSize bytes of the file whose chain starts at
// cluster, beginning at the given byte offset into the file. The request is
// clamped to fileSize. Reaching the end of the chain before the request is
// satisfied is not an error, the short result signals end of file.
func (fs *Fs) readFileAt(cluster fatEntry, fileSize int64, offset int64, readSize int64) ([]byte, error) {
	if offset < 0 || readSize < 0 {
		return nil, checkpoint.Wrap(afero.ErrOutOfRange, errors.New("negative offset or read size"))
	}

	if offset+readSize > fileSize {
		readSize = fileSize - offset
	}
	if readSize <= 0 {
		return nil, nil
	}

	result := make([]byte, 0, readSize)
	skip := offset

	var innerErr error
	err := fs.forEachCluster(cluster, func(current fatEntry) bool {
		// Clusters fully in front of the offset are not read at all.
		if skip >= fs.geo.ClusterSize {
			skip -= fs.geo.ClusterSize
			return true
		}

		buffer, err := fs.readCluster(current)
		if err != nil {
			innerErr = err
			return false
		}

		take := fs.geo.ClusterSize - skip
		if remaining := readSize - int64(len(result)); take > remaining {
			take = remaining
		}

		result = append(result, buffer[skip:skip+take]...)
		skip = 0

		return int64(len(result)) < readSize
	})

	if innerErr != nil {
		return result, checkpoint.From(innerErr)
	}
	if err != nil {
		return result, checkpoint.From(err)
	}

	return result, nil
}

// Label returns the volume label from the boot sector, right-trimmed.
func (fs *Fs) Label() string {
	return fs.info.Label
}

// FSType returns the FAT variant of the volume.
func (fs *Fs) FSType() FATType {
	return FAT32
}

// Geometry returns the derived region layout of the volume.
func (fs *Fs) Geometry() Geometry {
	return fs.geo
}

// Open opens the file or directory at the given path.
// Returns an error satisfying errors.Is(err, os.ErrNotExist) if no entry
// matches the path.
func (fs *Fs) Open(path string) (afero.File, error) {
	entry, err := fs.resolve(path)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	if entry == nil {
		// The root directory has no record of its own.
		return &File{
			fs:           fs,
			isDirectory:  true,
			firstCluster: fs.info.RootCluster,
			stat:         rootFileInfo{modTime: fs.mounted},
		}, nil
	}

	return &File{
		fs:           fs,
		path:         path,
		isDirectory:  entry.Attribute&AttrDirectory != 0,
		isReadOnly:   entry.Attribute&AttrReadOnly != 0,
		isHidden:     entry.Attribute&AttrHidden != 0,
		isSystem:     entry.Attribute&AttrSystem != 0,
		firstCluster: entry.firstCluster(),
		stat:         entry.FileInfo(),
	}, nil
}

// OpenFile opens the path like Open. Any flag requesting write access is
// rejected with an error wrapping syscall.EPERM.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
	}

	return fs.Open(name)
}

// Stat returns the attributes of the entry at the given path. The root
// directory reports the mount time, the volume stores no times for it.
func (fs *Fs) Stat(path string) (os.FileInfo, error) {
	entry, err := fs.resolve(path)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	if entry == nil {
		return rootFileInfo{modTime: fs.mounted}, nil
	}

	return entry.FileInfo(), nil
}

func (fs *Fs) Name() string {
	return "vfat"
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return nil, checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (fs *Fs) Remove(name string) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (fs *Fs) RemoveAll(path string) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (fs *Fs) Rename(oldname, newname string) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return checkpoint.Wrap(syscall.EPERM, ErrReadOnly)
}
