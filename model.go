// File model contains the structs which match the on-disk structures of a FAT32 volume.

package vfat

// BootSector is the raw first sector of the volume: the BPB followed by the
// FAT32 extension block. Field order and widths match the on-disk
// little-endian layout, so it can be decoded with a single binary.Read.
type BootSector struct {
	JumpBoot          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32

	// FAT32 extension block.
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	Reserved1        uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FSTypeLabel      [8]byte
	BootCode         [420]byte
	Signature        uint16
}

// EntryHeader is one 32 byte short name directory record.
type EntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// Attribute bits of a directory record.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20

	// AttrLongName marks a record as a long file name fragment. Such records
	// are recognized and skipped, the fragments are never reconstructed, so
	// names longer than 8.3 stay inaccessible.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID

	// attrSkipMask covers records which never show up in a listing: volume
	// labels and records with a reserved attribute bit set.
	attrSkipMask = AttrVolumeID | 0x40 | 0x80
)
