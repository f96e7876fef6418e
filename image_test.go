package vfat

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

// testImage assembles a FAT32 volume in memory for tests. Only the clusters
// a test actually touches get materialized, but the boot sector claims
// enough total sectors to pass the FAT32 cluster count check.
type testImage struct {
	sectorSize        uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	sectorsPerFAT     uint32
	totalSectors      uint32
	rootCluster       uint32
	label             string

	fat      map[uint32]uint32
	clusters map[uint32][]byte

	// mutateBoot runs on the assembled boot sector, used to break single
	// fields for validation tests.
	mutateBoot func(boot *BootSector)
}

func newTestImage() *testImage {
	img := &testImage{
		sectorSize:        512,
		sectorsPerCluster: 1,
		reservedSectors:   4,
		numFATs:           2,
		sectorsPerFAT:     16,
		rootCluster:       2,
		label:             "TESTVOL",
		fat: map[uint32]uint32{
			0: 0x0FFFFFF8,
			1: 0x0FFFFFFF,
		},
		clusters: map[uint32][]byte{},
	}

	// An empty (zeroed) root cluster decodes as an empty directory.
	img.fat[img.rootCluster] = 0x0FFFFFFF

	return img
}

func (img *testImage) clusterSize() int {
	return int(img.sectorSize) * int(img.sectorsPerCluster)
}

// chain links the given clusters in order and terminates the last one.
func (img *testImage) chain(clusters ...uint32) {
	for i, cluster := range clusters {
		if i+1 < len(clusters) {
			img.fat[cluster] = clusters[i+1]
		} else {
			img.fat[cluster] = 0x0FFFFFFF
		}
	}
}

// setCluster materializes the data of one cluster, padded to cluster size.
func (img *testImage) setCluster(t *testing.T, cluster uint32, data []byte) {
	t.Helper()
	if len(data) > img.clusterSize() {
		t.Fatalf("cluster data of %d bytes exceeds the cluster size %d", len(data), img.clusterSize())
	}
	padded := make([]byte, img.clusterSize())
	copy(padded, data)
	img.clusters[cluster] = padded
}

func (img *testImage) bytes(t *testing.T) []byte {
	t.Helper()

	sectorSize := int64(img.sectorSize)
	fatOffset := int64(img.reservedSectors) * sectorSize
	fatSize := int64(img.sectorsPerFAT) * sectorSize
	dataOffset := fatOffset + int64(img.numFATs)*fatSize

	maxCluster := img.rootCluster
	for cluster := range img.clusters {
		if cluster > maxCluster {
			maxCluster = cluster
		}
	}

	size := dataOffset + int64(maxCluster-1)*int64(img.clusterSize())
	image := make([]byte, size)

	totalSectors := img.totalSectors
	if totalSectors == 0 {
		// Claim just enough data sectors for a valid FAT32 cluster count.
		meta := uint32(img.reservedSectors) + uint32(img.numFATs)*img.sectorsPerFAT
		totalSectors = meta + 65535*uint32(img.sectorsPerCluster)
	}

	boot := BootSector{
		JumpBoot:          [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:    img.sectorSize,
		SectorsPerCluster: img.sectorsPerCluster,
		ReservedSectors:   img.reservedSectors,
		NumFATs:           img.numFATs,
		Media:             0xF8,
		TotalSectors32:    totalSectors,
		SectorsPerFAT32:   img.sectorsPerFAT,
		RootCluster:       img.rootCluster,
		BootSignature:     0x29,
		Signature:         0xAA55,
	}
	copy(boot.OEMName[:], "MSDOS5.0")
	copy(boot.FSTypeLabel[:], "FAT32   ")
	copy(boot.VolumeLabel[:], padRight(img.label, 11))

	if img.mutateBoot != nil {
		img.mutateBoot(&boot)
	}

	var bootBuffer bytes.Buffer
	if err := binary.Write(&bootBuffer, binary.LittleEndian, boot); err != nil {
		t.Fatal(err)
	}
	copy(image, bootBuffer.Bytes())

	// Both FAT copies get the same content.
	for cluster, value := range img.fat {
		for copyIndex := int64(0); copyIndex < int64(img.numFATs); copyIndex++ {
			offset := fatOffset + copyIndex*fatSize + int64(cluster)*4
			if offset+4 <= size {
				binary.LittleEndian.PutUint32(image[offset:], value)
			}
		}
	}

	for cluster, data := range img.clusters {
		offset := dataOffset + int64(cluster-2)*int64(img.clusterSize())
		copy(image[offset:], data)
	}

	return image
}

func (img *testImage) reader(t *testing.T) *bytes.Reader {
	t.Helper()
	return bytes.NewReader(img.bytes(t))
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s[:length]
	}
	return s + strings.Repeat(" ", length-len(s))
}

// shortNameField converts a dot-joined name to the padded 11 byte 8.3 field.
func shortNameField(t *testing.T, name string) [11]byte {
	t.Helper()

	// Dot entries are stored literally in the name part, not split on ".".
	if name == "." || name == ".." {
		var field [11]byte
		copy(field[:], padRight(name, 11))
		return field
	}

	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	if len(base) > 8 || len(ext) > 3 {
		t.Fatalf("%q does not fit into an 8.3 name", name)
	}

	var field [11]byte
	copy(field[:8], padRight(base, 8))
	copy(field[8:], padRight(ext, 3))
	return field
}

// dirEntry builds a short name directory record.
func dirEntry(t *testing.T, name string, attr byte, cluster uint32, size uint32) EntryHeader {
	t.Helper()
	return EntryHeader{
		Name:           shortNameField(t, name),
		Attribute:      attr,
		FirstClusterHI: uint16(cluster >> 16),
		FirstClusterLO: uint16(cluster & 0xFFFF),
		FileSize:       size,
	}
}

// encodeRecords serializes directory records into cluster data. The caller
// appends raw 32 byte records for the special cases (deleted, long name).
func encodeRecords(t *testing.T, records ...interface{}) []byte {
	t.Helper()

	var buffer bytes.Buffer
	for _, record := range records {
		switch r := record.(type) {
		case EntryHeader:
			if err := binary.Write(&buffer, binary.LittleEndian, r); err != nil {
				t.Fatal(err)
			}
		case []byte:
			if len(r) != directoryEntrySize {
				t.Fatalf("raw record has %d bytes, want %d", len(r), directoryEntrySize)
			}
			buffer.Write(r)
		default:
			t.Fatalf("unsupported record type %T", record)
		}
	}

	return buffer.Bytes()
}

// deletedRecord is a record whose first byte marks it as unused.
func deletedRecord() []byte {
	record := make([]byte, directoryEntrySize)
	record[0] = 0xE5
	copy(record[1:], "ELETED  TXT")
	return record
}

// lfnRecord is a long file name fragment which must never show up in any
// decoded output.
func lfnRecord() []byte {
	record := make([]byte, directoryEntrySize)
	record[0] = 0x41
	record[11] = AttrLongName
	return record
}
