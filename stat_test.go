package vfat

import (
	"os"
	"testing"
	"time"
)

func Test_entryHeaderFileInfo_Name(t *testing.T) {
	tests := []struct {
		name  string
		field [11]byte
		want  string
	}{
		{
			name:  "name and extension",
			field: [11]byte{'F', 'O', 'O', ' ', ' ', ' ', ' ', ' ', 'T', 'X', 'T'},
			want:  "FOO.TXT",
		},
		{
			name:  "full name and extension",
			field: [11]byte{'F', 'I', 'L', 'E', 'N', 'A', 'M', 'E', 'T', 'X', 'T'},
			want:  "FILENAME.TXT",
		},
		{
			name:  "short extension",
			field: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', 'T', 'X', ' '},
			want:  "HELLO.TX",
		},
		{
			name:  "no extension means no dot",
			field: [11]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' ', ' ', ' ', ' '},
			want:  "HELLO",
		},
		{
			name:  "dotfile style name",
			field: [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '},
			want:  ".",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := entryHeaderFileInfo{entry: EntryHeader{Name: tt.field}}
			if got := info.Name(); got != tt.want {
				t.Errorf("entryHeaderFileInfo.Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func Test_EntryHeader_firstCluster(t *testing.T) {
	entry := EntryHeader{
		FirstClusterHI: 0x0001,
		FirstClusterLO: 0x0005,
	}
	if got := entry.firstCluster(); got.Value() != 0x00010005 {
		t.Errorf("firstCluster() = 0x%08X, want 0x00010005", got.Value())
	}
}

func Test_entryHeaderFileInfo_ModeAndIsDir(t *testing.T) {
	dir := entryHeaderFileInfo{entry: EntryHeader{Attribute: AttrDirectory}}
	if !dir.IsDir() || dir.Mode() != os.ModeDir {
		t.Errorf("directory entry reports IsDir=%v Mode=%v", dir.IsDir(), dir.Mode())
	}

	file := entryHeaderFileInfo{entry: EntryHeader{Attribute: AttrArchive}}
	if file.IsDir() || file.Mode() != 0 {
		t.Errorf("file entry reports IsDir=%v Mode=%v", file.IsDir(), file.Mode())
	}
}

func Test_entryHeaderFileInfo_ModTime(t *testing.T) {
	// 2021-01-31 (year 41 since 1980, month 1, day 31) at 12:30:58.
	date := uint16(41<<9 | 1<<5 | 31)
	clock := uint16(12<<11 | 30<<5 | 29)

	info := entryHeaderFileInfo{entry: EntryHeader{
		WriteDate: date,
		WriteTime: clock,
	}}

	want := time.Date(2021, time.January, 31, 12, 30, 58, 0, time.UTC)
	if got := info.ModTime(); !got.Equal(want) {
		t.Errorf("ModTime() = %v, want %v", got, want)
	}

	// An invalid date makes the whole timestamp zero.
	invalid := entryHeaderFileInfo{entry: EntryHeader{WriteDate: 0, WriteTime: clock}}
	if !invalid.ModTime().IsZero() {
		t.Errorf("ModTime() with invalid date = %v, want the zero time", invalid.ModTime())
	}
}

func Test_EntryHeader_Timestamps(t *testing.T) {
	date := uint16(10<<9 | 6<<5 | 15) // 1990-06-15
	clock := uint16(8<<11 | 45<<5 | 10)

	entry := EntryHeader{
		CreateDate:     date,
		CreateTime:     clock,
		LastAccessDate: date,
		WriteDate:      date,
		WriteTime:      clock,
	}

	want := time.Date(1990, time.June, 15, 8, 45, 20, 0, time.UTC)
	if got := entry.Created(); !got.Equal(want) {
		t.Errorf("Created() = %v, want %v", got, want)
	}
	if got := entry.Modified(); !got.Equal(want) {
		t.Errorf("Modified() = %v, want %v", got, want)
	}

	wantDay := time.Date(1990, time.June, 15, 0, 0, 0, 0, time.UTC)
	if got := entry.Accessed(); !got.Equal(wantDay) {
		t.Errorf("Accessed() = %v, want %v", got, wantDay)
	}
}

func Test_entryHeaderFileInfo_Sys(t *testing.T) {
	entry := EntryHeader{FileSize: 42}
	info := entry.FileInfo()

	sys, ok := info.Sys().(EntryHeader)
	if !ok {
		t.Fatalf("Sys() = %T, want EntryHeader", info.Sys())
	}
	if sys.FileSize != 42 {
		t.Errorf("Sys().FileSize = %d, want 42", sys.FileSize)
	}
	if info.Size() != 42 {
		t.Errorf("Size() = %d, want 42", info.Size())
	}
}

func Test_rootFileInfo(t *testing.T) {
	mounted := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	root := rootFileInfo{modTime: mounted}

	if root.Name() != "/" || !root.IsDir() || root.Size() != 0 {
		t.Errorf("rootFileInfo = %q/%v/%d, want //true/0", root.Name(), root.IsDir(), root.Size())
	}
	if root.Mode() != os.ModeDir {
		t.Errorf("rootFileInfo.Mode() = %v, want %v", root.Mode(), os.ModeDir)
	}
	if !root.ModTime().Equal(mounted) {
		t.Errorf("rootFileInfo.ModTime() = %v, want %v", root.ModTime(), mounted)
	}
}
