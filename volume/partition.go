// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	mbrSize          = 512
	mbrEntryOffset   = 446
	mbrEntrySize     = 16
	gptSignature     = "EFI PART"
	maxGPTEntries    = 1024
	maxLogicalVolume = 128
)

// ErrNoPartitionTable is returned if neither an MBR nor a GPT is present.
var ErrNoPartitionTable = errors.New("no partition table found")

// Partition is a single entry of a partition table.
type Partition struct {
	Index       int
	StartSector uint64
	SectorCount uint64
	SectorSize  int64
	Description string
}

// Offset returns the byte offset of the partition inside the image.
func (p Partition) Offset() int64 {
	return int64(p.StartSector) * p.SectorSize
}

var mbrTypes = map[byte]string{
	0x01: "FAT12",
	0x04: "FAT16 <32M",
	0x05: "Extended",
	0x06: "FAT16",
	0x07: "NTFS / exFAT",
	0x0b: "FAT32",
	0x0c: "FAT32 (LBA)",
	0x0e: "FAT16 (LBA)",
	0x0f: "Extended (LBA)",
	0x17: "Hidden NTFS",
	0x27: "Windows RE",
	0x82: "Linux swap",
	0x83: "Linux",
	0x85: "Linux extended",
	0xee: "GPT protective",
}

var gptTypes = map[string]string{
	"ebd0a0a2-b9e5-4433-87c0-68b6b72699c7": "Basic data partition",
	"c12a7328-f81f-11d2-ba4b-00a0c93ec93b": "EFI system partition",
	"e3c9e316-0b5c-4db8-817d-f92df00215ae": "Microsoft reserved partition",
	"de94bba4-06d1-4d40-a16a-bfd50179d6ac": "Windows recovery environment",
	"5808c8aa-7e8f-42e0-85d2-e1e90434cfb3": "LDM metadata partition",
	"af9b60a0-1431-4f62-bc68-3311714a69ad": "LDM data partition",
	"0fc63daf-8483-4772-8e79-3d69d8477de4": "Linux filesystem",
}

func isExtended(t byte) bool {
	return t == 0x05 || t == 0x0f || t == 0x85
}

// Partitions enumerates the partition table of r in table order. GPT is used
// if the MBR is protective or missing, extended MBR partitions are followed
// through their EBR chain.
func Partitions(r io.ReaderAt, size int64) ([]Partition, error) {
	mbr := make([]byte, mbrSize)
	if err := readFull(r, mbr, 0); err != nil {
		return nil, errors.Wrap(ErrNoPartitionTable, err.Error())
	}

	validMBR := mbr[510] == 0x55 && mbr[511] == 0xaa
	if !validMBR || hasProtectiveEntry(mbr) {
		partitions, err := gptPartitions(r, size)
		if err == nil {
			return partitions, nil
		}
		if !validMBR {
			return nil, err
		}
	}
	return mbrPartitions(r, mbr)
}

func hasProtectiveEntry(mbr []byte) bool {
	for i := 0; i < 4; i++ {
		if mbr[mbrEntryOffset+i*mbrEntrySize+4] == 0xee {
			return true
		}
	}
	return false
}

type mbrEntry struct {
	kind  byte
	start uint64
	count uint64
}

func parseMBREntries(sector []byte) []mbrEntry {
	var entries []mbrEntry
	for i := 0; i < 4; i++ {
		raw := sector[mbrEntryOffset+i*mbrEntrySize : mbrEntryOffset+(i+1)*mbrEntrySize]
		entries = append(entries, mbrEntry{
			kind:  raw[4],
			start: uint64(binary.LittleEndian.Uint32(raw[8:12])),
			count: uint64(binary.LittleEndian.Uint32(raw[12:16])),
		})
	}
	return entries
}

func mbrDescription(t byte) string {
	if name, ok := mbrTypes[t]; ok {
		return fmt.Sprintf("%s (0x%02x)", name, t)
	}
	return fmt.Sprintf("Unknown (0x%02x)", t)
}

func mbrPartitions(r io.ReaderAt, mbr []byte) ([]Partition, error) {
	var partitions []Partition
	for _, entry := range parseMBREntries(mbr) {
		if entry.kind == 0 {
			continue
		}
		if isExtended(entry.kind) {
			partitions = append(partitions, logicalPartitions(r, entry.start, len(partitions))...)
			continue
		}
		partitions = append(partitions, Partition{
			Index:       len(partitions),
			StartSector: entry.start,
			SectorCount: entry.count,
			SectorSize:  mbrSize,
			Description: mbrDescription(entry.kind),
		})
	}
	return partitions, nil
}

// logicalPartitions walks the EBR chain of an extended partition. Logical
// starts are relative to their EBR, next links are relative to the extended
// partition itself.
func logicalPartitions(r io.ReaderAt, extendedStart uint64, index int) []Partition {
	var partitions []Partition
	seen := map[uint64]bool{}
	ebr := extendedStart
	for i := 0; i < maxLogicalVolume && !seen[ebr]; i++ {
		seen[ebr] = true
		sector := make([]byte, mbrSize)
		if err := readFull(r, sector, int64(ebr)*mbrSize); err != nil {
			break
		}
		if sector[510] != 0x55 || sector[511] != 0xaa {
			break
		}
		entries := parseMBREntries(sector)
		if entries[0].kind != 0 && entries[0].count > 0 {
			partitions = append(partitions, Partition{
				Index:       index + len(partitions),
				StartSector: ebr + entries[0].start,
				SectorCount: entries[0].count,
				SectorSize:  mbrSize,
				Description: mbrDescription(entries[0].kind),
			})
		}
		if !isExtended(entries[1].kind) || entries[1].start == 0 {
			break
		}
		ebr = extendedStart + entries[1].start
	}
	return partitions
}

func gptPartitions(r io.ReaderAt, size int64) ([]Partition, error) {
	for _, sectorSize := range []int64{512, 4096} {
		header := make([]byte, 92)
		if err := readFull(r, header, sectorSize); err != nil {
			continue
		}
		if string(header[:8]) != gptSignature {
			continue
		}

		entryLBA := binary.LittleEndian.Uint64(header[72:80])
		count := binary.LittleEndian.Uint32(header[80:84])
		entrySize := binary.LittleEndian.Uint32(header[84:88])
		if entrySize < 128 || count > maxGPTEntries {
			return nil, errors.Wrap(ErrNoPartitionTable, "corrupt GPT header")
		}

		table := make([]byte, int64(count)*int64(entrySize))
		tableOffset := int64(entryLBA) * sectorSize
		if size > 0 && tableOffset+int64(len(table)) > size {
			return nil, errors.Wrap(ErrNoPartitionTable, "GPT entries beyond end of image")
		}
		if err := readFull(r, table, tableOffset); err != nil {
			return nil, errors.Wrap(ErrNoPartitionTable, err.Error())
		}

		var partitions []Partition
		for i := uint32(0); i < count; i++ {
			raw := table[i*entrySize : (i+1)*entrySize]
			if bytes.Equal(raw[:16], make([]byte, 16)) {
				continue
			}
			first := binary.LittleEndian.Uint64(raw[32:40])
			last := binary.LittleEndian.Uint64(raw[40:48])
			if last < first {
				continue
			}
			partitions = append(partitions, Partition{
				Index:       len(partitions),
				StartSector: first,
				SectorCount: last - first + 1,
				SectorSize:  sectorSize,
				Description: gptDescription(raw),
			})
		}
		return partitions, nil
	}
	return nil, ErrNoPartitionTable
}

// gptGUID converts the mixed endian on-disk GUID layout.
func gptGUID(b []byte) uuid.UUID {
	var id uuid.UUID
	copy(id[:], b[:16])
	id[0], id[1], id[2], id[3] = b[3], b[2], b[1], b[0]
	id[4], id[5] = b[5], b[4]
	id[6], id[7] = b[7], b[6]
	return id
}

func gptDescription(raw []byte) string {
	name := utf16String(raw[56:128])
	if name != "" {
		return name
	}
	typeGUID := gptGUID(raw[:16]).String()
	if description, ok := gptTypes[typeGUID]; ok {
		return description
	}
	return typeGUID
}

func utf16String(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return strings.TrimSpace(string(utf16.Decode(units)))
}

func readFull(r io.ReaderAt, b []byte, offset int64) error {
	n, err := r.ReadAt(b, offset)
	if n == len(b) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}
