// Package pcapfile reads and writes capture files in the classic
// libpcap format (pre-pcapng), directly against the on-disk layout
// rather than through an indirect dependency — tcppump's PCAP-mode
// ingest needs the raw captured bytes back unchanged, which a
// packet-decoding library would not hand back faithfully.
package pcapfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	magicMicros       = 0xa1b2c3d4
	magicMicrosSwap   = 0xd4c3b2a1
	magicNanos        = 0xa1b23c4d
	magicNanosSwap    = 0x4d3cb2a1
	globalHeaderLen   = 24
	recordHeaderLen   = 16
	linkTypeEthernet  = 1
	defaultSnapLen    = 262144
	versionMajor      = 2
	versionMinor      = 4
)

// Record is one captured frame: its capture timestamp (as a duration
// since the Unix epoch) and its raw bytes exactly as captured.
type Record struct {
	Timestamp time.Duration
	Data      []byte
}

// ReadFile parses path as a libpcap capture file and returns every
// record it contains, in file order.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hdr [globalHeaderLen]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, fmt.Errorf("pcapfile: read global header: %w", err)
	}

	order, nanos, err := detectByteOrder(hdr[0:4])
	if err != nil {
		return nil, err
	}

	var records []Record
	var recHdr [recordHeaderLen]byte
	for {
		if _, err := io.ReadFull(f, recHdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("pcapfile: read record header: %w", err)
		}
		tsSec := order.Uint32(recHdr[0:4])
		tsFrac := order.Uint32(recHdr[4:8])
		inclLen := order.Uint32(recHdr[8:12])

		data := make([]byte, inclLen)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, fmt.Errorf("pcapfile: read record data: %w", err)
		}

		var frac time.Duration
		if nanos {
			frac = time.Duration(tsFrac) * time.Nanosecond
		} else {
			frac = time.Duration(tsFrac) * time.Microsecond
		}
		records = append(records, Record{
			Timestamp: time.Duration(tsSec)*time.Second + frac,
			Data:      data,
		})
	}

	return records, nil
}

// detectByteOrder inspects the global header's magic number to
// determine both the byte order the rest of the file uses and whether
// its fractional timestamp field is microseconds or nanoseconds,
// mirroring the magic-number sniffing every libpcap reader performs.
func detectByteOrder(magic []byte) (order binary.ByteOrder, nanos bool, err error) {
	le := binary.LittleEndian.Uint32(magic)
	be := binary.BigEndian.Uint32(magic)

	switch le {
	case magicMicros:
		return binary.LittleEndian, false, nil
	case magicNanos:
		return binary.LittleEndian, true, nil
	}
	switch be {
	case magicMicros:
		return binary.BigEndian, false, nil
	case magicNanos:
		return binary.BigEndian, true, nil
	}
	return nil, false, fmt.Errorf("pcapfile: unrecognized magic number %#x/%#x", le, be)
}

// Writer appends frames to a libpcap capture file, one record per
// frame, in the order WriteRecord is called.
type Writer struct {
	f *os.File
}

// Create opens path for writing and emits the global header: little-
// endian, microsecond resolution, link-type Ethernet.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	var hdr [globalHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], magicMicros)
	binary.LittleEndian.PutUint16(hdr[4:6], versionMajor)
	binary.LittleEndian.PutUint16(hdr[6:8], versionMinor)
	// thiszone, sigfigs: always 0, as every modern writer emits.
	binary.LittleEndian.PutUint32(hdr[16:20], defaultSnapLen)
	binary.LittleEndian.PutUint32(hdr[20:24], linkTypeEthernet)

	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("pcapfile: write global header: %w", err)
	}
	return &Writer{f: f}, nil
}

// WriteRecord appends one frame, stamped with ts (interpreted as a
// duration since the Unix epoch, matching Record.Timestamp).
func (w *Writer) WriteRecord(data []byte, ts time.Duration) error {
	var hdr [recordHeaderLen]byte
	sec := ts / time.Second
	usec := (ts % time.Second) / time.Microsecond
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(sec))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(usec))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(data)))

	if _, err := w.f.Write(hdr[:]); err != nil {
		return fmt.Errorf("pcapfile: write record header: %w", err)
	}
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("pcapfile: write record data: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}
