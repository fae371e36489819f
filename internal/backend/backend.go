// Package backend implements tcppump's file output formats: pcap
// (via internal/pcapfile), plain hex text, a hex stream (contiguous hex
// digits with no separators, one frame per line), and a classic
// 16-byte-per-line hexdump with an ASCII gutter.
package backend

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/amartin755/tcppump/internal/pcapfile"
)

// Writer is the contract every output format satisfies: one frame at a
// time, in send order, plus a final Close to flush and report what was
// written.
type Writer interface {
	WriteFrame(data []byte, sendTime time.Duration) error
	Close() error
	Stats() (packets uint64, bytes uint64)
}

// Format names accepted by --format / the config file.
const (
	FormatPCAP      = "pcap"
	FormatText      = "text"
	FormatHexStream = "hexstream"
	FormatHexDump   = "hexdump"
)

// Open returns the Writer for format, writing to path ("-" means
// stdout for the text-based formats; pcap always requires a real
// file).
func Open(format, path string) (Writer, error) {
	switch format {
	case FormatPCAP:
		w, err := pcapfile.Create(path)
		if err != nil {
			return nil, fmt.Errorf("backend: %w", err)
		}
		return &pcapWriter{w: w}, nil
	case FormatText:
		return newASCIIWriter(path, asciiModeText)
	case FormatHexStream:
		return newASCIIWriter(path, asciiModeHexStream)
	case FormatHexDump:
		return newASCIIWriter(path, asciiModeHexDump)
	default:
		return nil, fmt.Errorf("backend: unknown output format %q", format)
	}
}

type pcapWriter struct {
	w       *pcapfile.Writer
	packets uint64
	bytes   uint64
}

func (p *pcapWriter) WriteFrame(data []byte, sendTime time.Duration) error {
	if err := p.w.WriteRecord(data, sendTime); err != nil {
		return err
	}
	p.packets++
	p.bytes += uint64(len(data))
	return nil
}

func (p *pcapWriter) Close() error { return p.w.Close() }

func (p *pcapWriter) Stats() (uint64, uint64) { return p.packets, p.bytes }

type asciiMode int

const (
	asciiModeText asciiMode = iota
	asciiModeHexStream
	asciiModeHexDump
)

// asciiWriter renders frames as human-readable text, mirroring
// cAsciiBackend. colSeparator/byteSeparator match the original's
// defaults: a tab between a packet's number/timestamp columns, a
// space between hex byte pairs.
type asciiWriter struct {
	f               *os.File
	closeUnderlying bool
	bw              *bufio.Writer
	mode            asciiMode
	colSeparator    string
	byteSeparator   string
	packets         uint64
	bytes           uint64
}

func newASCIIWriter(path string, mode asciiMode) (*asciiWriter, error) {
	w := &asciiWriter{
		mode:          mode,
		colSeparator:  "\t",
		byteSeparator: " ",
	}
	if path == "-" || path == "" {
		w.f = os.Stdout
		w.closeUnderlying = false
	} else {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("backend: %w", err)
		}
		w.f = f
		w.closeUnderlying = true
	}
	w.bw = bufio.NewWriter(w.f)
	return w, nil
}

func (w *asciiWriter) WriteFrame(data []byte, sendTime time.Duration) error {
	// hexstream is a bare contiguous hex dump with no separators and no
	// packet-number/timestamp columns — the other two modes carry both,
	// mirroring cAsciiBackend::write's unconditional number+time prefix.
	var err error
	switch w.mode {
	case asciiModeHexStream:
		err = writeHexStream(w.bw, data, "")
	case asciiModeHexDump:
		fmt.Fprintf(w.bw, "%5d%s", w.packets+1, w.colSeparator)
		fmt.Fprintf(w.bw, "%d.%06d%s\n", int64(sendTime/time.Second), int64((sendTime%time.Second)/time.Microsecond), w.colSeparator)
		err = dumpHex(w.bw, data)
	default:
		fmt.Fprintf(w.bw, "%5d%s", w.packets+1, w.colSeparator)
		fmt.Fprintf(w.bw, "%d.%06d%s", int64(sendTime/time.Second), int64((sendTime%time.Second)/time.Microsecond), w.colSeparator)
		err = writeHexStream(w.bw, data, w.byteSeparator)
	}
	if err != nil {
		return err
	}

	w.packets++
	w.bytes += uint64(len(data))
	return nil
}

func writeHexStream(bw *bufio.Writer, data []byte, sep string) error {
	for _, b := range data {
		if _, err := fmt.Fprintf(bw, "%02x%s", b, sep); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(bw)
	return err
}

// dumpHex renders data as 16-byte-per-line hex with an offset column
// and an ASCII gutter, matching cAsciiBackend::dump byte-for-byte.
func dumpHex(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	var line [16]byte
	i := 0
	for ; i < len(data); i++ {
		if i%16 == 0 {
			if i != 0 {
				if _, err := fmt.Fprintf(w, "  %s\n", line[:16]); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%04x ", i); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, " %02x", data[i]); err != nil {
			return err
		}
		if data[i] < 0x20 || data[i] > 0x7e {
			line[i%16] = '.'
		} else {
			line[i%16] = data[i]
		}
	}

	n := i % 16
	for rem := n; rem != 0 && rem != 16; rem++ {
		if _, err := fmt.Fprint(w, "   "); err != nil {
			return err
		}
	}
	if n == 0 {
		n = 16
	}
	_, err := fmt.Fprintf(w, "  %s\n", line[:n])
	return err
}

func (w *asciiWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if w.closeUnderlying {
		return w.f.Close()
	}
	return nil
}

func (w *asciiWriter) Stats() (uint64, uint64) { return w.packets, w.bytes }
