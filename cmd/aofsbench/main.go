// Command aofsbench times raw host-file I/O: sequential writes and reads of
// a fixed-size scratch file, independent of AOFS's container format. It
// exists purely as a baseline to compare AOFS's own throughput against and
// intentionally shares no code with internal/container, internal/engine or
// any other part of the core (spec §1 calls it out of scope).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

var (
	path      = flag.String("path", "aofsbench.tmp", "scratch file to benchmark against")
	totalSize = flag.Int64("size", 1<<20, "total bytes to write and read")
	chunkSize = flag.Int("chunk", 4096, "size in bytes of each write/read call")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer os.Remove(*path)
	defer f.Close()

	chunk := make([]byte, *chunkSize)
	for i := range chunk {
		chunk[i] = byte(i)
	}

	writeStart := time.Now()
	var written int64
	for written < *totalSize {
		n, err := f.Write(chunk)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		written += int64(n)
	}
	if err := f.Sync(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	writeElapsed := time.Since(writeStart)

	if _, err := f.Seek(0, 0); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	readStart := time.Now()
	var read int64
	buf := make([]byte, *chunkSize)
	for read < *totalSize {
		n, err := f.Read(buf)
		if n > 0 {
			read += int64(n)
		}
		if err != nil {
			break
		}
	}
	readElapsed := time.Since(readStart)

	fmt.Printf("write: %d bytes in %s (%.2f MiB/s)\n", written, writeElapsed, mibPerSec(written, writeElapsed))
	fmt.Printf("read:  %d bytes in %s (%.2f MiB/s)\n", read, readElapsed, mibPerSec(read, readElapsed))
}

func mibPerSec(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) / (1024 * 1024) / d.Seconds()
}
