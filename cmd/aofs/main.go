// Command aofs mounts an AOFS container file as a FUSE filesystem.
//
// Mount-point setup (the mountpoint directory must already exist; it is not
// created here), command-line parsing conventions, and signal handling are
// deliberately minimal here — spec §1
// calls all three out of scope for the storage engine this repository
// exists to demonstrate.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/xerrors"

	"github.com/aofs/aofs/internal/container"
	"github.com/aofs/aofs/internal/engine"
	"github.com/aofs/aofs/internal/upcall"
)

const help = `aofs [-flags] <mountpoint>

Mount an AOFS container file as a FUSE filesystem.

Example:
  % aofs -container /tmp/aofs.img /mnt/aofs
`

var (
	containerPath = flag.String("container", "aofs.img", "path to the AOFS container file (created on first mount)")
	debug         = flag.Bool("debug", false, "enable verbose FUSE debug logging")
)

func funcmain() error {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, help)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		return xerrors.Errorf("syntax: aofs [-flags] <mountpoint>")
	}
	mountpoint := flag.Arg(0)

	c, err := container.Open(*containerPath)
	if err != nil {
		return xerrors.Errorf("opening container: %w", err)
	}
	defer c.Close()

	e := engine.New(c)

	server, err := upcall.Mount(mountpoint, e)
	if err != nil {
		return xerrors.Errorf("mounting at %s: %w", mountpoint, err)
	}
	server.SetDebug(*debug)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("aofs: unmounting %s", mountpoint)
		if err := server.Unmount(); err != nil {
			log.Printf("aofs: unmount: %v", err)
		}
	}()

	log.Printf("aofs: mounted %s at %s", *containerPath, mountpoint)
	server.Serve()
	return nil
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
