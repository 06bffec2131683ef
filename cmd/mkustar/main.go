// Command mkustar builds a bootable USTAR archive from a host directory
// tree (spec §6: "LBAs 16..: a USTAR archive containing
// /boot/simple_os.kernel and other files under /usr, /home, etc").
//
// The kernel's own USTAR backend (see package ustarfs) hand-rolls its
// header parsing because the spec's lookup algorithm needs LBA-level
// control archive/tar's stream abstraction doesn't expose. This tool has
// no such constraint — it only ever writes a conventional USTAR archive
// on the host — so it uses the standard library's archive/tar the way
// biscuit's own mkfs.go command walks a skeleton directory with
// filepath.WalkDir and copies file content in, adapted here from
// biscuit's custom on-disk filesystem format to a plain USTAR stream.
package main

import (
	"archive/tar"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

func usage(me string) {
	fmt.Printf("%s <skeleton-dir> <output.ustar>\n\nBuild a USTAR archive from skeleton-dir, named paths relative to it.\n", me)
	os.Exit(1)
}

func main() {
	if len(os.Args) != 3 {
		usage(os.Args[0])
	}
	skelDir, outPath := os.Args[1], os.Args[2]

	out, err := os.Create(outPath)
	if err != nil {
		log.Fatalf("mkustar: %v", err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	if err := addTree(tw, skelDir); err != nil {
		log.Fatalf("mkustar: %v", err)
	}
	if err := tw.Close(); err != nil {
		log.Fatalf("mkustar: closing archive: %v", err)
	}
}

// addTree walks skelDir and writes every regular file and directory into
// tw with its path relative to skelDir, written with a leading slash, the way mkfs.go's addfiles walks a
// skeleton directory into the target filesystem.
func addTree(tw *tar.Writer, skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("accessing %q: %w", path, err)
		}
		rel, err := filepath.Rel(skelDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = "/" + filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		hdr.Format = tar.FormatUSTAR
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
