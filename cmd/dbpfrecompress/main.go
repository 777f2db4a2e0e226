// Package main provides a command-line tool for re-compressing or
// decompressing DBPF game-asset archives in place.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goopsie/dbpfrecompress/pkg/dbpf"
)

var (
	decompress bool
	help       bool
)

func init() {
	flag.BoolVar(&decompress, "d", false, "Decompress mode: strip compression instead of re-compressing")
	flag.BoolVar(&help, "h", false, "Show usage")
	flag.BoolVar(&help, "help", false, "Show usage")
}

func main() {
	flag.Parse()

	if help || flag.NArg() != 1 {
		usage()
		os.Exit(0)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(0)
	}
}

func usage() {
	fmt.Println("Usage: dbpfrecompress [-d] <file.package|directory>")
	fmt.Println("  -d       decompress instead of recompress")
	fmt.Println("  -h/-help show this message")
}

func run(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}

	mode := dbpf.Recompress
	if decompress {
		mode = dbpf.Decompress
	}

	cachePath := strings.TrimRight(root, string(filepath.Separator)) + ".dbpfcache"
	cache := dbpf.LoadScanCache(cachePath)

	files, err := candidateFiles(root, info)
	if err != nil {
		return err
	}

	for _, path := range files {
		processFile(path, mode, cache)
	}

	if err := cache.Save(cachePath); err != nil {
		fmt.Fprintf(os.Stderr, "%s: save scan cache: %v\n", cachePath, err)
	}

	return nil
}

// candidateFiles returns root itself, whatever its extension, if it is not
// a directory, or every .package file beneath it if it is a directory.
func candidateFiles(root string, info os.FileInfo) ([]string, error) {
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".package") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func processFile(path string, mode dbpf.Mode, cache *dbpf.ScanCache) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return
	}

	if cache.Unchanged(path, info.Size(), info.ModTime().UnixNano()) {
		fmt.Printf("%s: unchanged, skipping\n", path)
		return
	}

	src, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return
	}
	defer src.Close()

	origArchive, err := dbpf.Read(src, path, mode)
	if err != nil || !origArchive.Unpacked {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return
	}

	if mode == dbpf.Recompress && origArchive.SignaturePresent {
		fmt.Printf("%s: already recompressed, skipping\n", path)
		cache.Record(path, info.Size(), info.ModTime().UnixNano())
		return
	}

	origHeaderBuf := make([]byte, dbpf.HeaderSize)
	if _, err := src.ReadAt(origHeaderBuf, 0); err != nil {
		fmt.Fprintf(os.Stderr, "%s: read header: %v\n", path, err)
		return
	}
	origEntries := append([]dbpf.Entry(nil), origArchive.Entries...)

	tempPath := path + ".new"
	dst, err := os.Create(tempPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return
	}

	writeErr := dbpf.Write(dst, src, origArchive, mode)
	if writeErr != nil {
		dst.Close()
		os.Remove(tempPath)
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, writeErr)
		return
	}

	if err := dbpf.Validate(dst, src, origHeaderBuf, origEntries, path, mode); err != nil {
		dst.Close()
		os.Remove(tempPath)
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return
	}

	newSize, _ := dst.Seek(0, 2)
	dst.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		fmt.Fprintf(os.Stderr, "%s: rename: %v\n", path, err)
		return
	}

	oldSize := info.Size()
	fmt.Printf("%s: %d -> %d bytes (%.1f%%)\n", path, oldSize, newSize, 100*float64(newSize)/float64(oldSize))

	if newInfo, err := os.Stat(path); err == nil {
		cache.Record(path, newInfo.Size(), newInfo.ModTime().UnixNano())
	}
}
