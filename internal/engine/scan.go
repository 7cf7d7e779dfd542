// internal/engine/scan.go
package engine

import (
	"context"
	"encoding/hex"
	"path"

	"media-vault/internal/storage"
)

type ScanEventKind int

const (
	ScanFile ScanEventKind = iota
	ScanProgress
	ScanError
)

// ScanEvent is one step of a lazy directory scan. Cursor is a listing
// continuation token: on ScanFile and ScanError events the token the
// current page was fetched with (a scan started from it repeats that
// page), on ScanProgress the token for the next page (a scan started
// from it resumes after the current page).
type ScanEvent struct {
	Kind   ScanEventKind
	Name   string // dir-qualified file name for ScanFile
	Err    error  // for ScanError
	Cursor string
}

// Scan pages through the files under dir, emitting a ScanFile event per
// entry and a ScanProgress tick per page. Names matching an ignore
// pattern are skipped. The emit callback returns false to stop.
func Scan(ctx context.Context, st storage.Storage, dir, cursor string, ignore []string, emit func(ScanEvent) bool) error {
	for {
		res, err := st.ListFiles(ctx, dir, 1000, cursor)
		if err != nil {
			if !emit(ScanEvent{Kind: ScanError, Err: err, Cursor: cursor}) {
				return nil
			}
			return err
		}
		for _, name := range res.Names {
			if ignored(name, ignore) {
				continue
			}
			full := name
			if dir != "" && dir != "." {
				full = dir + "/" + name
			}
			if !emit(ScanEvent{Kind: ScanFile, Name: full, Cursor: cursor}) {
				return nil
			}
		}
		if !emit(ScanEvent{Kind: ScanProgress, Cursor: res.Next}) {
			return nil
		}
		if res.Next == "" {
			return nil
		}
		cursor = res.Next
	}
}

func ignored(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func mustDecodeHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
