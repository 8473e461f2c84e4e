package kvstore

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DumpFileName builds a dump-file name of the form
// "binlog-<timestamp>-<seq>-<ext>" — three hyphen-delimited fields, the
// second of which (between the 2nd and 3rd hyphen) is the file sequence
// the core parses back out in MaxDumpFileSeq. See spec.md §4.6.
func DumpFileName(timestamp int64, seq uint32) string {
	return fmt.Sprintf("binlog-%d-%d-log", timestamp, seq)
}

// StoreDumpDir returns <dumpPath>/<storeId>/, creating it if missing.
func StoreDumpDir(dumpPath string, storeID int) (string, error) {
	dir := filepath.Join(dumpPath, strconv.Itoa(storeID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump dir %s: %w", dir, err)
	}
	return dir, nil
}

// MaxDumpFileSeq scans <dumpPath>/<storeId>/ and returns the highest file
// sequence found among files named "binlog-...-...-...". Non-regular
// entries and names not beginning with "binlog" are skipped with a log
// line. A parse failure, or a sequence number >= 2^32, is a fatal error for
// that store's startup (spec.md §4.6).
func MaxDumpFileSeq(dumpPath string, storeID int) (uint32, error) {
	dir, err := StoreDumpDir(dumpPath, storeID)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dump dir %s: %w", dir, err)
	}

	var maxSeq uint32
	for _, ent := range entries {
		if ent.IsDir() || !ent.Type().IsRegular() {
			log.Printf("replication: maxDumpFileSeq ignoring non-regular entry %s", ent.Name())
			continue
		}
		if !strings.HasPrefix(ent.Name(), "binlog") {
			log.Printf("replication: maxDumpFileSeq ignoring %s", ent.Name())
			continue
		}

		seq, err := parseDumpFileSeq(ent.Name())
		if err != nil {
			return 0, fmt.Errorf("store %d: parse dump file %s: %w", storeID, ent.Name(), err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}

	return maxSeq, nil
}

// parseDumpFileSeq extracts the numeric field between the 2nd and 3rd
// hyphen of name, e.g. "binlog-1700000000-7-log" -> 7.
func parseDumpFileSeq(name string) (uint32, error) {
	parts := strings.Split(name, "-")
	if len(parts) < 3 {
		return 0, fmt.Errorf("malformed dump file name %q", name)
	}
	n, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence in %q: %w", name, err)
	}
	if n > math.MaxUint32 {
		return 0, fmt.Errorf("sequence %d in %q exceeds uint32", n, name)
	}
	return uint32(n), nil
}

// OpenDumpFile creates the dump file for the given sequence under the
// store's dump directory, or opens it for appending if it already exists,
// ready to receive archived binlog records from TruncateBinlogV2.
func OpenDumpFile(dumpPath string, storeID int, timestamp int64, seq uint32) (*os.File, error) {
	dir, err := StoreDumpDir(dumpPath, storeID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, DumpFileName(timestamp, seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dump file %s: %w", path, err)
	}
	return f, nil
}
