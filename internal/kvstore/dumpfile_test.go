package kvstore

import (
	"testing"
)

func TestMaxDumpFileSeqAcrossRotations(t *testing.T) {
	dir := t.TempDir()

	for _, seq := range []uint32{0, 1, 7, 3} {
		f, err := OpenDumpFile(dir, 0, 1700000000, seq)
		if err != nil {
			t.Fatalf("open dump file seq %d: %v", seq, err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("close dump file seq %d: %v", seq, err)
		}
	}

	got, err := MaxDumpFileSeq(dir, 0)
	if err != nil {
		t.Fatalf("max seq: %v", err)
	}
	if got != 7 {
		t.Errorf("expected max sequence 7, got %d", got)
	}
}

func TestMaxDumpFileSeqEmptyDir(t *testing.T) {
	dir := t.TempDir()

	got, err := MaxDumpFileSeq(dir, 3)
	if err != nil {
		t.Fatalf("max seq on empty dir: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0 for a store with no dump files yet, got %d", got)
	}
}

func TestDumpFileNameRoundTripsSeq(t *testing.T) {
	dir := t.TempDir()

	f, err := OpenDumpFile(dir, 2, 1700000001, 42)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := MaxDumpFileSeq(dir, 2)
	if err != nil {
		t.Fatalf("max seq: %v", err)
	}
	if got != 42 {
		t.Errorf("expected parsed sequence 42, got %d", got)
	}
}
