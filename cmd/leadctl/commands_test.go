package main

import (
	"bytes"
	"encoding/json"
	"testing"
)

func runCLI(t *testing.T, args ...string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("leadctl %v: %v", args, err)
	}
	return buf.Bytes()
}

func TestSchedulePreview(t *testing.T) {
	out := runCLI(t, "schedule", "preview", "--count", "6", "--immediate", "2", "--seed", "7")

	var got struct {
		Base     float64 `json:"base_interval_minutes"`
		Releases []struct {
			Index     int     `json:"index"`
			OffsetMin float64 `json:"offset_minutes"`
		} `json:"releases"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if got.Base != 30 {
		t.Fatalf("expected base 30 for 4 dripped leads, got %v", got.Base)
	}
	if len(got.Releases) != 6 {
		t.Fatalf("expected 6 releases, got %d", len(got.Releases))
	}
	for i := 0; i < 2; i++ {
		if got.Releases[i].OffsetMin != 0 {
			t.Fatalf("release %d should be immediate, got %v", i, got.Releases[i].OffsetMin)
		}
	}
	first := got.Releases[2].OffsetMin
	if first < 21 || first > 39 {
		t.Fatalf("first dripped offset %v outside [21, 39]", first)
	}
	for i := 3; i < 6; i++ {
		if got.Releases[i].OffsetMin <= got.Releases[i-1].OffsetMin {
			t.Fatalf("offsets must increase at %d", i)
		}
	}
}

func TestSchedulePreviewEmptyBatch(t *testing.T) {
	out := runCLI(t, "schedule", "preview", "--count", "0", "--immediate", "0", "--seed", "1")
	var got struct {
		Releases []json.RawMessage `json:"releases"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(got.Releases) != 0 {
		t.Fatalf("expected no releases, got %d", len(got.Releases))
	}
}

func TestSweepOnceRequiresFlags(t *testing.T) {
	rootCmd.SetOut(new(bytes.Buffer))
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs([]string{"sweep", "once"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected missing flag error")
	}
}
