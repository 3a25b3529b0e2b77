package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"dsload/internal/datasource"
)

func mkDataset(t *testing.T, base, dataset string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(base, dataset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestDirList_LexicographicAndFiltered(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dir := mkDataset(t, base, "orders", map[string]string{
		"part-00002": "3,x\n",
		"part-00000": "1,x\n",
		"part-00001": "2,x\n",
		"_SUCCESS":   "",
		"README.md":  "notes",
	})
	if err := os.Mkdir(filepath.Join(dir, "part-dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := NewDir(base, "part-*").List(context.Background(), "orders")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{
		filepath.Join(dir, "part-00000"),
		filepath.Join(dir, "part-00001"),
		filepath.Join(dir, "part-00002"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
}

func TestDirList_EmptyPatternMatchesAll(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	mkDataset(t, base, "d", map[string]string{"b.csv": "", "a.csv": ""})

	got, err := NewDir(base, "").List(context.Background(), "d")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || filepath.Base(got[0]) != "a.csv" || filepath.Base(got[1]) != "b.csv" {
		t.Fatalf("List = %v, want [a.csv b.csv]", got)
	}
}

func TestDirList_Errors(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	mkDataset(t, base, "empty", map[string]string{"_SUCCESS": ""})
	if err := os.WriteFile(filepath.Join(base, "plainfile"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := []struct {
		name    string
		dataset string
		want    error
	}{
		{"missing_directory", "missing_dataset", datasource.ErrDatasetDirNotFound},
		{"not_a_directory", "plainfile", datasource.ErrDatasetDirNotFound},
		{"no_matching_files", "empty", datasource.ErrNoFiles},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := NewDir(base, "part-*").List(context.Background(), tc.dataset)
			if !errors.Is(err, tc.want) {
				t.Fatalf("List(%q) err = %v, want %v", tc.dataset, err, tc.want)
			}
			if got != nil {
				t.Fatalf("List(%q) returned %v alongside error", tc.dataset, got)
			}
		})
	}
}

func TestDirList_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDir(t.TempDir(), "*").List(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDirOpen_ReadsListedFile(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	mkDataset(t, base, "orders", map[string]string{"part-00000": "1,2024-01-01\n"})

	d := NewDir(base, "part-*")
	paths, err := d.List(context.Background(), "orders")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	rc, err := d.Open(context.Background(), paths[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(b) != "1,2024-01-01\n" {
		t.Fatalf("content = %q", b)
	}
}
