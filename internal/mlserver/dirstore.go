package mlserver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DirStore keeps records as JSON files in storage directory using
// <dir>/<project>/<revision>/<name>.json layout
type DirStore struct {
	Dir string
}

// NewDirStore creates store within given directory
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DirStore{Dir: dir}, nil
}

// helper function to build path from validated path components
func (d *DirStore) path(parts ...string) (string, error) {
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", errors.Errorf("invalid path component %q", p)
		}
	}
	return filepath.Join(append([]string{d.Dir}, parts...)...), nil
}

// Insert implements Store
func (d *DirStore) Insert(rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	fname, err := d.path(rec.Project, rec.Revision, rec.Name+".json")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(fname, data, 0644)
}

// Revisions implements Store
func (d *DirStore) Revisions(project string) ([]string, error) {
	dir, err := d.path(project)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Machines implements Store
func (d *DirStore) Machines(project, revision string) ([]Record, error) {
	dir, err := d.path(project, revision)
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	var out []Record
	for _, fname := range files {
		rec, err := readRecord(fname)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Machine implements Store
func (d *DirStore) Machine(project, revision, name string) (*Record, error) {
	fname, err := d.path(project, revision, name+".json")
	if err != nil {
		return nil, errors.Wrap(ErrRecordNotFound, err.Error())
	}
	rec, err := readRecord(fname)
	if os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrapf(ErrRecordNotFound, "machine %s of %s/%s", name, project, revision)
	}
	return rec, err
}

func readRecord(fname string) (*Record, error) {
	data, err := os.ReadFile(filepath.Clean(fname))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "unable to parse %s", fname)
	}
	return &rec, nil
}
