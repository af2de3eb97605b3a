package backup

import (
	"fmt"
	"net/url"
	"path/filepath"
)

type Kind string

const (
	KindPostgres  Kind = "postgres"
	KindMongoDB   Kind = "mongodb"
	KindDirectory Kind = "directory"
	KindFile      Kind = "file"
)

// Unit is one configured source captured per run. The variants are
// PostgresUnit, MongoUnit, DirectoryUnit and FileUnit.
type Unit interface {
	Kind() Kind
	// String describes the unit without credentials.
	String() string

	unit()
}

type PostgresUnit struct {
	URI string
}

type MongoUnit struct {
	URI string
}

// DirectoryUnit is captured as <Name>.tar.gz.
type DirectoryUnit struct {
	Path string
	Name string
}

// FileUnit is captured as a copy named Name.
type FileUnit struct {
	Path string
	Name string
}

func (PostgresUnit) Kind() Kind  { return KindPostgres }
func (MongoUnit) Kind() Kind     { return KindMongoDB }
func (DirectoryUnit) Kind() Kind { return KindDirectory }
func (FileUnit) Kind() Kind      { return KindFile }

func (u PostgresUnit) String() string  { return "postgres " + redactURI(u.URI) }
func (u MongoUnit) String() string     { return "mongodb " + redactURI(u.URI) }
func (u DirectoryUnit) String() string { return fmt.Sprintf("directory %s as %s", u.Path, u.Name) }
func (u FileUnit) String() string      { return fmt.Sprintf("file %s as %s", u.Path, u.Name) }

func (PostgresUnit) unit()  {}
func (MongoUnit) unit()     {}
func (DirectoryUnit) unit() {}
func (FileUnit) unit()      {}

// Mount is a path and the name it is stored under.
type Mount struct {
	Path string
	Name string
}

// ParseMount splits "path:name" at the last colon. Without a name the base
// name of the path is used.
func ParseMount(spec string) (Mount, error) {
	path, name := spec, ""
	for i := len(spec) - 1; i >= 0; i-- {
		if spec[i] == ':' {
			path, name = spec[:i], spec[i+1:]
			break
		}
		if spec[i] == '/' {
			break
		}
	}
	if path == "" {
		return Mount{}, fmt.Errorf("empty path in %q", spec)
	}
	if name == "" {
		name = filepath.Base(filepath.Clean(path))
	}
	if name == "." || name == "/" || name == ".." || filepath.Base(name) != name {
		return Mount{}, fmt.Errorf("invalid name %q in %q", name, spec)
	}
	return Mount{Path: path, Name: name}, nil
}

// Units lists the configured sources in collection order: databases first,
// then directories, then files.
func Units(postgres, mongo []string, dirs, files []Mount) []Unit {
	units := make([]Unit, 0, len(postgres)+len(mongo)+len(dirs)+len(files))
	for _, uri := range postgres {
		units = append(units, PostgresUnit{URI: uri})
	}
	for _, uri := range mongo {
		units = append(units, MongoUnit{URI: uri})
	}
	for _, d := range dirs {
		units = append(units, DirectoryUnit(d))
	}
	for _, f := range files {
		units = append(units, FileUnit(f))
	}
	return units
}

func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<unparseable uri>"
	}
	return u.Redacted()
}
