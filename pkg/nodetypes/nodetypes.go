// Package nodetypes defines the node kinds stored in the build graph and the
// in-memory Entry that mirrors one row of the nodes table.
package nodetypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Type is the short code persisted in the nodes.type column.
type Type string

const (
	Source  Type = "src"
	Output  Type = "out"
	Mkdir   Type = "mkd"
	Group   Type = "grp"
	Command Type = "cmd"
	Cxx     Type = "cxx"
	Copy    Type = "cp"
	Symlink Type = "ln"
)

// Dirty states for nodes.dirty.
const (
	Clean      = 0
	KnownDirty = 1
)

// IsCommand reports whether nodes of this type are executed by a worker.
func (t Type) IsCommand() bool {
	switch t {
	case Command, Cxx, Copy, Symlink:
		return true
	}
	return false
}

// IsFile reports whether nodes of this type refer to a file on disk.
func (t Type) IsFile() bool {
	return t == Source || t == Output
}

// Data is the payload of a command node.
type Data struct {
	Argv     []string `json:"argv,omitempty"`
	Behavior string   `json:"behavior,omitempty"` // "gcc" or "msvc" for Cxx nodes
	Source   string   `json:"source,omitempty"`   // Copy/Symlink
	Dest     string   `json:"dest,omitempty"`     // Copy/Symlink, relative to the folder
}

// Encode serializes the payload for the data blob column. A nil payload
// encodes to nil.
func (d *Data) Encode() ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// DecodeData parses a data blob. An empty blob yields nil.
func DecodeData(blob []byte) (*Data, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var d Data
	if err := json.Unmarshal(blob, &d); err != nil {
		return nil, fmt.Errorf("decode command data: %w", err)
	}
	return &d, nil
}

// Equal compares two payloads by their encoded form.
func (d *Data) Equal(other *Data) bool {
	a, errA := d.Encode()
	b, errB := other.Encode()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Entry is a node loaded from the graph database.
type Entry struct {
	ID        int64
	Type      Type
	Path      string
	Data      *Data
	Folder    *Entry
	Stamp     float64
	Hash      string
	Dirty     int
	Generated bool

	// Edge sets, populated lazily by the database.
	StrongInputs  map[*Entry]struct{}
	WeakInputs    map[*Entry]struct{}
	DynamicInputs map[*Entry]struct{}
	Outgoing      map[*Entry]struct{}
}

// IsCommand reports whether the entry is executed by a worker.
func (e *Entry) IsCommand() bool {
	return e.Type.IsCommand()
}

// IsDirty reports whether the entry is marked dirty.
func (e *Entry) IsDirty() bool {
	return e.Dirty != Clean
}

// FolderPath returns the build-relative folder of the entry, "" for the root.
func (e *Entry) FolderPath() string {
	if e.Folder == nil {
		return ""
	}
	return e.Folder.Path
}

// Format renders the entry the way build output and graph dumps show it.
func (e *Entry) Format() string {
	switch e.Type {
	case Cxx:
		if e.Data == nil {
			return "[cxx]"
		}
		return "[" + e.Data.Behavior + "] -> " + strings.Join(e.Data.Argv, " ")
	case Command:
		if e.Data == nil {
			return ""
		}
		return strings.Join(e.Data.Argv, " ")
	case Copy:
		return "cp \"" + e.Data.Source + "\" \"" + e.Data.Dest + "\""
	case Symlink:
		return "ln -s \"" + e.Data.Source + "\" \"" + e.Data.Dest + "\""
	case Mkdir:
		return "mkdir -p \"" + e.Path + "\""
	case Group:
		return "group \"" + strings.TrimPrefix(e.Path, GroupPrefix) + "\""
	default:
		return e.Path
	}
}

// GroupPrefix is prepended to group names to form their node path.
const GroupPrefix = "//group/./"

// AddInput records from as an input of e in the given set, allocating it.
func AddInput(set *map[*Entry]struct{}, from *Entry) {
	if *set == nil {
		*set = make(map[*Entry]struct{})
	}
	(*set)[from] = struct{}{}
}
