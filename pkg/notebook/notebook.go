// Package notebook reads and writes notebook documents: a JSON array of cells.
package notebook

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	pkgerrors "github.com/TFMV/quire/pkg/errors"
)

// Extension is the file extension of notebook documents.
const Extension = ".qnb"

// DefaultLanguage is the language of cells that do not name one.
const DefaultLanguage = "sql"

// CellKind matches the numeric cell kinds of the editor format.
type CellKind int

const (
	CellMarkup CellKind = 1
	CellCode   CellKind = 2
)

func (k CellKind) String() string {
	switch k {
	case CellMarkup:
		return "markup"
	case CellCode:
		return "code"
	default:
		return "unknown"
	}
}

// Cell is one notebook cell. Language and Metadata are kept exactly as
// written; Metadata stays raw so numbers keep their precision.
type Cell struct {
	Kind     CellKind        `json:"kind"`
	Language string          `json:"language"`
	Value    string          `json:"value"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// IsCode reports whether the cell holds a query.
func (c Cell) IsCode() bool { return c.Kind == CellCode }

// Lang returns the cell language, DefaultLanguage when none is set.
func (c Cell) Lang() string {
	if c.Language == "" {
		return DefaultLanguage
	}
	return c.Language
}

// Notebook is an open document. ID is assigned when the document is opened
// and is not serialized.
type Notebook struct {
	ID    string
	Path  string
	Cells []Cell
}

// New returns an empty notebook with a fresh ID.
func New() *Notebook {
	return &Notebook{ID: uuid.NewString(), Cells: []Cell{}}
}

// Deserialize decodes content. Malformed content yields an empty notebook.
func Deserialize(content []byte) *Notebook {
	nb := New()
	if len(strings.TrimSpace(string(content))) == 0 {
		return nb
	}

	var cells []Cell
	if err := json.Unmarshal(content, &cells); err != nil || cells == nil {
		return nb
	}
	nb.Cells = cells
	return nb
}

// Serialize encodes the cells.
func Serialize(nb *Notebook) ([]byte, error) {
	cells := nb.Cells
	if cells == nil {
		cells = []Cell{}
	}
	data, err := json.Marshal(cells)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to serialize notebook")
	}
	return data, nil
}

// Open reads the document at path. The notebook's Path is absolute and serves
// as the document identity.
func Open(path string) (*Notebook, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.CodeInvalidRequest, "invalid notebook path %q", path)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.CodeInvalidRequest, "failed to read notebook %q", path)
	}
	nb := Deserialize(content)
	nb.Path = abs
	return nb, nil
}

// Save writes nb to its Path.
func Save(nb *Notebook) error {
	if nb.Path == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "notebook has no path")
	}
	data, err := Serialize(nb)
	if err != nil {
		return err
	}
	if err := os.WriteFile(nb.Path, data, 0o644); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CodeInternal, "failed to write notebook %q", nb.Path)
	}
	return nil
}

// CodeCells returns the query text of every SQL code cell in document order.
func (nb *Notebook) CodeCells() []string {
	var cells []string
	for _, c := range nb.Cells {
		if c.IsCode() && c.Lang() == DefaultLanguage {
			cells = append(cells, c.Value)
		}
	}
	return cells
}
