// Package label renders pickup labels for order records and stores them.
package label

import (
	"bytes"
	_ "embed"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"fishfry/internal/order"
)

//go:embed label.tmpl
var labelTemplate string

var ErrNotFound = errors.New("label: blob not found")

// Artifact is one rendered label.
type Artifact struct {
	Data        []byte
	ContentType string
	Ext         string
}

type Renderer interface {
	Render(r *order.Record) (Artifact, error)
}

type line struct {
	Name string
	Qty  int64
}

// TextRenderer prints a plain-text label with the counters in menu order.
type TextRenderer struct {
	tmpl     *template.Template
	counters []string
}

func NewTextRenderer(menu order.Menu) *TextRenderer {
	return &TextRenderer{
		tmpl:     template.Must(template.New("label").Parse(labelTemplate)),
		counters: menu.Counters,
	}
}

func (t *TextRenderer) Render(r *order.Record) (Artifact, error) {
	data := struct {
		*order.Record
		Lines []line
	}{Record: r}
	for _, c := range t.counters {
		data.Lines = append(data.Lines, line{Name: c, Qty: r.Counts[c]})
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return Artifact{}, errors.Wrap(err, "render label")
	}
	return Artifact{Data: buf.Bytes(), ContentType: "text/plain; charset=utf-8", Ext: ".txt"}, nil
}

var nameJunk = strings.NewReplacer("/", "-", "\\", "-")

// ObjectName is where an order's label is stored:
// "<event>/<last name> - <reference number><ext>".
func ObjectName(event string, r *order.Record, ext string) string {
	return event + "/" + nameJunk.Replace(r.LastName) + " - " + nameJunk.Replace(r.ReferenceNumber) + ext
}

type BlobStore interface {
	// Put stores data under name, replacing any previous object, and
	// returns the URL it can be read back from.
	Put(name string, data []byte, contentType string) (string, error)
	Get(url string) ([]byte, error)
}

// FilesystemBlobStore keeps labels under a directory and hands out file://
// URLs.
type FilesystemBlobStore struct {
	dir string
}

func NewFilesystemBlobStore(dir string) (*FilesystemBlobStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "blob dir")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir")
	}
	return &FilesystemBlobStore{dir: abs}, nil
}

func (f *FilesystemBlobStore) Put(name string, data []byte, _ string) (string, error) {
	path := filepath.Join(f.dir, filepath.FromSlash(name))
	if !strings.HasPrefix(path, f.dir+string(filepath.Separator)) {
		return "", errors.Errorf("label: object name %q escapes blob dir", name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "mkdir")
	}
	if err := os.WriteFile(path+".tmp", data, 0o644); err != nil {
		return "", errors.Wrap(err, "write")
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return "", errors.Wrap(err, "rename")
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String(), nil
}

func (f *FilesystemBlobStore) Get(rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" {
		return nil, errors.Errorf("label: not a file url: %q", rawURL)
	}
	path := filepath.FromSlash(u.Path)
	if !strings.HasPrefix(path, f.dir+string(filepath.Separator)) {
		return nil, errors.Errorf("label: %q is outside the blob dir", rawURL)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, rawURL)
	}
	return data, errors.Wrap(err, "read label")
}
