// Package attachment decodes inline file payloads and writes them to local
// disk under generated names.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/nexus-chat-server/internal/errs"
)

// Payload is an inline file as sent by clients: the original file name and
// the body, usually a data URL ("data:image/png;base64,....").
type Payload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// Empty reports whether the payload carries no body.
func (p *Payload) Empty() bool {
	return p == nil || p.Data == ""
}

// DiskStore writes attachments into a single directory.
type DiskStore struct {
	dir string
	now func() time.Time
}

// NewDiskStore creates dir if needed and returns a store rooted there.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, now: time.Now}, nil
}

// Dir returns the directory attachments are written to.
func (s *DiskStore) Dir() string { return s.dir }

// Store decodes p and writes it under a fresh name, which it returns.
// The write has completed (file closed) when Store returns nil.
// Every failure wraps errs.ErrAttachment.
func (s *DiskStore) Store(p Payload) (string, error) {
	body, err := Decode(p.Data)
	if err != nil {
		return "", err
	}

	name := s.newName(p.Name)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %v: %w", name, err, errs.ErrAttachment)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write %s: %v: %w", name, err, errs.ErrAttachment)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close %s: %v: %w", name, err, errs.ErrAttachment)
	}
	return name, nil
}

// newName builds "<unix millis>-<random>.<ext>".
func (s *DiskStore) newName(original string) string {
	name := strconv.FormatInt(s.now().UnixMilli(), 10) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if ext := Extension(original); ext != "" {
		name += "." + ext
	}
	return name
}

// Extension returns the part of name after its last dot, restricted to a
// safe character set; "" when there is none.
func Extension(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(filepath.Base(name)), ".")
	if ext == "" || len(ext) > 16 {
		return ""
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}

// Decode returns the bytes of a data URL or a bare base64 string.
func Decode(data string) ([]byte, error) {
	if data == "" {
		return nil, fmt.Errorf("empty payload: %w", errs.ErrAttachment)
	}
	encoded := data
	if strings.HasPrefix(data, "data:") {
		i := strings.IndexByte(data, ',')
		if i < 0 {
			return nil, fmt.Errorf("data url without body: %w", errs.ErrAttachment)
		}
		encoded = data[i+1:]
	}
	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		var corrupt base64.CorruptInputError
		if errors.As(err, &corrupt) {
			return nil, fmt.Errorf("decode at byte %d: %w", int64(corrupt), errs.ErrAttachment)
		}
		return nil, fmt.Errorf("decode: %v: %w", err, errs.ErrAttachment)
	}
	return body, nil
}
