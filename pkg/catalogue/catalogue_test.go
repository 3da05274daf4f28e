package catalogue

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/pvmux/pvmux-go/pkg/ca"
	"github.com/pvmux/pvmux-go/pkg/fault"
)

func TestParseSkipsMalformedLines(t *testing.T) {
	src := `
# register map
/A/x   PV:X
/B/y   PV:Y   extra

/C/z	PV:Z
`
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	c, err := Parse(strings.NewReader(src), "test.map", logger)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if got := c.Channels(); !slices.Equal(got, []string{"PV:X", "PV:Z"}) {
		t.Errorf("Channels() = %v, want [PV:X PV:Z]", got)
	}
	if !strings.Contains(logBuf.String(), "line=4") {
		t.Errorf("malformed line not logged with its number: %s", logBuf.String())
	}

	r, err := c.Get("A/x")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if r.Channel != "PV:X" || r.Path != "/A/x" {
		t.Errorf("Get() = %+v", r)
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(strings.NewReader("only-one-token\n\n"), "empty.map", nil)
	if !errors.Is(err, ErrEmptyCatalogue) {
		t.Errorf("Parse() error = %v, want ErrEmptyCatalogue", err)
	}
	if !fault.IsRuntime(err) {
		t.Error("empty catalogue should be a runtime error")
	}
}

func TestDuplicatesAndSharedChannels(t *testing.T) {
	src := "/a PV:1\n//a/ PV:2\n/b PV:1\n"
	c, err := Parse(strings.NewReader(src), "dup.map", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if got := c.Channels(); !slices.Equal(got, []string{"PV:1"}) {
		t.Errorf("Channels() = %v, want [PV:1]", got)
	}

	if n := c.Remove("PV:1"); n != 2 {
		t.Errorf("Remove() = %d, want 2", n)
	}
	if _, err := c.Get("/a"); !errors.Is(err, ErrUnknownRegister) {
		t.Errorf("Get() after Remove error = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.map")
	if err := os.WriteFile(path, []byte("/temp SIM:TEMP\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.map"), nil); !errors.Is(err, ErrMapFile) {
		t.Errorf("LoadFile(missing) error = %v, want ErrMapFile", err)
	}
}

func TestUpdate(t *testing.T) {
	c := New()
	c.Add("/d", "PV:D")
	c.Add("/s", "PV:S")

	c.Update("PV:D", ChannelInfo{Elements: 4, Type: ca.FieldDouble, Readable: true}, nil)
	c.Update("PV:S", ChannelInfo{Elements: 1, Type: ca.FieldType(12), Readable: true, Writable: true}, nil)

	d, _ := c.Get("/d")
	if !d.Configured || !d.Usable || d.Elements != 4 || d.Writable {
		t.Errorf("register /d = %+v", d)
	}
	if d.Descriptor.Fundamental != FundamentalNumeric || d.Descriptor.Integral {
		t.Errorf("descriptor = %+v, want non-integral numeric", d.Descriptor)
	}
	if !d.Modes.Has(AccessWaitForNewData) {
		t.Error("configured register should support wait_for_new_data")
	}

	s, _ := c.Get("/s")
	if s.Usable {
		t.Error("register with unknown type should be unusable")
	}

	var paths []string
	for r := range c.All() {
		paths = append(paths, r.Path)
	}
	if !slices.Equal(paths, []string{"/d", "/s"}) {
		t.Errorf("All() = %v", paths)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"a/b":    "/a/b",
		"/a//b/": "/a/b",
		"":       "/",
		"///":    "/",
	}
	for in, want := range tests {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAccessModes(t *testing.T) {
	m := Modes(AccessWaitForNewData, AccessRaw)
	if !m.Has(AccessRaw) || m.Without(AccessRaw).Has(AccessRaw) {
		t.Error("Has/Without mismatch")
	}
	if m.String() != "wait_for_new_data,raw" {
		t.Errorf("String() = %q", m.String())
	}
}
