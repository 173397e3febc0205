package picker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "emails.CSV")
	txtPath := filepath.Join(dir, "notes.txt")
	for _, p := range []string{csvPath, txtPath} {
		if err := os.WriteFile(p, []byte("text,label\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := Validate(csvPath); err != nil {
		t.Errorf("Validate(csv): %v", err)
	}
	if err := Validate(txtPath); err == nil {
		t.Error("expected error for .txt file")
	}
	if err := Validate(dir); err == nil {
		t.Error("expected error for directory")
	}
	if err := Validate(filepath.Join(dir, "missing.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
	if err := Validate(""); !errors.Is(err, ErrNoFileSelected) {
		t.Errorf("err = %v, want ErrNoFileSelected", err)
	}
}

func TestQuitWithoutSelection(t *testing.T) {
	m := newModel(t.TempDir())
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
	if next.(model).selected != "" {
		t.Error("quitting selected a file")
	}
}

func TestView(t *testing.T) {
	dir := t.TempDir()
	out := newModel(dir).View()
	if !strings.Contains(out, "Select the email dataset") || !strings.Contains(out, dir) {
		t.Errorf("view = %q", out)
	}
}
