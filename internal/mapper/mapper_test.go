package mapper

import (
	"errors"
	"testing"
)

func TestResolveAfterCommit(t *testing.T) {
	m := New()
	if err := m.Add("tenants_tenants", "id", int64(7), int64(42)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	m.Commit("tenants_tenants", "id")

	got, err := m.Resolve("tenants_tenants", "id", int32(7))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != int64(42) {
		t.Errorf("Resolve() = %v; want 42", got)
	}
}

func TestResolveBeforeCommit(t *testing.T) {
	m := New()
	_ = m.Add("files_file", "id", 1, 100)

	_, err := m.Resolve("files_file", "id", 1)
	if !errors.Is(err, ErrNotCommitted) {
		t.Errorf("Resolve() error = %v; want ErrNotCommitted", err)
	}
}

func TestResolveUnmapped(t *testing.T) {
	m := New()
	m.Commit("files_folder", "id")

	_, err := m.Resolve("files_folder", "id", 3)
	if !errors.Is(err, ErrUnmapped) {
		t.Errorf("Resolve() error = %v; want ErrUnmapped", err)
	}
}

func TestAddAfterCommit(t *testing.T) {
	m := New()
	m.Commit("files_folder", "id")

	err := m.Add("files_folder", "id", 1, 2)
	if !errors.Is(err, ErrCommitted) {
		t.Errorf("Add() error = %v; want ErrCommitted", err)
	}
	if m.Len("files_folder", "id") != 0 {
		t.Errorf("Len() = %d; want 0", m.Len("files_folder", "id"))
	}
}

func TestKeysDistinguishTextFromNumbers(t *testing.T) {
	m := New()
	_ = m.Add("core_user", "id", "5", "a")
	_ = m.Add("core_user", "id", 5, "b")
	m.Commit("core_user", "id")

	text, _ := m.Resolve("core_user", "id", "5")
	num, _ := m.Resolve("core_user", "id", int64(5))
	if text != "a" || num != "b" {
		t.Errorf("Resolve() = %v, %v; want a, b", text, num)
	}
}
