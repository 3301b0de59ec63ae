package credential

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"financial-advisor/client/internal/credential/repository"
	"financial-advisor/client/internal/db"
)

type failingRepo struct {
	mu    sync.Mutex
	calls int
}

var errStorage = errors.New("disk on fire")

func (f *failingRepo) Get(ctx context.Context, slot string) (string, bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return "", false, errStorage
}
func (f *failingRepo) Put(ctx context.Context, slot, value string) error { return errStorage }
func (f *failingRepo) Delete(ctx context.Context, slot string) error     { return errStorage }

func TestStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s := NewStore(repository.NewMemoryRepository(), "", nil)

	if _, ok := s.Load(ctx); ok {
		t.Fatal("Load on empty store should report none")
	}
	if err := s.Save(ctx, "tok"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if tok, ok := s.Load(ctx); !ok || tok != "tok" {
		t.Fatalf("Load = %q, %v; want tok", tok, ok)
	}
	if err := s.Save(ctx, "tok-2"); err != nil {
		t.Fatalf("Save replace: %v", err)
	}
	if tok, _ := s.Load(ctx); tok != "tok-2" {
		t.Errorf("Load after replace = %q, want tok-2", tok)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear should be idempotent: %v", err)
	}
	if _, ok := s.Load(ctx); ok {
		t.Error("Load after Clear should report none")
	}
}

func TestStore_SaveRejectsEmpty(t *testing.T) {
	s := NewStore(repository.NewMemoryRepository(), "", nil)
	for _, tok := range []string{"", "  ", "\n"} {
		if err := s.Save(context.Background(), tok); !errors.Is(err, ErrEmptyToken) {
			t.Errorf("Save(%q) = %v, want ErrEmptyToken", tok, err)
		}
	}
}

func TestStore_LoadNeverFails(t *testing.T) {
	repo := &failingRepo{}
	s := NewStore(repo, "slot", nil)
	tok, ok := s.Load(context.Background())
	if ok || tok != "" {
		t.Errorf("Load with failing repo = %q, %v; want none", tok, ok)
	}
	if repo.calls != 1 {
		t.Errorf("repo.Get calls = %d, want 1", repo.calls)
	}
	if err := s.Save(context.Background(), "tok"); !errors.Is(err, errStorage) {
		t.Errorf("Save error = %v, want storage error", err)
	}
}

func TestStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.db")

	open := func() (*Store, func()) {
		conn, err := db.OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		repo, err := repository.NewSQLiteRepository(ctx, conn)
		if err != nil {
			t.Fatalf("NewSQLiteRepository: %v", err)
		}
		return NewStore(repo, DefaultSlot, nil), func() { conn.Close() }
	}

	first, closeFirst := open()
	if err := first.Save(ctx, "survivor"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	closeFirst()

	second, closeSecond := open()
	defer closeSecond()
	if tok, ok := second.Load(ctx); !ok || tok != "survivor" {
		t.Errorf("Load after restart = %q, %v; want survivor", tok, ok)
	}
}
