// Package storage はジョブごとの作業ディレクトリ（in/out）を管理します。
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const lockFilename = ".lock"

// ErrLocked は作業ディレクトリが別プロセスに使用されている場合のエラーです。
var ErrLocked = errors.New("work directory is locked by another process")

// Local はローカルファイルシステム上の作業領域です。
// 保存先: <root>/<workspaceID>/in|out/
type Local struct {
	root string
	lock *flock.Flock

	mu     sync.Mutex
	active map[string]*Workspace
	closed bool
}

// Open は root を排他ロックし、前回の実行で残った作業ディレクトリを掃除します。
func Open(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("storage root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}

	lock := flock.New(filepath.Join(root, lockFilename))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	l := &Local{
		root:   root,
		lock:   lock,
		active: make(map[string]*Workspace),
	}
	if _, err := l.sweep(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return l, nil
}

// Root は作業ディレクトリのルートを返します。
func (l *Local) Root() string {
	return l.root
}

// Create は新しいワークスペースを作成します。
func (l *Local) Create() (*Workspace, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New("storage is closed")
	}

	id := uuid.NewString()
	dir := filepath.Join(l.root, id)
	ws := &Workspace{
		ID:     id,
		Dir:    dir,
		InDir:  filepath.Join(dir, "in"),
		OutDir: filepath.Join(dir, "out"),
		owner:  l,
	}
	for _, d := range []string{ws.InDir, ws.OutDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
		}
	}
	l.active[id] = ws
	return ws, nil
}

// Active は未解放のワークスペース数を返します。
func (l *Local) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Close は残っている全ワークスペースを削除し、ロックを解放します。
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	remaining := make([]*Workspace, 0, len(l.active))
	for _, ws := range l.active {
		remaining = append(remaining, ws)
	}
	l.mu.Unlock()

	var errs []error
	for _, ws := range remaining {
		if err := ws.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	return errors.Join(errs...)
}

// sweep はロック取得直後に呼ばれ、ルート直下の古いワークスペースを削除します。
// Create が作る UUID 名のディレクトリ以外には触れません。
func (l *Local) sweep() (int, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return 0, fmt.Errorf("作業ディレクトリの読み込みに失敗しました: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		if err := os.RemoveAll(filepath.Join(l.root, entry.Name())); err != nil {
			return removed, fmt.Errorf("古いワークスペースの削除に失敗しました: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (l *Local) forget(id string) {
	l.mu.Lock()
	delete(l.active, id)
	l.mu.Unlock()
}

// Workspace は1ジョブ分の作業ディレクトリです。
type Workspace struct {
	ID     string
	Dir    string
	InDir  string
	OutDir string

	owner *Local

	inputOnce   sync.Once
	inputErr    error
	releaseOnce sync.Once
	releaseErr  error
}

// ReleaseInput は入力ファイル（in/）だけを削除します。複数回呼んでも安全です。
func (w *Workspace) ReleaseInput() error {
	w.inputOnce.Do(func() {
		w.inputErr = removeDir(w.InDir)
	})
	return w.inputErr
}

// Release はワークスペース全体を削除します。複数回呼んでも安全です。
func (w *Workspace) Release() error {
	w.releaseOnce.Do(func() {
		w.releaseErr = removeDir(w.Dir)
		if w.owner != nil {
			w.owner.forget(w.ID)
		}
	})
	return w.releaseErr
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ディレクトリの削除に失敗しました: %w", err)
	}
	return nil
}
