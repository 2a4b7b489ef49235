package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"
)

var (
	// ErrExists は同名のセグメントが既に存在する場合に返される
	ErrExists = errors.New("shared memory segment already exists")
	// ErrNotFound は指定した名前のセグメントが存在しない場合に返される
	ErrNotFound = errors.New("shared memory segment not found")
	// ErrClosed はデタッチ済みのハンドルを使った場合に返される
	ErrClosed = errors.New("shared memory segment is closed")
	// ErrNotOwner はオーナー以外がUnlinkしようとした場合に返される
	ErrNotOwner = errors.New("only the creating handle may unlink a segment")
	// ErrInvalidName は名前が空またはパス区切りを含む場合に返される
	ErrInvalidName = errors.New("invalid segment name")
	// ErrInvalidSize はサイズが正でない場合に返される
	ErrInvalidSize = errors.New("segment size must be positive")
)

// State はセグメントのライフサイクル状態
type State int

const (
	StateCreated State = iota
	StateAttached
	StateDetached
	StateUnlinked
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAttached:
		return "attached"
	case StateDetached:
		return "detached"
	case StateUnlinked:
		return "unlinked"
	default:
		return "unknown"
	}
}

// Segment は共有メモリセグメントへのハンドル
type Segment struct {
	name  string
	path  string
	size  int
	owner *Segment // Attachで得たハンドルの場合のみ非nil

	mu          sync.Mutex
	data        []byte
	detached    bool
	unlinked    bool
	attachments int
}

// registry は同一プロセス内のオーナーハンドルを名前で引く
var registry = struct {
	sync.Mutex
	owners map[string]*Segment
}{owners: make(map[string]*Segment)}

// Dir はセグメントファイルを置くディレクトリを返す
func Dir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func segmentPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(Dir(), name), nil
}

// Create は新しいセグメントを排他的に作成し、ゼロ埋めされた状態でマップする
func Create(name string, size int) (*Segment, error) {
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return nil, fmt.Errorf("failed to create segment %s: %w", name, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to size segment %s: %w", name, err)
	}

	data, err := mapFile(f, size)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to map segment %s: %w", name, err)
	}

	seg := &Segment{name: name, path: path, size: size, data: data}

	registry.Lock()
	registry.owners[name] = seg
	registry.Unlock()

	return seg, nil
}

// Attach は既存のセグメントを名前で開き、同じバイト列の別ビューをマップする
func Attach(name string) (*Segment, error) {
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open segment %s: %w", name, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat segment %s: %w", name, err)
	}
	size := int(fi.Size())
	if size <= 0 {
		return nil, fmt.Errorf("%w: segment %s has size %d", ErrInvalidSize, name, size)
	}

	data, err := mapFile(f, size)
	if err != nil {
		return nil, fmt.Errorf("failed to map segment %s: %w", name, err)
	}

	seg := &Segment{name: name, path: path, size: size, data: data}

	registry.Lock()
	if owner, ok := registry.owners[name]; ok {
		seg.owner = owner
		owner.mu.Lock()
		owner.attachments++
		owner.mu.Unlock()
	}
	registry.Unlock()

	return seg, nil
}

// Name はセグメント名を返す
func (s *Segment) Name() string {
	return s.name
}

// Path はセグメントのファイルパスを返す
func (s *Segment) Path() string {
	return s.path
}

// Size はセグメントのバイト数を返す
func (s *Segment) Size() int {
	return s.size
}

// IsOwner はこのハンドルがセグメントを作成したかを返す
func (s *Segment) IsOwner() bool {
	return s.owner == nil
}

// Bytes はマップされたバイト列を返す。デタッチ後はnil
func (s *Segment) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Int32s はマップされたバイト列をint32のスライスとして見たビューを返す
// コピーではなく、書き込みは他のハンドルからも見える。デタッチ後はnil
func (s *Segment) Int32s() []int32 {
	data := s.Bytes()
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(unsafe.SliceData(data))), len(data)/4)
}

// Attachments はオーナーに対して現在生きているAttachハンドル数を返す
func (s *Segment) Attachments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachments
}

// State はハンドルのライフサイクル状態を返す
func (s *Segment) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.unlinked:
		return StateUnlinked
	case s.detached:
		return StateDetached
	case s.attachments > 0:
		return StateAttached
	default:
		return StateCreated
	}
}

// Close はハンドルをデタッチ（munmap）する。複数回呼んでも安全
func (s *Segment) Close() error {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return nil
	}
	data := s.data
	s.data = nil
	s.detached = true
	s.mu.Unlock()

	if s.owner != nil {
		s.owner.mu.Lock()
		s.owner.attachments--
		s.owner.mu.Unlock()
	}

	if err := unmap(data); err != nil {
		return fmt.Errorf("failed to unmap segment %s: %w", s.name, err)
	}
	return nil
}

// Unlink はセグメント名を削除する。既存のマッピングは Close まで有効
func (s *Segment) Unlink() error {
	if s.owner != nil {
		return fmt.Errorf("%w: %s", ErrNotOwner, s.name)
	}

	s.mu.Lock()
	if s.unlinked {
		s.mu.Unlock()
		return nil
	}
	s.unlinked = true
	s.mu.Unlock()

	registry.Lock()
	if registry.owners[s.name] == s {
		delete(registry.owners, s.name)
	}
	registry.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to unlink segment %s: %w", s.name, err)
	}
	return nil
}

// With はセグメントを作成してfnを実行し、戻り方に関わらず
// デタッチとアンリンクを行う。fnがpanicした場合は後始末の後に再panicする
func With(name string, size int, fn func(*Segment) error) (err error) {
	seg, err := Create(name, size)
	if err != nil {
		return err
	}

	defer func() {
		r := recover()
		err = errors.Join(err, seg.Close(), seg.Unlink())
		if r != nil {
			panic(r)
		}
	}()

	return fn(seg)
}

// Exists は指定した名前のセグメントがまだリンクされているかを返す
func Exists(name string) bool {
	path, err := segmentPath(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
