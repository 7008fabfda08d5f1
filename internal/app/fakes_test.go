package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/postgres-backup-s3/internal/config"
	"github.com/rowjay/postgres-backup-s3/internal/hooks"
	"github.com/rowjay/postgres-backup-s3/internal/pipeline"
	"github.com/rowjay/postgres-backup-s3/internal/storage"
)

type memObject struct {
	data     []byte
	modified time.Time
}

type memStore struct {
	mu        sync.Mutex
	objects   map[string]memObject
	puts      []storage.PutOptions
	deleteErr map[string]error
	listErr   error
	now       func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{objects: map[string]memObject{}, deleteErr: map[string]error{}, now: now}
}

func (m *memStore) seed(key string, data string, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: []byte(data), modified: modified}
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memStore) data(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.objects[key].data)
}

func (m *memStore) Put(ctx context.Context, key string, r io.Reader, opts storage.PutOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, opts)
	m.objects[key] = memObject{data: data, modified: m.now()}
	return nil
}

func (m *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *memStore) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), Modified: obj.modified}, nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []storage.ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), Modified: obj.modified})
		}
	}
	// listing order must not matter to callers
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[key]; err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Stat(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

type fakeDB struct {
	size       int64
	sizeErr    error
	sizeCalls  int
	dump       string
	dumpStage  *pipeline.Stage
	restored   bytes.Buffer
	restoreErr error
	restores   int
}

func (f *fakeDB) Name() string                       { return "fake" }
func (f *fakeDB) Validate(ctx context.Context) error { return nil }
func (f *fakeDB) Ping(ctx context.Context) error     { return nil }

func (f *fakeDB) Size(ctx context.Context) (int64, error) {
	f.sizeCalls++
	return f.size, f.sizeErr
}

func (f *fakeDB) DumpStage() pipeline.Stage {
	if f.dumpStage != nil {
		return *f.dumpStage
	}
	return pipeline.Stage{Name: "pg_dump", Run: func(_ context.Context, _ io.Reader, out io.Writer) error {
		_, err := io.WriteString(out, f.dump)
		return err
	}}
}

func (f *fakeDB) RestoreStage() pipeline.Stage {
	return pipeline.Stage{Name: "pg_restore", Run: func(_ context.Context, in io.Reader, _ io.Writer) error {
		f.restores++
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, in); err != nil {
			return err
		}
		if f.restoreErr != nil {
			return f.restoreErr
		}
		f.restored.Write(buf.Bytes())
		return nil
	}}
}

// fakeEncrypt tags the stream with the passphrase; fakeDecrypt refuses any
// stream tagged with a different one.
func fakeEncrypt(passphrase string, _ zerolog.Logger) pipeline.Stage {
	return pipeline.Stage{Name: "gpg-encrypt", Run: func(_ context.Context, in io.Reader, out io.Writer) error {
		if _, err := io.WriteString(out, "ENC["+passphrase+"]"); err != nil {
			return err
		}
		_, err := io.Copy(out, in)
		return err
	}}
}

func fakeDecrypt(passphrase string, _ zerolog.Logger) pipeline.Stage {
	return pipeline.Stage{Name: "gpg-decrypt", Run: func(_ context.Context, in io.Reader, out io.Writer) error {
		header := "ENC[" + passphrase + "]"
		buf := make([]byte, len(header))
		if _, err := io.ReadFull(in, buf); err != nil || string(buf) != header {
			return errors.New("decryption failed: bad session key")
		}
		_, err := io.Copy(out, in)
		return err
	}}
}

var fixedNow = time.Date(2024, 3, 10, 1, 2, 3, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Host: "db", Port: 5432, Name: "app"},
		Storage:  config.StorageConfig{Backend: config.BackendS3, Prefix: "backup"},
	}
}

func newTestApp(cfg *config.Config, dbf *fakeDB) (*App, *memStore, *bytes.Buffer) {
	var logs bytes.Buffer
	log := zerolog.New(&logs)
	now := func() time.Time { return fixedNow }
	store := newMemStore(now)
	a := New(cfg, dbf, store, log, nil)
	a.Hooks = hooks.NewRunner(log)
	a.Now = now
	a.Encrypt = fakeEncrypt
	a.Decrypt = fakeDecrypt
	return a, store, &logs
}

type failingPut struct {
	*memStore
}

func (f failingPut) Put(ctx context.Context, key string, r io.Reader, opts storage.PutOptions) error {
	buf := make([]byte, 512)
	_, _ = r.Read(buf)
	return errors.New("access denied")
}

func zeroLog() zerolog.Logger { return zerolog.Nop() }
