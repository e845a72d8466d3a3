package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxlens/fxlens/internal/database"
	"github.com/fxlens/fxlens/internal/events"
)

type fakeStore struct {
	uploads map[string][]byte
	deleted []string
	objects []ObjectInfo
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[string][]byte)}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	f.objects = append(f.objects, ObjectInfo{Key: key, SizeBytes: int64(len(data))})
	return nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for _, obj := range f.objects {
		if len(obj.Key) >= len(prefix) && obj.Key[:len(prefix)] == prefix {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func testService(t *testing.T, store ObjectStore) *BackupService {
	t.Helper()

	dir := t.TempDir()
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Conn().Exec(`CREATE TABLE prices (pair_key TEXT PRIMARY KEY, data BLOB)`)
	require.NoError(t, err)
	_, err = db.Conn().Exec(`INSERT INTO prices VALUES ('EURUSD:', x'7b7d')`)
	require.NoError(t, err)

	return NewBackupService(store, db, dir, zerolog.Nop())
}

func archiveEntries(t *testing.T, data []byte) []string {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, header.Name)
	}
	return names
}

func TestCreateAndUploadBackup(t *testing.T) {
	store := newFakeStore()
	service := testService(t, store)

	info, err := service.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)

	assert.Contains(t, info.Filename, backupPrefix)
	assert.Greater(t, info.SizeBytes, int64(0))

	data, ok := store.uploads[info.Filename]
	require.True(t, ok, "archive must be uploaded under its own name")

	names := archiveEntries(t, data)
	assert.ElementsMatch(t, []string{"cache.db", "backup-metadata.json"}, names)
}

func TestListBackups_NewestFirst(t *testing.T) {
	store := newFakeStore()
	service := testService(t, store)

	for _, ts := range []string{"2025-06-01-000000", "2025-06-03-000000", "2025-06-02-000000"} {
		store.objects = append(store.objects, ObjectInfo{
			Key: fmt.Sprintf("%s%s.tar.gz", backupPrefix, ts), SizeBytes: 10,
		})
	}
	store.objects = append(store.objects, ObjectInfo{Key: backupPrefix + "garbage.tar.gz"})

	backups, err := service.ListBackups(context.Background())
	require.NoError(t, err)

	require.Len(t, backups, 3, "unparseable names are skipped")
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
	assert.True(t, backups[1].Timestamp.After(backups[2].Timestamp))
}

func TestRotateOldBackups_KeepsMinimum(t *testing.T) {
	store := newFakeStore()
	service := testService(t, store)

	now := time.Now()
	for i := 0; i < 6; i++ {
		ts := now.AddDate(0, 0, -i*10).Format(backupTimeLayout)
		store.objects = append(store.objects, ObjectInfo{
			Key: fmt.Sprintf("%s%s.tar.gz", backupPrefix, ts), SizeBytes: 10,
		})
	}

	require.NoError(t, service.RotateOldBackups(context.Background(), 15))

	// Newest three always survive; of the remaining three (30, 40, 50 days
	// old), all are past the 15-day retention.
	assert.Len(t, store.deleted, 3)
}

func TestRotateOldBackups_ZeroRetentionKeepsAll(t *testing.T) {
	store := newFakeStore()
	service := testService(t, store)

	now := time.Now()
	for i := 0; i < 6; i++ {
		ts := now.AddDate(0, 0, -i*100).Format(backupTimeLayout)
		store.objects = append(store.objects, ObjectInfo{
			Key: fmt.Sprintf("%s%s.tar.gz", backupPrefix, ts),
		})
	}

	require.NoError(t, service.RotateOldBackups(context.Background(), 0))
	assert.Empty(t, store.deleted)
}

func TestBackupJob_EmitsCompletionEvent(t *testing.T) {
	store := newFakeStore()
	service := testService(t, store)
	bus := events.NewBus(zerolog.Nop())

	var got []*events.Event
	bus.Subscribe(events.BackupCompleted, func(e *events.Event) { got = append(got, e) })

	job := NewBackupJob(service, bus, 30, zerolog.Nop())
	require.NoError(t, job.Run())

	require.Len(t, got, 1)
	data := got[0].Data.(events.BackupCompletedData)
	assert.Contains(t, data.Key, backupPrefix)
	assert.Greater(t, data.SizeBytes, int64(0))
}
