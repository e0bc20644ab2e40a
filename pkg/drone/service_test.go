package drone

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbujnak/cr-fly/pkg/alert"
	"github.com/lbujnak/cr-fly/pkg/command"
)

type recordSink struct {
	mu     sync.Mutex
	alerts []string
}

func (s *recordSink) Alert(title, message string, _ ...alert.Action) {
	s.mu.Lock()
	s.alerts = append(s.alerts, title)
	s.mu.Unlock()
}

func (s *recordSink) RequestPreviousView() {}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// mockManager fails List a configurable number of times before serving a
// fixed table, so retry behavior can be observed.
type mockManager struct {
	mu        sync.Mutex
	files     []MediaFile
	listFails int
	listCalls int
	removed   []string
}

func (m *mockManager) List(context.Context) ([]MediaFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listFails > 0 {
		m.listFails--
		return nil, ErrUnavailable
	}
	return append([]MediaFile(nil), m.files...), nil
}

func (m *mockManager) Fetch(ctx context.Context, name, destPath string, onReceived func(int)) error {
	content := []byte("payload-" + name)
	if err := os.WriteFile(destPath, content, 0o644); err != nil {
		return err
	}
	if onReceived != nil {
		onReceived(len(content))
	}
	return nil
}

func (m *mockManager) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, name)
	return nil
}

func newTestService(t *testing.T, mgr MediaManager) (*Service, *recordSink) {
	t.Helper()
	sink := &recordSink{}
	queue := command.NewQueueController("drone",
		command.Policy{MaxRetries: 2, RetryTimeout: 10 * time.Millisecond}, sink)
	queue.Start()
	t.Cleanup(queue.Stop)
	return NewService(mgr, queue, t.TempDir()), sink
}

func waitIdle(t *testing.T, svc *Service) {
	t.Helper()
	require.Eventually(t, func() bool { return !svc.Queue().IsBusy() },
		2*time.Second, 5*time.Millisecond, "queue did not drain")
}

func TestRefreshMediaCachesList(t *testing.T) {
	mgr := &mockManager{files: []MediaFile{
		{Name: "a.jpg", Size: 10},
		{Name: "b.jpg", Size: 20},
	}}
	svc, sink := newTestService(t, mgr)

	svc.Queue().Push(svc.RefreshMediaCommand(context.Background()))
	waitIdle(t, svc)

	files := svc.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "a.jpg", files[0].Name)
	assert.Equal(t, 0, sink.count())
}

func TestRefreshMediaRetriesWhenUnavailable(t *testing.T) {
	mgr := &mockManager{listFails: 1, files: []MediaFile{{Name: "a.jpg", Size: 10}}}
	svc, sink := newTestService(t, mgr)

	svc.Queue().Push(svc.RefreshMediaCommand(context.Background()))
	waitIdle(t, svc)

	mgr.mu.Lock()
	calls := mgr.listCalls
	mgr.mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Len(t, svc.Files(), 1)
	assert.Equal(t, 0, sink.count())
}

func TestDownloadMediaTracksProgress(t *testing.T) {
	mgr := &mockManager{files: []MediaFile{
		{Name: "a.jpg", Size: int64(len("payload-a.jpg"))},
		{Name: "b.jpg", Size: int64(len("payload-b.jpg"))},
	}}
	svc, sink := newTestService(t, mgr)
	svc.Queue().Push(svc.RefreshMediaCommand(context.Background()))
	waitIdle(t, svc)

	require.NoError(t, svc.DownloadMedia(context.Background(), []string{"a.jpg", "b.jpg"}))
	waitIdle(t, svc)

	status, ok := svc.TransferStatus()
	require.True(t, ok)
	assert.Equal(t, 2, status.TransferredItems)
	assert.Equal(t, status.TotalBytes, status.TransferredBytes)

	data, err := os.ReadFile(filepath.Join(svc.mediaDir, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "payload-a.jpg", string(data))
	assert.Equal(t, 0, sink.count())
}

func TestDownloadMediaRejectsUnknownName(t *testing.T) {
	svc, _ := newTestService(t, &mockManager{})
	err := svc.DownloadMedia(context.Background(), []string{"ghost.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown device file")
}

func TestDeleteMediaRemovesFromDeviceAndCache(t *testing.T) {
	mgr := &mockManager{files: []MediaFile{{Name: "a.jpg", Size: 10}}}
	svc, _ := newTestService(t, mgr)
	svc.Queue().Push(svc.RefreshMediaCommand(context.Background()))
	waitIdle(t, svc)

	svc.Queue().Push(svc.DeleteMediaCommand(context.Background(), "a.jpg"))
	waitIdle(t, svc)

	mgr.mu.Lock()
	removed := mgr.removed
	mgr.mu.Unlock()
	assert.Equal(t, []string{"a.jpg"}, removed)
	assert.Empty(t, svc.Files())
}

func TestDirectoryManagerRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "shot.jpg"), []byte("image-bytes"), 0o644))
	mgr := NewDirectoryMediaManager(root)

	files, err := mgr.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(len("image-bytes")), files[0].Size)

	dest := filepath.Join(t.TempDir(), "shot.jpg")
	received := 0
	require.NoError(t, mgr.Fetch(context.Background(), "shot.jpg", dest, func(n int) { received += n }))
	assert.Equal(t, len("image-bytes"), received)

	require.NoError(t, mgr.Remove(context.Background(), "shot.jpg"))
	_, err = mgr.List(context.Background())
	require.NoError(t, err)
}

func TestDirectoryManagerUnavailable(t *testing.T) {
	mgr := NewDirectoryMediaManager(filepath.Join(t.TempDir(), "missing"))
	_, err := mgr.List(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}
