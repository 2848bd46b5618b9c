package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torbridge/pkg/tor"
)

// fakeService is an in-memory tor.Service. Fields configure behavior;
// counters record calls.
type fakeService struct {
	mu sync.Mutex

	phase       tor.BootstrapPhase
	statusErr   error
	onionID     string
	createErr   error
	shutdownErr error
	socksPort   uint16

	created   []tor.HiddenServiceParams
	deleted   []string
	shutdowns int
}

func (f *fakeService) Status() (tor.BootstrapPhase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase, f.statusErr
}

func (f *fakeService) CreateHiddenService(params tor.HiddenServiceParams) (tor.HiddenService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return tor.HiddenService{}, f.createErr
	}
	f.created = append(f.created, params)
	return tor.HiddenService{OnionID: f.onionID}, nil
}

func (f *fakeService) DeleteHiddenService(onionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, onionID)
	return nil
}

func (f *fakeService) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return f.shutdownErr
}

func (f *fakeService) SocksPort() uint16 { return f.socksPort }

func (f *fakeService) ControlAddress() string {
	return fmt.Sprintf("127.0.0.1:%d", f.socksPort+1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// starterFor returns a Starter handing out svc, counting how many times it
// ran.
func starterFor(svc *fakeService, startErr error) (Starter, *int) {
	starts := new(int)
	return func(cfg tor.StartConfig, logger *slog.Logger) (tor.Service, error) {
		*starts++
		if startErr != nil {
			return nil, startErr
		}
		return svc, nil
	}, starts
}

func readyService() *fakeService {
	return &fakeService{
		phase:     tor.BootstrapPhase{Progress: 100, Summary: "Done"},
		onionID:   "abcdefonion",
		socksPort: 19050,
	}
}

func TestStatusEmptySlot(t *testing.T) {
	b := New(nil, discardLogger())
	assert.Equal(t, StatusUnavailable, b.Status())
}

func TestStatusProjection(t *testing.T) {
	svc := readyService()
	start, _ := starterFor(svc, nil)
	b := New(start, discardLogger())
	require.NoError(t, b.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}))

	assert.Equal(t, StatusReady, b.Status())

	svc.mu.Lock()
	svc.phase = tor.BootstrapPhase{Progress: 40, Summary: "Loading descriptors"}
	svc.mu.Unlock()
	assert.Equal(t, StatusInProgress, b.Status())

	svc.mu.Lock()
	svc.statusErr = errors.New("control connection lost")
	svc.mu.Unlock()
	assert.Equal(t, StatusUnavailable, b.Status())
}

func TestStatusIsIdempotent(t *testing.T) {
	svc := readyService()
	start, starts := starterFor(svc, nil)
	b := New(start, discardLogger())
	require.NoError(t, b.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}))

	for i := 0; i < 5; i++ {
		assert.Equal(t, StatusReady, b.Status())
	}
	assert.Equal(t, 1, *starts)
	assert.Equal(t, 0, svc.shutdowns)
}

func TestInitializeTwiceFails(t *testing.T) {
	start, starts := starterFor(readyService(), nil)
	b := New(start, discardLogger())
	cfg := tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}

	require.NoError(t, b.Initialize(cfg))
	err := b.Initialize(cfg)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, 1, *starts)
}

func TestInitializeStartFailureLeavesSlotEmpty(t *testing.T) {
	start, _ := starterFor(nil, errors.New("tor binary not found"))
	b := New(start, discardLogger())

	err := b.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, StatusUnavailable, b.Status())

	// A failed start must not poison later attempts.
	svc := readyService()
	retry, _ := starterFor(svc, nil)
	b2 := New(retry, discardLogger())
	assert.NoError(t, b2.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}))
}

func TestCreateHiddenServiceWithoutInit(t *testing.T) {
	b := New(nil, discardLogger())
	_, err := b.CreateHiddenService(tor.HiddenServiceParams{VirtualPort: 80, TargetPort: 8080})
	assert.ErrorIs(t, err, ErrNoService)
}

func TestCreateHiddenServiceAppendsSuffix(t *testing.T) {
	svc := readyService()
	start, _ := starterFor(svc, nil)
	b := New(start, discardLogger())
	require.NoError(t, b.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}))

	rec, err := b.CreateHiddenService(tor.HiddenServiceParams{VirtualPort: 80, TargetPort: 8080})
	require.NoError(t, err)
	assert.Equal(t, "abcdefonion.onion", rec.OnionAddress)
	assert.Equal(t, svc.ControlAddress(), rec.Control)
}

func TestDeleteHiddenServiceStripsSuffix(t *testing.T) {
	svc := readyService()
	start, _ := starterFor(svc, nil)
	b := New(start, discardLogger())
	require.NoError(t, b.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}))

	require.NoError(t, b.DeleteHiddenService("abcdefonion.onion"))
	require.NoError(t, b.DeleteHiddenService("bareonion"))
	assert.Equal(t, []string{"abcdefonion", "bareonion"}, svc.deleted)
}

func TestShutdownEmptiesSlot(t *testing.T) {
	svc := readyService()
	start, _ := starterFor(svc, nil)
	b := New(start, discardLogger())
	require.NoError(t, b.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}))

	require.NoError(t, b.Shutdown())
	assert.Equal(t, 1, svc.shutdowns)
	assert.Equal(t, StatusUnavailable, b.Status())
	assert.ErrorIs(t, b.Shutdown(), ErrNoService)
}

func TestShutdownEmptiesSlotEvenOnFailure(t *testing.T) {
	svc := readyService()
	svc.shutdownErr = errors.New("control connection already closed")
	start, _ := starterFor(svc, nil)
	b := New(start, discardLogger())
	require.NoError(t, b.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}))

	require.Error(t, b.Shutdown())
	assert.Equal(t, StatusUnavailable, b.Status())
}

func TestInitializeAfterShutdown(t *testing.T) {
	start, starts := starterFor(readyService(), nil)
	b := New(start, discardLogger())
	cfg := tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}

	require.NoError(t, b.Initialize(cfg))
	require.NoError(t, b.Shutdown())
	assert.NoError(t, b.Initialize(cfg))
	assert.Equal(t, 2, *starts)
}

func TestSocksProxyAddr(t *testing.T) {
	svc := readyService()
	start, _ := starterFor(svc, nil)
	b := New(start, discardLogger())

	_, err := b.SocksProxyAddr()
	assert.ErrorIs(t, err, ErrNoService)

	require.NoError(t, b.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}))
	addr, err := b.SocksProxyAddr()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:19050", addr)
}

func TestEnsureStartedInitializesWhenUnavailable(t *testing.T) {
	svc := readyService()
	start, starts := starterFor(svc, nil)
	b := New(start, discardLogger())

	rec, err := b.EnsureStarted(
		tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()},
		tor.HiddenServiceParams{VirtualPort: 80, TargetPort: 8080},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, *starts)
	assert.Equal(t, "abcdefonion.onion", rec.OnionAddress)
}

func TestEnsureStartedSkipsInitWhenPresent(t *testing.T) {
	svc := readyService()
	start, starts := starterFor(svc, nil)
	b := New(start, discardLogger())
	cfg := tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}
	require.NoError(t, b.Initialize(cfg))

	// A bootstrapping service is left alone; the publish still goes through.
	svc.mu.Lock()
	svc.phase = tor.BootstrapPhase{Progress: 10, Summary: "Starting"}
	svc.mu.Unlock()

	rec, err := b.EnsureStarted(cfg, tor.HiddenServiceParams{VirtualPort: 80, TargetPort: 8080})
	require.NoError(t, err)
	assert.Equal(t, 1, *starts)
	assert.Equal(t, "abcdefonion.onion", rec.OnionAddress)
}

func TestEnsureStartedSurfacesCreateFailure(t *testing.T) {
	svc := readyService()
	svc.createErr = errors.New("ADD_ONION rejected")
	start, _ := starterFor(svc, nil)
	b := New(start, discardLogger())

	_, err := b.EnsureStarted(
		tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()},
		tor.HiddenServiceParams{VirtualPort: 80, TargetPort: 8080},
	)
	assert.ErrorContains(t, err, "create hidden service")
}

// Concurrent pollers and lifecycle calls must never observe a half-changed
// slot or panic on a nil handle.
func TestConcurrentStatusAndShutdown(t *testing.T) {
	svc := readyService()
	start, _ := starterFor(svc, nil)
	b := New(start, discardLogger())
	require.NoError(t, b.Initialize(tor.StartConfig{SocksPort: 19050, DataDir: t.TempDir()}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := b.Status()
				assert.Contains(t, []Status{StatusReady, StatusUnavailable}, s)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Shutdown()
	}()
	wg.Wait()

	assert.Equal(t, 1, svc.shutdowns)
	assert.Equal(t, StatusUnavailable, b.Status())
}
