package impl

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"signage/config"
	"signage/internal/domain/entity"
	domainerrors "signage/internal/domain/errors"
	"signage/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	mu sync.Mutex

	data entity.DeviceSettings

	registrationSaves int
	playlistSaves     int
	licenseSaves      int
	resets            int
}

func (f *fakeSettings) Load(_ context.Context) (*entity.DeviceSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := f.data

	return &copied, nil
}

func (f *fakeSettings) SaveRegistration(_ context.Context, rec entity.RegistrationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrationSaves++
	f.data.PlaylistCode = rec.PlaylistCode
	f.data.PlaylistID = rec.PlaylistID
	f.data.DeviceUID = rec.DeviceUID
	f.data.SavedPlaylist = rec.PlaylistJSON

	return nil
}

func (f *fakeSettings) SavePlaylist(_ context.Context, playlistID, playlistJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlistSaves++
	f.data.PlaylistID = playlistID
	f.data.SavedPlaylist = playlistJSON

	return nil
}

func (f *fakeSettings) SaveLicenseExpiry(_ context.Context, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.licenseSaves++
	f.data.LicenseExpiry = raw

	return nil
}

func (f *fakeSettings) SaveDeviceUID(_ context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.DeviceUID = uid

	return nil
}

func (f *fakeSettings) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.data = entity.DeviceSettings{}

	return nil
}

type fakeCache struct {
	mu sync.Mutex

	cached    map[string]bool
	downloads []string
	failAll   bool
}

func (f *fakeCache) LocalPath(item entity.PlaylistItem) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.Media == nil {
		return "", false
	}

	return "/cache/" + item.Media.FileName, f.cached[item.Media.FileName]
}

func (f *fakeCache) Download(_ context.Context, item entity.PlaylistItem) error {
	if item.Media == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, item.Media.FileName)
	if f.failAll {
		return assert.AnError
	}
	if f.cached == nil {
		f.cached = map[string]bool{}
	}
	f.cached[item.Media.FileName] = true

	return nil
}

func (f *fakeCache) Progress(items []entity.PlaylistItem) float64 {
	if len(items) == 0 {
		return 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cached := 0
	for _, item := range items {
		if item.Media != nil && f.cached[item.Media.FileName] {
			cached++
		}
	}

	return float64(cached) / float64(len(items))
}

type fakeBackend struct {
	mu sync.Mutex

	session    *entity.RegistrationSession
	sessionErr error

	registerResult *entity.RegistrationResult
	registerErr    error

	timelineResult *entity.TimelineResult
	timelineErr    error
	timelineCalls  int

	deregisterCalls int
}

func (f *fakeBackend) InitRegistration(_ context.Context, _ string) (*entity.RegistrationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.session, f.sessionErr
}

func (f *fakeBackend) Register(_ context.Context, _, _ string) (*entity.RegistrationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.registerResult, f.registerErr
}

func (f *fakeBackend) Timeline(_ context.Context, _, _ string) (*entity.TimelineResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timelineCalls++
	if f.timelineResult == nil && f.timelineErr == nil {
		return &entity.TimelineResult{}, nil
	}

	return f.timelineResult, f.timelineErr
}

func (f *fakeBackend) Deregister(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregisterCalls++

	return nil
}

type fakeRealtime struct {
	mu sync.Mutex

	joins    []string
	connects []string
	pings    int
	events   chan service.Event
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{events: make(chan service.Event, 8)}
}

func (f *fakeRealtime) Start(_ context.Context)           {}
func (f *fakeRealtime) Events() <-chan service.Event      { return f.events }
func (f *fakeRealtime) Connected() bool                   { return true }
func (f *fakeRealtime) OnStatusChange(_ func(bool))       {}
func (f *fakeRealtime) Close() error                      { return nil }

func (f *fakeRealtime) JoinDevice(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, deviceID)
}

func (f *fakeRealtime) ConnectPlayer(uid, playlistID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, uid+"/"+playlistID)
}

func (f *fakeRealtime) Ping(_ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
}

type playerFixture struct {
	svc      *playerService
	settings *fakeSettings
	cache    *fakeCache
	backend  *fakeBackend
	realtime *fakeRealtime
}

func newPlayerFixture(t *testing.T) *playerFixture {
	t.Helper()

	cfg := &config.Config{
		Player:  &config.PlayerConfig{RefreshInterval: time.Minute},
		Backend: &config.BackendConfig{RequestTimeout: time.Second},
	}

	settings := &fakeSettings{}
	cache := &fakeCache{cached: map[string]bool{}}
	backend := &fakeBackend{}
	realtime := newFakeRealtime()

	svc := newPlayerService(
		cfg,
		slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError})),
		settings,
		cache,
		backend,
		realtime,
	)
	svc.syncCaching = true
	svc.deviceUID = "uid-test"

	return &playerFixture{
		svc:      svc,
		settings: settings,
		cache:    cache,
		backend:  backend,
		realtime: realtime,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))

	return len(p), nil
}

func testPlaylist(id string, items ...entity.PlaylistItem) *entity.Playlist {
	return &entity.Playlist{ID: id, Name: "Lobby", Code: "CODE42", Items: items}
}

func videoItem(id, file string) entity.PlaylistItem {
	return entity.PlaylistItem{
		ID: id,
		Media: &entity.MediaAsset{
			ID:       "m-" + id,
			FileName: file,
			MimeType: "video/mp4",
		},
	}
}

func TestFirstBootShowsPairingSession(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.backend.session = &entity.RegistrationSession{
		SessionToken: "tok",
		QRPayload:    "payload",
	}

	fx.svc.checkRegistrationLocked(context.Background())

	state, ok := fx.svc.CurrentState().(entity.RegistrationRequired)
	require.True(t, ok, "expected RegistrationRequired, got %T", fx.svc.CurrentState())
	require.NotNil(t, state.Session)
	assert.Equal(t, "tok", state.Session.SessionToken)
	assert.Equal(t, []string{"uid-test"}, fx.realtime.joins)
	assert.Equal(t, fx.backend.session, fx.svc.CurrentSession())
}

func TestFirstBootPairingFetchFailure(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.backend.sessionErr = assert.AnError

	fx.svc.checkRegistrationLocked(context.Background())

	state, ok := fx.svc.CurrentState().(entity.RegistrationRequired)
	require.True(t, ok)
	assert.Nil(t, state.Session)
	assert.NotEmpty(t, state.Err)
}

func TestRegisterSuccessPersistsAndPlays(t *testing.T) {
	fx := newPlayerFixture(t)
	playlist := testPlaylist("pl-1", videoItem("i1", "a.mp4"), videoItem("i2", "b.mp4"))
	fx.backend.registerResult = &entity.RegistrationResult{
		Playlist: playlist,
		License:  &entity.LicenseInfo{ExpiresAt: "2999-01-01T00:00:00Z"},
	}

	fx.svc.registerLocked(context.Background(), "CODE42")

	state, ok := fx.svc.CurrentState().(entity.Playing)
	require.True(t, ok, "expected Playing, got %T", fx.svc.CurrentState())
	assert.Equal(t, "pl-1", state.Playlist.ID)
	assert.InDelta(t, 1.0, state.CacheProgress, 1e-9)

	assert.Equal(t, 1, fx.settings.registrationSaves)
	assert.Equal(t, "CODE42", fx.settings.data.PlaylistCode)
	assert.Equal(t, "pl-1", fx.settings.data.PlaylistID)
	assert.NotEmpty(t, fx.settings.data.SavedPlaylist)
	assert.Equal(t, "2999-01-01T00:00:00Z", fx.settings.data.LicenseExpiry)

	assert.Equal(t, []string{"a.mp4", "b.mp4"}, fx.cache.downloads)
	assert.Equal(t, []string{"uid-test/pl-1"}, fx.realtime.connects)
	assert.Nil(t, fx.svc.CurrentSession())
}

func TestRegisterWithoutLicenseRefreshesTimeline(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.backend.registerResult = &entity.RegistrationResult{Playlist: testPlaylist("pl-1")}
	fx.backend.timelineResult = &entity.TimelineResult{
		Items:   []entity.PlaylistItem{videoItem("i1", "a.mp4")},
		License: &entity.LicenseInfo{ExpiresAt: "2999-01-01T00:00:00Z"},
	}

	fx.svc.registerLocked(context.Background(), "CODE42")

	require.Equal(t, 1, fx.backend.timelineCalls)
	state, ok := fx.svc.CurrentState().(entity.Playing)
	require.True(t, ok)
	assert.Len(t, state.Playlist.Items, 1)
	assert.Equal(t, "2999-01-01T00:00:00Z", fx.svc.LicenseExpiry())
}

func TestRegisterLicenseExpiredError(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.backend.registerErr = &domainerrors.LicenseExpiredError{
		License: &entity.LicenseInfo{ExpiresAt: "2020-01-01T00:00:00Z"},
	}

	fx.svc.registerLocked(context.Background(), "CODE42")

	assert.IsType(t, entity.LicenseExpired{}, fx.svc.CurrentState())
	assert.Equal(t, "2020-01-01T00:00:00Z", fx.settings.data.LicenseExpiry)
}

func TestRegisterFailureFallsBackToCachedPlaylist(t *testing.T) {
	fx := newPlayerFixture(t)
	blob, err := json.Marshal(testPlaylist("pl-1", videoItem("i1", "a.mp4")))
	require.NoError(t, err)
	fx.settings.data.SavedPlaylist = string(blob)
	fx.backend.registerErr = assert.AnError

	fx.svc.registerLocked(context.Background(), "CODE42")

	state, ok := fx.svc.CurrentState().(entity.Playing)
	require.True(t, ok, "expected offline fallback to Playing, got %T", fx.svc.CurrentState())
	assert.Equal(t, "pl-1", state.Playlist.ID)
}

func TestRegisterFailureWithoutCacheFails(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.backend.registerErr = assert.AnError

	fx.svc.registerLocked(context.Background(), "CODE42")

	state, ok := fx.svc.CurrentState().(entity.Failed)
	require.True(t, ok)
	assert.NotEmpty(t, state.Message)
}

func TestRegisterMissingPlaylistFails(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.backend.registerResult = &entity.RegistrationResult{Message: "ok"}

	fx.svc.registerLocked(context.Background(), "CODE42")

	state, ok := fx.svc.CurrentState().(entity.Failed)
	require.True(t, ok)
	assert.Contains(t, state.Message, "missing playlist")
}

func TestStartupPlaysFromCacheThenRefreshes(t *testing.T) {
	fx := newPlayerFixture(t)
	blob, err := json.Marshal(testPlaylist("pl-1", videoItem("i1", "a.mp4")))
	require.NoError(t, err)
	fx.settings.data = entity.DeviceSettings{
		PlaylistID:    "pl-1",
		PlaylistCode:  "CODE42",
		SavedPlaylist: string(blob),
	}
	fx.backend.timelineResult = &entity.TimelineResult{
		Items: []entity.PlaylistItem{videoItem("i1", "a.mp4"), videoItem("i2", "b.mp4")},
	}

	var transitions []string
	fx.svc.OnState(func(st entity.State) {
		transitions = append(transitions, entity.Phase(st))
	})

	fx.svc.checkRegistrationLocked(context.Background())

	require.Equal(t, 1, fx.backend.timelineCalls)
	state, ok := fx.svc.CurrentState().(entity.Playing)
	require.True(t, ok)
	assert.Len(t, state.Playlist.Items, 2)
	// Optimistic playback from the cache came before the refreshed one.
	require.NotEmpty(t, transitions)
	assert.Equal(t, "playing", transitions[0])
	assert.Equal(t, 1, fx.settings.playlistSaves)
	assert.Equal(t, []string{"uid-test/pl-1"}, fx.realtime.connects)
}

func TestStartupWithExpiredLicenseBlocksPlayback(t *testing.T) {
	fx := newPlayerFixture(t)
	blob, err := json.Marshal(testPlaylist("pl-1", videoItem("i1", "a.mp4")))
	require.NoError(t, err)
	fx.settings.data = entity.DeviceSettings{
		PlaylistID:    "pl-1",
		PlaylistCode:  "CODE42",
		SavedPlaylist: string(blob),
		LicenseExpiry: "2026-01-01T00:00:00Z",
	}
	fx.svc.clock = func() time.Time {
		return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	}

	fx.svc.checkRegistrationLocked(context.Background())

	// The cached playlist never reaches the screen; a refresh still fires
	// so a renewed license can recover the device.
	assert.IsType(t, entity.LicenseExpired{}, fx.svc.CurrentState())
	assert.Equal(t, 1, fx.backend.timelineCalls)
	assert.Empty(t, fx.realtime.connects)
}

func TestStartupWithExpiredLicenseRecoversOnRenewal(t *testing.T) {
	fx := newPlayerFixture(t)
	blob, err := json.Marshal(testPlaylist("pl-1", videoItem("i1", "a.mp4")))
	require.NoError(t, err)
	fx.settings.data = entity.DeviceSettings{
		PlaylistID:    "pl-1",
		SavedPlaylist: string(blob),
		LicenseExpiry: "2026-01-01T00:00:00Z",
	}
	fx.svc.clock = func() time.Time {
		return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	}
	fx.backend.timelineResult = &entity.TimelineResult{
		Items:   []entity.PlaylistItem{videoItem("i1", "a.mp4")},
		License: &entity.LicenseInfo{ExpiresAt: "2026-12-31T00:00:00Z"},
	}

	fx.svc.checkRegistrationLocked(context.Background())

	assert.IsType(t, entity.Playing{}, fx.svc.CurrentState())
	assert.Equal(t, "2026-12-31T00:00:00Z", fx.settings.data.LicenseExpiry)
}

func TestUnchangedTimelineWritesNothing(t *testing.T) {
	fx := newPlayerFixture(t)
	playlist := testPlaylist("pl-1", videoItem("i1", "a.mp4"))
	fx.backend.registerResult = &entity.RegistrationResult{
		Playlist: playlist,
		License:  &entity.LicenseInfo{ExpiresAt: "2999-01-01T00:00:00Z"},
	}
	fx.svc.registerLocked(context.Background(), "CODE42")
	downloadsAfterRegister := len(fx.cache.downloads)

	fx.backend.timelineResult = &entity.TimelineResult{Items: playlist.Items}
	fx.svc.refreshTimelineLocked(context.Background(), "pl-1")
	fx.svc.refreshTimelineLocked(context.Background(), "pl-1")

	assert.Equal(t, 0, fx.settings.playlistSaves)
	assert.Equal(t, 1, fx.settings.registrationSaves)
	assert.Len(t, fx.cache.downloads, downloadsAfterRegister)
	assert.IsType(t, entity.Playing{}, fx.svc.CurrentState())
}

func TestConsistentRefreshHealsFailedState(t *testing.T) {
	fx := newPlayerFixture(t)
	playlist := testPlaylist("pl-1", videoItem("i1", "a.mp4"))
	fx.backend.registerResult = &entity.RegistrationResult{
		Playlist: playlist,
		License:  &entity.LicenseInfo{ExpiresAt: "2999-01-01T00:00:00Z"},
	}
	fx.svc.registerLocked(context.Background(), "CODE42")

	fx.svc.setState(entity.Failed{Message: "boom"})

	fx.backend.timelineResult = &entity.TimelineResult{Items: playlist.Items}
	fx.svc.refreshTimelineLocked(context.Background(), "pl-1")

	assert.IsType(t, entity.Playing{}, fx.svc.CurrentState())
}

func TestTimelineDeregisteredResetsDevice(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.settings.data = entity.DeviceSettings{
		PlaylistID:    "pl-1",
		SavedPlaylist: `{"id":"pl-1"}`,
	}
	fx.backend.timelineErr = domainerrors.ErrDeviceDeregistered
	fx.backend.session = &entity.RegistrationSession{SessionToken: "tok"}

	fx.svc.refreshTimelineLocked(context.Background(), "pl-1")

	assert.Equal(t, 1, fx.settings.resets)
	assert.Empty(t, fx.settings.data.PlaylistID)
	assert.IsType(t, entity.RegistrationRequired{}, fx.svc.CurrentState())
}

func TestTimelineDeviceDeletedFlagResetsDevice(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.backend.timelineResult = &entity.TimelineResult{DeviceDeleted: true}
	fx.backend.session = &entity.RegistrationSession{SessionToken: "tok"}

	fx.svc.refreshTimelineLocked(context.Background(), "pl-1")

	assert.Equal(t, 1, fx.settings.resets)
	assert.IsType(t, entity.RegistrationRequired{}, fx.svc.CurrentState())
}

func TestTimelineTransientFailureKeepsPlaying(t *testing.T) {
	fx := newPlayerFixture(t)
	playlist := testPlaylist("pl-1", videoItem("i1", "a.mp4"))
	fx.backend.registerResult = &entity.RegistrationResult{
		Playlist: playlist,
		License:  &entity.LicenseInfo{ExpiresAt: "2999-01-01T00:00:00Z"},
	}
	fx.svc.registerLocked(context.Background(), "CODE42")

	fx.backend.timelineErr = assert.AnError
	fx.svc.refreshTimelineLocked(context.Background(), "pl-1")

	assert.IsType(t, entity.Playing{}, fx.svc.CurrentState())
}

func TestTimelineLicenseExpiredBlocksPlayback(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.backend.timelineErr = &domainerrors.LicenseExpiredError{
		License: &entity.LicenseInfo{ExpiresAtAlt: "2020-01-01"},
	}

	fx.svc.refreshTimelineLocked(context.Background(), "pl-1")

	assert.IsType(t, entity.LicenseExpired{}, fx.svc.CurrentState())
	assert.Equal(t, "2020-01-01", fx.settings.data.LicenseExpiry)
}

func TestPeriodicTickDetectsExpiry(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.svc.licenseRaw = "2026-06-01T00:00:00Z"
	fx.svc.clock = func() time.Time {
		return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	}
	fx.svc.setState(entity.Playing{Playlist: *testPlaylist("pl-1")})

	fx.svc.tickLocked(context.Background())

	assert.IsType(t, entity.LicenseExpired{}, fx.svc.CurrentState())
	assert.Equal(t, 1, fx.realtime.pings)
}

func TestPeriodicTickPingsOnlyWhilePlaying(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.svc.setState(entity.Loading{})

	fx.svc.tickLocked(context.Background())

	assert.Zero(t, fx.realtime.pings)
}

func TestRegistrationCompleteEventAppliesRegistration(t *testing.T) {
	fx := newPlayerFixture(t)
	payload, err := json.Marshal(map[string]any{
		"playlist": testPlaylist("pl-9", videoItem("i1", "a.mp4")),
	})
	require.NoError(t, err)

	fx.svc.handleEventLocked(context.Background(), service.Event{
		Name: service.EventRegistrationComplete,
		Data: payload,
	})

	state, ok := fx.svc.CurrentState().(entity.Playing)
	require.True(t, ok, "expected Playing, got %T", fx.svc.CurrentState())
	assert.Equal(t, "pl-9", state.Playlist.ID)
	assert.Equal(t, 1, fx.settings.registrationSaves)
	// The push payload carries no license, so a timeline refresh follows.
	assert.Equal(t, 1, fx.backend.timelineCalls)
}

func TestFullscreenCommandDeliveredOnce(t *testing.T) {
	fx := newPlayerFixture(t)

	fx.svc.handleEventLocked(context.Background(), service.Event{Name: service.EventFullscreenEnter})

	cmd, ok := fx.svc.ConsumeRemoteCommand()
	require.True(t, ok)
	assert.Equal(t, entity.CommandEnterFullscreen, cmd)

	_, ok = fx.svc.ConsumeRemoteCommand()
	assert.False(t, ok)
}

func TestForceDeregisterEventResets(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.settings.data = entity.DeviceSettings{PlaylistID: "pl-1", LicenseExpiry: "2020-01-01"}
	fx.svc.licenseRaw = "2020-01-01"
	fx.backend.session = &entity.RegistrationSession{SessionToken: "tok"}

	fx.svc.handleEventLocked(context.Background(), service.Event{Name: service.EventForceDeregister})

	assert.Equal(t, 1, fx.settings.resets)
	assert.Empty(t, fx.svc.LicenseExpiry())
	assert.IsType(t, entity.RegistrationRequired{}, fx.svc.CurrentState())
}

func TestPairingSkippedWhilePlaying(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.svc.setState(entity.Playing{Playlist: *testPlaylist("pl-1")})
	fx.backend.session = &entity.RegistrationSession{SessionToken: "tok"}

	fx.svc.initQRRegistrationLocked(context.Background())

	assert.IsType(t, entity.Playing{}, fx.svc.CurrentState())
	assert.Empty(t, fx.realtime.joins)
}

func TestPlaybackErrorRoundTrip(t *testing.T) {
	fx := newPlayerFixture(t)

	require.Nil(t, fx.svc.LastPlaybackError())
	fx.svc.ReportPlaybackError("a.mp4", "decoder stalled")

	got := fx.svc.LastPlaybackError()
	require.NotNil(t, got)
	assert.Equal(t, "a.mp4", got.MediaName)
	assert.Equal(t, "decoder stalled", got.Message)

	fx.svc.ClearPlaybackError()
	assert.Nil(t, fx.svc.LastPlaybackError())
}

func TestCacheFailureStillPlays(t *testing.T) {
	fx := newPlayerFixture(t)
	fx.cache.failAll = true
	fx.backend.registerResult = &entity.RegistrationResult{
		Playlist: testPlaylist("pl-1", videoItem("i1", "a.mp4")),
		License:  &entity.LicenseInfo{ExpiresAt: "2999-01-01T00:00:00Z"},
	}

	fx.svc.registerLocked(context.Background(), "CODE42")

	state, ok := fx.svc.CurrentState().(entity.Playing)
	require.True(t, ok)
	assert.InDelta(t, 0.0, state.CacheProgress, 1e-9)
}
