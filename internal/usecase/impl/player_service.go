package impl

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"signage/config"
	"signage/internal/domain/entity"
	domainerrors "signage/internal/domain/errors"
	"signage/internal/domain/repository"
	"signage/internal/domain/service"
	"signage/internal/usecase"

	"github.com/google/uuid"
)

// fallbackPlaylistName labels the synthetic snapshot built when a timeline
// arrives before any cached playlist exists.
const fallbackPlaylistName = "My Playlist"

// playerService is the device orchestrator. Every reconciliation handler
// runs end-to-end under reconcileMu, so concurrent producers (startup
// check, REST responses, push events, the periodic tick) resolve in
// arrival order with no interleaved read-modify-write. stateMu guards the
// published fields for cheap concurrent reads.
type playerService struct {
	cfg      *config.Config
	logger   *slog.Logger
	settings repository.SettingsRepository
	cache    repository.MediaCache
	backend  service.BackendService
	realtime service.RealtimeService

	clock func() time.Time

	reconcileMu sync.Mutex

	stateMu       sync.Mutex
	state         entity.State
	observers     []func(entity.State)
	deviceUID     string
	appliedJSON   string // last applied playlist JSON, for change detection
	licenseRaw    string
	session       *entity.RegistrationSession
	remoteCommand string
	playbackErr   *entity.PlaybackError
	cacheGen      int

	// syncCaching makes cache population run inline; set only by tests.
	syncCaching bool

	runCtx context.Context
	cancel context.CancelFunc
}

// NewPlayerService creates the orchestrator.
func NewPlayerService(
	cfg *config.Config,
	logger *slog.Logger,
	settings repository.SettingsRepository,
	cache repository.MediaCache,
	backend service.BackendService,
	realtime service.RealtimeService,
) usecase.PlayerUsecase {
	return newPlayerService(cfg, logger, settings, cache, backend, realtime)
}

func newPlayerService(
	cfg *config.Config,
	logger *slog.Logger,
	settings repository.SettingsRepository,
	cache repository.MediaCache,
	backend service.BackendService,
	realtime service.RealtimeService,
) *playerService {
	return &playerService{
		cfg:      cfg,
		logger:   logger,
		settings: settings,
		cache:    cache,
		backend:  backend,
		realtime: realtime,
		clock:    time.Now,
		state:    entity.Loading{},
	}
}

// Start begins the startup check, the periodic refresh and the push
// channel subscription.
func (s *playerService) Start(ctx context.Context) error {
	// Detach from the caller's (possibly short-lived) startup context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCtx = runCtx
	s.cancel = cancel

	if err := s.ensureDeviceUID(runCtx); err != nil {
		cancel()

		return err
	}

	s.realtime.OnStatusChange(func(connected bool) {
		s.logger.Info("realtime channel status changed", slog.Bool("connected", connected))
	})
	s.realtime.Start(runCtx)

	go s.eventLoop(runCtx)
	go s.tickLoop(runCtx)
	go func() {
		if delay := s.cfg.Player.StartupDelay; delay > 0 {
			select {
			case <-time.After(delay):
			case <-runCtx.Done():
				return
			}
		}

		s.reconcileMu.Lock()
		defer s.reconcileMu.Unlock()
		s.checkRegistrationLocked(runCtx)
	}()

	return nil
}

// Stop winds the orchestrator down. In-flight calls complete and their
// results are discarded.
func (s *playerService) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	return s.realtime.Close()
}

// ensureDeviceUID loads the per-install identifier, generating and
// persisting one on first boot.
func (s *playerService) ensureDeviceUID(ctx context.Context) error {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return err
	}

	uid := settings.DeviceUID
	if uid == "" {
		uid = uuid.NewString()
		if err := s.settings.SaveDeviceUID(ctx, uid); err != nil {
			return err
		}
		s.logger.Info("generated device uid", slog.String("uid", uid))
	}

	s.stateMu.Lock()
	s.deviceUID = uid
	s.stateMu.Unlock()

	return nil
}

// checkRegistrationLocked is the startup reconciliation: decide the first
// state from the durable record alone, then go online.
func (s *playerService) checkRegistrationLocked(ctx context.Context) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load device settings", slog.Any("error", err))
		settings = &entity.DeviceSettings{}
	}

	s.logger.Info("startup registration check",
		slog.String("playlist_id", settings.PlaylistID),
		slog.String("playlist_code", settings.PlaylistCode),
		slog.Bool("has_cached_playlist", settings.SavedPlaylist != ""),
		slog.String("license_expiry", settings.LicenseExpiry))

	if settings.LicenseExpiry != "" && settings.LicenseExpiry != "null" {
		s.stateMu.Lock()
		s.licenseRaw = settings.LicenseExpiry
		s.stateMu.Unlock()
	}

	switch {
	case settings.PlaylistID != "":
		s.startupWithRegistrationLocked(ctx, settings)
	case settings.PlaylistCode != "":
		// Legacy record with a code but no id: re-register by code.
		s.registerLocked(ctx, settings.PlaylistCode)
	default:
		s.initQRRegistrationLocked(ctx)
	}
}

func (s *playerService) startupWithRegistrationLocked(ctx context.Context, settings *entity.DeviceSettings) {
	if s.licenseExpired() {
		s.logger.Warn("license expired, blocking playback")
		s.setState(entity.LicenseExpired{})
		// A refresh may still reveal a renewed license.
		s.refreshTimelineLocked(ctx, settings.PlaylistID)

		return
	}

	if settings.SavedPlaylist != "" {
		var playlist entity.Playlist
		if err := json.Unmarshal([]byte(settings.SavedPlaylist), &playlist); err == nil {
			// Optimistic playback from the stale cache; the refresh below
			// reconciles with the server.
			s.stateMu.Lock()
			s.appliedJSON = settings.SavedPlaylist
			s.stateMu.Unlock()

			s.setState(entity.Playing{
				Playlist:      playlist,
				CacheProgress: s.cache.Progress(playlist.Items),
			})
			s.realtime.ConnectPlayer(s.uid(), settings.PlaylistID)
			s.refreshTimelineLocked(ctx, settings.PlaylistID)

			return
		}
		s.logger.Error("cached playlist unreadable, falling back to refresh")
	}

	s.realtime.ConnectPlayer(s.uid(), settings.PlaylistID)
	s.refreshTimelineLocked(ctx, settings.PlaylistID)
}

// Register binds the device to a playlist by code, asynchronously.
func (s *playerService) Register(code string) {
	go func() {
		s.reconcileMu.Lock()
		defer s.reconcileMu.Unlock()
		s.registerLocked(s.ctx(), code)
	}()
}

func (s *playerService) registerLocked(ctx context.Context, code string) {
	s.logger.Info("registering device", slog.String("code", code))
	s.setState(entity.Loading{})

	result, err := s.backend.Register(ctx, code, s.uid())
	if err != nil {
		s.registerFailedLocked(ctx, err)

		return
	}

	s.applyRegistrationLocked(ctx, result, code)
}

func (s *playerService) registerFailedLocked(ctx context.Context, err error) {
	s.logger.Error("registration failed", slog.Any("error", err))

	if lic, ok := domainerrors.AsLicenseExpired(err); ok {
		if raw := lic.License.Expiry(); raw != "" {
			s.storeLicense(ctx, raw)
		}
		s.setState(entity.LicenseExpired{})

		return
	}

	if s.licenseExpired() {
		s.setState(entity.LicenseExpired{})

		return
	}

	// Graceful degradation: a transient failure must not kill a device
	// that still has a playable cached snapshot.
	if settings, loadErr := s.settings.Load(ctx); loadErr == nil && settings.SavedPlaylist != "" {
		var playlist entity.Playlist
		if json.Unmarshal([]byte(settings.SavedPlaylist), &playlist) == nil {
			s.logger.Info("offline fallback to cached playlist")
			s.setState(entity.Playing{
				Playlist:      playlist,
				CacheProgress: s.cache.Progress(playlist.Items),
			})

			return
		}
	}

	s.setState(entity.Failed{Message: err.Error()})
}

// applyRegistrationLocked is the shared success path for register
// responses and registration:complete push events.
func (s *playerService) applyRegistrationLocked(ctx context.Context, result *entity.RegistrationResult, code string) {
	if result.Playlist == nil {
		s.logger.Error("registration response carried no playlist")
		s.setState(entity.Failed{Message: "invalid response from server: missing playlist"})

		return
	}

	licenseRaw := result.License.Expiry()
	if licenseRaw != "" {
		s.storeLicense(ctx, licenseRaw)
	}

	blob, err := json.Marshal(result.Playlist)
	if err != nil {
		s.setState(entity.Failed{Message: "failed to encode playlist"})

		return
	}

	uid := s.uid()
	record := entity.RegistrationRecord{
		PlaylistCode: code,
		PlaylistID:   result.Playlist.ID,
		DeviceUID:    uid,
		PlaylistJSON: string(blob),
	}
	if err := s.settings.SaveRegistration(ctx, record); err != nil {
		s.logger.Error("failed to persist registration", slog.Any("error", err))
	}

	s.stateMu.Lock()
	s.appliedJSON = string(blob)
	s.session = nil
	s.stateMu.Unlock()

	s.realtime.ConnectPlayer(uid, result.Playlist.ID)
	s.startCaching(*result.Playlist)

	// Responses from the push channel carry no license; fetch one now.
	if licenseRaw == "" {
		s.logger.Info("registration carried no license, refreshing timeline")
		s.refreshTimelineLocked(ctx, result.Playlist.ID)
	}
}

// InitQRRegistration fetches a fresh pairing session, asynchronously.
func (s *playerService) InitQRRegistration() {
	go func() {
		s.reconcileMu.Lock()
		defer s.reconcileMu.Unlock()
		s.initQRRegistrationLocked(s.ctx())
	}()
}

func (s *playerService) initQRRegistrationLocked(ctx context.Context) {
	// Never interrupt active playback with a pairing screen.
	if _, playing := s.CurrentState().(entity.Playing); playing {
		return
	}

	if _, showing := s.CurrentState().(entity.RegistrationRequired); !showing {
		s.setState(entity.Loading{})
	}

	session, err := s.backend.InitRegistration(ctx, s.uid())
	if err != nil {
		s.logger.Error("failed to fetch registration session", slog.Any("error", err))
		s.setState(entity.RegistrationRequired{Err: "connection failed: " + err.Error()})

		return
	}

	s.realtime.JoinDevice(s.uid())

	s.stateMu.Lock()
	s.session = session
	s.stateMu.Unlock()

	s.setState(entity.RegistrationRequired{Session: session})
}

// refreshTimelineLocked reconciles one timeline poll outcome.
func (s *playerService) refreshTimelineLocked(ctx context.Context, playlistID string) {
	result, err := s.backend.Timeline(ctx, playlistID, s.uid())
	if err != nil {
		s.timelineFailedLocked(ctx, err)

		return
	}

	if result.DeviceDeleted {
		s.logger.Warn("device deleted server-side, resetting registration")
		s.resetLocked(ctx)

		return
	}

	if raw := result.License.Expiry(); raw != "" {
		s.storeLicense(ctx, raw)
	}
	if s.licenseExpired() {
		s.setState(entity.LicenseExpired{})

		return
	}

	if result.Items == nil {
		return
	}

	s.applyTimelineLocked(ctx, playlistID, result.Items)
}

func (s *playerService) timelineFailedLocked(ctx context.Context, err error) {
	switch {
	case domainerrors.IsDeviceDeregistered(err):
		s.logger.Warn("device deregistered by backend")
		s.resetLocked(ctx)
	default:
		if lic, ok := domainerrors.AsLicenseExpired(err); ok {
			if raw := lic.License.Expiry(); raw != "" {
				s.storeLicense(ctx, raw)
			}
			s.setState(entity.LicenseExpired{})

			return
		}

		s.logger.Warn("timeline refresh failed", slog.Any("error", err))
		if s.licenseExpired() {
			s.setState(entity.LicenseExpired{})
		}
		// Otherwise stay put: a transient network error must not destroy
		// a working playback state.
	}
}

func (s *playerService) applyTimelineLocked(ctx context.Context, playlistID string, items []entity.PlaylistItem) {
	playlist := s.basePlaylistLocked(ctx, playlistID)
	playlist.Items = items

	blob, err := json.Marshal(&playlist)
	if err != nil {
		s.logger.Error("failed to encode refreshed playlist", slog.Any("error", err))

		return
	}

	s.stateMu.Lock()
	applied := s.appliedJSON
	_, loading := s.state.(entity.Loading)
	s.stateMu.Unlock()

	if string(blob) != applied || loading {
		s.logger.Info("timeline changed, applying new items", slog.Int("items", len(items)))
		s.stateMu.Lock()
		s.appliedJSON = string(blob)
		s.stateMu.Unlock()

		if err := s.settings.SavePlaylist(ctx, playlist.ID, string(blob)); err != nil {
			s.logger.Error("failed to persist playlist", slog.Any("error", err))
		}
		s.startCaching(playlist)

		return
	}

	// Unchanged timeline: no redundant write, no cache re-scan. A
	// consistent poll still heals an expired/errored state.
	switch s.CurrentState().(type) {
	case entity.LicenseExpired, entity.Failed:
		s.logger.Info("recovering to playback after consistent refresh")
		s.setState(entity.Playing{
			Playlist:      playlist,
			CacheProgress: s.cache.Progress(playlist.Items),
		})
	}
}

// basePlaylistLocked returns the cached snapshot to graft refreshed items
// onto, or a minimal stand-in when no snapshot exists yet.
func (s *playerService) basePlaylistLocked(ctx context.Context, playlistID string) entity.Playlist {
	if settings, err := s.settings.Load(ctx); err == nil && settings.SavedPlaylist != "" {
		var playlist entity.Playlist
		if json.Unmarshal([]byte(settings.SavedPlaylist), &playlist) == nil {
			return playlist
		}
	}

	return entity.Playlist{ID: playlistID, Name: fallbackPlaylistName}
}

// startCaching publishes playback immediately and populates the cache in
// the background, one item at a time in playlist order. A newer playlist
// supersedes the run via the generation counter; no hard cancellation.
func (s *playerService) startCaching(playlist entity.Playlist) {
	s.stateMu.Lock()
	s.cacheGen++
	gen := s.cacheGen
	s.stateMu.Unlock()

	s.setState(entity.Playing{
		Playlist:      playlist,
		CacheProgress: s.cache.Progress(playlist.Items),
	})

	populate := func() {
		ctx := s.ctx()
		for _, item := range playlist.Items {
			if !s.cacheGenCurrent(gen) || ctx.Err() != nil {
				return
			}
			if err := s.cache.Download(ctx, item); err != nil {
				s.logger.Warn("cache download failed", slog.Any("error", err))
			}
			s.publishProgress(gen, playlist, s.cache.Progress(playlist.Items))
		}
	}

	if s.syncCaching {
		populate()

		return
	}
	go populate()
}

func (s *playerService) cacheGenCurrent(gen int) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.cacheGen == gen
}

func (s *playerService) publishProgress(gen int, playlist entity.Playlist, progress float64) {
	s.stateMu.Lock()
	if s.cacheGen != gen {
		s.stateMu.Unlock()

		return
	}
	if _, playing := s.state.(entity.Playing); !playing {
		s.stateMu.Unlock()

		return
	}
	next := entity.Playing{Playlist: playlist, CacheProgress: progress}
	s.state = next
	observers := slices.Clone(s.observers)
	s.stateMu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
}

// ManualDeregister notifies the server best-effort, then clears local
// state unconditionally: the reset must never be blocked by the network.
func (s *playerService) ManualDeregister() {
	uid := s.uid()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Backend.RequestTimeout)
		defer cancel()
		if err := s.backend.Deregister(ctx, uid); err != nil {
			s.logger.Warn("server-side deregistration failed", slog.Any("error", err))
		}
	}()

	go func() {
		s.reconcileMu.Lock()
		defer s.reconcileMu.Unlock()
		s.resetLocked(s.ctx())
	}()
}

// resetLocked clears all durable registration state and re-enters the
// pairing flow. The Loading transition comes first so a concurrent render
// can never observe a half-cleared playlist.
func (s *playerService) resetLocked(ctx context.Context) {
	s.logger.Info("clearing local registration data")
	s.setState(entity.Loading{})

	if err := s.settings.Reset(ctx); err != nil {
		s.logger.Error("failed to clear device settings", slog.Any("error", err))
	}

	s.stateMu.Lock()
	s.appliedJSON = ""
	s.licenseRaw = ""
	s.session = nil
	s.cacheGen++ // supersede any in-flight cache population
	s.stateMu.Unlock()

	s.initQRRegistrationLocked(ctx)
}

// tickLoop drives the periodic heartbeat, license re-check and timeline
// refresh.
func (s *playerService) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Player.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileMu.Lock()
			s.tickLocked(ctx)
			s.reconcileMu.Unlock()
		}
	}
}

func (s *playerService) tickLocked(ctx context.Context) {
	if _, playing := s.CurrentState().(entity.Playing); playing {
		s.realtime.Ping(s.uid())
	}

	if s.licenseExpired() {
		s.logger.Warn("periodic check: license expired")
		s.setState(entity.LicenseExpired{})
	}

	settings, err := s.settings.Load(ctx)
	if err != nil {
		s.logger.Error("periodic check: settings unreadable", slog.Any("error", err))

		return
	}
	if settings.PlaylistID != "" {
		s.refreshTimelineLocked(ctx, settings.PlaylistID)
	}
}

// eventLoop funnels push events into the serialized reconciliation path.
func (s *playerService) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.realtime.Events():
			if !ok {
				return
			}
			s.reconcileMu.Lock()
			s.handleEventLocked(ctx, ev)
			s.reconcileMu.Unlock()
		}
	}
}

func (s *playerService) handleEventLocked(ctx context.Context, ev service.Event) {
	switch ev.Name {
	case service.EventRegistrationComplete:
		s.logger.Info("push: registration complete")
		result, err := entity.DecodeRegistrationResult(ev.Data)
		if err != nil {
			s.logger.Error("failed to decode registration event", slog.Any("error", err))

			return
		}
		code := ""
		if result.Playlist != nil {
			code = result.Playlist.Code
		}
		s.applyRegistrationLocked(ctx, result, code)
	case service.EventFullscreenEnter:
		s.setRemoteCommand(entity.CommandEnterFullscreen)
	case service.EventFullscreenExit:
		s.setRemoteCommand(entity.CommandExitFullscreen)
	case service.EventForceDeregister:
		s.logger.Warn("push: force deregister")
		s.resetLocked(ctx)
	default:
		s.logger.Debug("ignoring push event", slog.String("event", ev.Name))
	}
}

// storeLicense records and persists a freshly observed license expiry.
func (s *playerService) storeLicense(ctx context.Context, raw string) {
	s.stateMu.Lock()
	s.licenseRaw = raw
	s.stateMu.Unlock()

	if err := s.settings.SaveLicenseExpiry(ctx, raw); err != nil {
		s.logger.Error("failed to persist license expiry", slog.Any("error", err))
	}
}

func (s *playerService) licenseExpired() bool {
	s.stateMu.Lock()
	raw := s.licenseRaw
	s.stateMu.Unlock()

	return entity.Expired(raw, s.clock())
}

// setState publishes a transition to every observer.
func (s *playerService) setState(next entity.State) {
	s.stateMu.Lock()
	s.state = next
	observers := slices.Clone(s.observers)
	s.stateMu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
}

func (s *playerService) setRemoteCommand(cmd string) {
	s.stateMu.Lock()
	s.remoteCommand = cmd
	s.stateMu.Unlock()
}

func (s *playerService) uid() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.deviceUID
}

func (s *playerService) ctx() context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}

	return context.Background()
}

// CurrentState returns the last published state.
func (s *playerService) CurrentState() entity.State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.state
}

// OnState registers a state observer.
func (s *playerService) OnState(fn func(entity.State)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.observers = append(s.observers, fn)
}

// CurrentSession returns the active pairing session, if any.
func (s *playerService) CurrentSession() *entity.RegistrationSession {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.session
}

// ConsumeRemoteCommand pops the pending one-shot command.
func (s *playerService) ConsumeRemoteCommand() (string, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	cmd := s.remoteCommand
	s.remoteCommand = ""

	return cmd, cmd != ""
}

// ReportPlaybackError records the front end's last playback failure.
func (s *playerService) ReportPlaybackError(mediaName, message string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.playbackErr = &entity.PlaybackError{
		MediaName: mediaName,
		Message:   message,
		Timestamp: s.clock(),
	}
}

func (s *playerService) ClearPlaybackError() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.playbackErr = nil
}

func (s *playerService) LastPlaybackError() *entity.PlaybackError {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.playbackErr
}

// LicenseExpiry returns the raw license expiry last seen.
func (s *playerService) LicenseExpiry() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.licenseRaw
}

// Connected reports the push channel link state.
func (s *playerService) Connected() bool {
	return s.realtime.Connected()
}
