package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/spf13/viper"

	"voxline-server-golang/internal/app/server/chat"
	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/domain/llm"
	"voxline-server-golang/internal/domain/prompts"
	"voxline-server-golang/internal/domain/store"
	"voxline-server-golang/internal/domain/stt"
	"voxline-server-golang/internal/domain/telephony"
	"voxline-server-golang/internal/domain/tts"
	log "voxline-server-golang/logger"
)

// Server accepts media websocket connections and runs one CallSession per
// connection. Sessions register themselves in a concurrent map so shutdown
// can hang up everything that is still live.
type Server struct {
	deps     chat.Deps
	store    store.CallStore
	sessions cmap.ConcurrentMap[string, *chat.CallSession]
	worker   *HistoryWorker
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer builds the process-wide collaborators from configuration.
func NewServer(ctx context.Context) (*Server, error) {
	engine, err := llm.NewEngineFromConfig(ctx)
	if err != nil {
		return nil, err
	}

	callStore, err := store.GetCallStore(viper.GetString("store.provider"))
	if err != nil {
		return nil, err
	}

	recognizer, err := stt.GetRecognizer(viper.GetString("stt.provider"), viper.GetStringMap("stt.config"))
	if err != nil {
		return nil, err
	}

	ttsProvider, err := tts.GetTTSProvider(viper.GetString("tts.provider"), viper.GetStringMap("tts.config"))
	if err != nil {
		return nil, err
	}

	s := &Server{
		deps: chat.Deps{
			Engine:      engine,
			Library:     prompts.LoadLibrary(audio.DefaultFormat()),
			Store:       callStore,
			Recognizer:  recognizer,
			TTSProvider: ttsProvider,
		},
		store:    callStore,
		sessions: cmap.New[*chat.CallSession](),
		worker:   NewHistoryWorker(callStore),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	return s, nil
}

// Start serves the media endpoint until ctx is cancelled, then drains.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(viper.GetString("server.media_path"), s.handleMedia)

	s.httpSrv = &http.Server{
		Addr:    viper.GetString("server.addr"),
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Infof("media server listening on %s%s", s.httpSrv.Addr, viper.GetString("server.media_path"))
		errChan <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.Shutdown()
		return nil
	}
}

// Shutdown hangs up live calls, stops the persistence workers, and closes
// the listener.
func (s *Server) Shutdown() {
	for item := range s.sessions.IterBuffered() {
		item.Val.Close("server shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.httpSrv != nil {
		s.httpSrv.Shutdown(shutdownCtx)
	}

	s.worker.Stop()
	if err := s.store.Close(); err != nil {
		log.Warnf("close call store: %v", err)
	}
	log.Info("server shut down")
}

// handleMedia upgrades one media connection and blocks for the lifetime of
// the call. Caller identity comes from the caller query parameter.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	callerID := r.URL.Query().Get("caller")
	if callerID == "" {
		http.Error(w, "missing caller parameter", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}

	media := telephony.NewMediaStream(conn, audio.DefaultFormat())
	session, err := chat.NewCallSession(r.Context(), media, callerID, s.deps, func(callID string) {
		s.sessions.Remove(callID)
	})
	if err != nil {
		log.Errorf("create call session for %s: %v", callerID, err)
		media.Close()
		return
	}

	s.sessions.Set(session.CallID(), session)
	if err := session.Run(); err != nil {
		log.Warnf("call %s ended with error: %v", session.CallID(), err)
	}
}
