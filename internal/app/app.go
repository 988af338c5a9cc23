// Package app wires the runtime: the SQLite store, local auth, the websocket
// change feed, the domain services, and the connection-resilience loop around
// them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dubapp/dub/internal/activity"
	"github.com/dubapp/dub/internal/backend"
	"github.com/dubapp/dub/internal/backend/avatars"
	"github.com/dubapp/dub/internal/backend/localauth"
	"github.com/dubapp/dub/internal/backend/sqlite"
	"github.com/dubapp/dub/internal/backend/ws"
	"github.com/dubapp/dub/internal/notify"
	"github.com/dubapp/dub/internal/platform/events"
	"github.com/dubapp/dub/internal/platform/timeouts"
	"github.com/dubapp/dub/internal/realtime"
	"github.com/dubapp/dub/internal/services/messaging/cache"
	messaging "github.com/dubapp/dub/internal/services/messaging/domain"
	profile "github.com/dubapp/dub/internal/services/profile/domain"
	scheduling "github.com/dubapp/dub/internal/services/scheduling/domain"
)

const messageCacheTTL = 30 * time.Second

// Config holds the runtime configuration.
type Config struct {
	HTTPAddr   string
	DBPath     string
	MediaDir   string
	AuthSecret string
	UserName   string
	Realtime   realtime.Config
}

// App holds the wired runtime. The service fields are the API surface for
// embedding callers.
type App struct {
	Store       *sqlite.Store
	Auth        *localauth.Service
	Bus         *events.Bus
	Messaging   *messaging.Service
	Scheduling  *scheduling.Service
	Profile     *profile.Service
	Manager     *realtime.Manager
	Monitor     *activity.Monitor
	Coordinator *notify.Coordinator
	User        backend.UserRecord

	hub    *ws.Hub
	server *http.Server
}

// New opens the backend, signs the configured user in, and wires every
// subsystem. Call Close when done.
func New(ctx context.Context, cfg Config) (*App, error) {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil, errors.New("http address is required")
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	auth, err := localauth.New(store, localauth.Config{Secret: []byte(cfg.AuthSecret)})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init auth: %w", err)
	}
	user, err := auth.Register(ctx, cfg.UserName)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("register user: %w", err)
	}

	baseURL := "http://" + hostport(cfg.HTTPAddr) + "/media"
	avatarStore, err := avatars.New(cfg.MediaDir, baseURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init avatar storage: %w", err)
	}

	hub := ws.NewHub()
	store.SetChangeNotifier(func(event backend.ChangeEvent) {
		raw := event.New
		if len(raw) == 0 {
			raw = event.Old
		}
		record, err := backend.DecodeMessagePayload(raw)
		if err != nil {
			return
		}
		hub.Publish(record.RecipientID, event)
	})

	client, err := ws.NewClient("ws://" + hostport(cfg.HTTPAddr) + "/realtime")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init realtime client: %w", err)
	}

	bus := events.NewBus()
	viewCache := cache.New[[]messaging.Message](messageCacheTTL, nil)
	messagingSvc := messaging.NewService(store, auth, viewCache, nil, nil)
	schedulingSvc := scheduling.NewService(store, auth, nil, nil)
	profileSvc := profile.NewService(store, auth, avatarStore)

	pinger := realtime.PingerFunc(func(ctx context.Context) error {
		_, err := store.CountMessages(ctx)
		return err
	})
	spec := backend.ChannelSpec{Table: "messages", RecipientID: user.ID}
	manager := realtime.NewManager(client, spec, pinger, bus, cfg.Realtime, nil)
	monitor := activity.NewMonitor(manager, bus, manager.Config().InactivityThreshold, 0, nil)
	coordinator := notify.NewCoordinator(messagingSvc, manager, auth, &logPresenter{}, bus)

	mux := http.NewServeMux()
	mux.Handle("/realtime", hub)
	mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))

	return &App{
		Store:       store,
		Auth:        auth,
		Bus:         bus,
		Messaging:   messagingSvc,
		Scheduling:  schedulingSvc,
		Profile:     profileSvc,
		Manager:     manager,
		Monitor:     monitor,
		Coordinator: coordinator,
		User:        user,
		hub:         hub,
		server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
	}, nil
}

// Serve runs the HTTP server and the realtime loop until the context ends or
// the server fails.
func (a *App) Serve(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := a.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	if err := a.Manager.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}
	if err := a.Monitor.Start(ctx); err != nil {
		return fmt.Errorf("start activity monitor: %w", err)
	}
	log.Printf("serving on %s as %s (%s)", a.server.Addr, a.User.Name, a.User.ID)

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
	}

	a.Monitor.Stop()
	a.Manager.Stop()
	a.Coordinator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if shutdownErr := a.server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if closeErr := a.hub.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Close releases the backend resources.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// Run wires the app and serves until the context ends.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

func hostport(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

// logPresenter is the runtime display surface: every notification lands in
// the process log. Interactive frontends supply their own Presenter.
type logPresenter struct{}

func (p *logPresenter) PromptInvitation(message messaging.Message, respond func(accepted bool)) {
	log.Printf("invitation from %s: %s %s", senderName(message), message.DisplayTime, message.Comment)
}

func (p *logPresenter) ShowAppointmentCompleted(message messaging.Message) {
	log.Printf("appointment confirmed: %s %s", message.DisplayTime, message.Comment)
}

func (p *logPresenter) ShowToast(text string) {
	log.Printf("notice: %s", text)
}

func (p *logPresenter) SetReconnecting(active bool) {
	if active {
		log.Print("connection lost, reconnecting")
		return
	}
	log.Print("connection restored")
}

func (p *logPresenter) ShowRecovery(retry func()) {
	log.Print("connection could not be restored, retrying")
	retry()
}

func senderName(message messaging.Message) string {
	if message.Sender != nil {
		return message.Sender.Name
	}
	return message.Message.SenderID
}
