package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/clamor-chat/clamor/auth"
	"github.com/clamor-chat/clamor/chat"
	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/globals"
	"github.com/clamor-chat/clamor/httpapi"
	"github.com/clamor-chat/clamor/persistence"
	"github.com/clamor-chat/clamor/types"
	"github.com/clamor-chat/clamor/ws"
	"github.com/folkengine/goname"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

type app struct {
	cfg      *config.Config
	store    persistence.Store
	asserter auth.Asserter
	hub      *ws.Hub
	svc      *chat.Service
}

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	store, err := persistence.NewStore(globalConfig)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	authority, err := chat.NewAuthority(store, globalConfig.LimitsConfig.AccessCacheSize, globals.AppLogger)
	if err != nil {
		panic(err)
	}
	hub, err := ws.NewHub(globalConfig, globals.AppLogger)
	if err != nil {
		panic(err)
	}
	svc := chat.NewService(
		store,
		authority,
		hub,
		globalConfig.LimitsConfig.StoreTimeout,
		globalConfig.LimitsConfig.HistoryLimit,
		globalConfig.LimitsConfig.HistoryMaxLimit,
		globals.AppLogger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		globals.AppLogger.Info("interrupted, shutting down")
		cancel()
	}()
	go hub.Run(ctx)

	a := &app{
		cfg:      globalConfig,
		store:    store,
		asserter: auth.NewAsserter(globalConfig),
		hub:      hub,
		svc:      svc,
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", a.websocketHandler).Methods(http.MethodGet)
	httpapi.NewHandler(svc, store, a.asserter, globals.AppLogger).Routes(router)

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, router)
	} else {
		err = http.ListenAndServe(*addr, router)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

// websocketHandler upgrades the connection after verifying the identity
// assertion and runs the client until it disconnects.
func (a *app) websocketHandler(w http.ResponseWriter, r *http.Request) {
	vals := r.URL.Query()
	userId, err := a.asserter.Assert(r.Context(), vals.Get("token"), vals.Get("provider"))
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	user := &types.User{Id: userId}
	err = a.store.GetUser(r.Context(), user)
	if err == persistence.ErrNotFound {
		// first contact: store a minimal profile with a generated display name
		user.Name = goname.New(goname.FantasyMap).FirstLast()
		user.Language = "en"
		user.Tags = make(map[string]string)
		user.LastOnline = time.Now()
		if err := a.store.StoreUser(r.Context(), *user); err != nil {
			globals.AppLogger.Error("could not store user", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	} else if err != nil {
		globals.AppLogger.Error("could not get user", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	client := ws.NewClient(a.hub, conn, user, a.svc)
	a.hub.Register(client)
	go client.WriteLoop()
	client.SendConnected()
	go client.ReadLoop()
	<-client.Done()
	globals.AppLogger.Debug("connection closed", "conn", client.Id(), "user", user.Id)
}
