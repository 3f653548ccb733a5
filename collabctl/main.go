package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/docopt/docopt-go"

	"github.com/iman-noroozi/sitebuilder-sub001/collab"
)

const CollabCtlVersion = "0.0.1"

const LocalVersion = "0.0.0-local"

func main() {
	usage := `Preview sync control.

Runs the real-time collaborative preview synchronization server and mints
collaborator join tokens.

Usage:
    collabctl serve [--port=<port>] [--jwt_secret=<secret>]
    collabctl token --name=<name> [--avatar=<avatar>] [--color=<color>]
        [--role=<role>] [--permission=<permission>...]
        [--expire_hours=<expire_hours>] [--jwt_secret=<secret>]

Options:
    -h --help                          Show this screen.
    --version                          Show version.
    -p --port=<port>                   Listen port [default: 8090].
    --jwt_secret=<secret>              Join token signing secret.
    --name=<name>                      Collaborator display name.
    --avatar=<avatar>                  Avatar reference.
    --color=<color>                    UI color.
    --role=<role>                      Collaborator role.
    --permission=<permission>          Granted permission. Repeatable.
    --expire_hours=<expire_hours>      Token lifetime in hours [default: 24].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RequireVersion())
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		token(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, stop := signal.NotifyContext(cancelCtx, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	settings := collab.DefaultCollabServerSettings()
	if secret := optsString(opts, "--jwt_secret"); secret != "" {
		settings.JwtSecret = []byte(secret)
	}

	collabServer := collab.NewCollabServer(ctx, settings)

	mux := http.NewServeMux()
	mux.Handle("/sync", collabServer)
	mux.Handle("/status", &Status{
		registry:  collabServer.Registry(),
		processor: collabServer.Processor(),
	})

	syncServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		defer cancel()
		err := syncServer.ListenAndServe()
		if err != nil {
			fmt.Printf("sync error: %s\n", err)
		}
	}()

	fmt.Printf("Preview sync %s on *:%d\n", RequireVersion(), port)

	select {
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	syncServer.Shutdown(shutdownCtx)

	collabServer.Close()

	// exit
	os.Exit(0)
}

func token(opts docopt.Opts) {
	userInfo := &collab.Collaborator{
		Name:   optsString(opts, "--name"),
		Avatar: optsString(opts, "--avatar"),
		Color:  optsString(opts, "--color"),
		Role:   optsString(opts, "--role"),
	}
	if permissions, ok := opts["--permission"].([]string); ok && 0 < len(permissions) {
		userInfo.Permissions = mapset.NewSet(permissions...)
	}

	expireHours, _ := opts.Int("--expire_hours")
	if expireHours <= 0 {
		expireHours = 24
	}

	secret := []byte(optsString(opts, "--jwt_secret"))

	joinToken, err := collab.NewJoinToken(secret, userInfo, time.Duration(expireHours)*time.Hour)
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s\n", joinToken)
}

func optsString(opts docopt.Opts, key string) string {
	if value := opts[key]; value != nil {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

type Status struct {
	registry  *collab.ConnectionRegistry
	processor *collab.EventProcessor
}

func (self *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type SyncStatusResult struct {
		Version     string                      `json:"version"`
		Status      string                      `json:"status"`
		Connections int                         `json:"connections"`
		Stats       *collab.EventProcessorStats `json:"stats"`
	}

	result := &SyncStatusResult{
		Version:     RequireVersion(),
		Status:      "ok",
		Connections: self.registry.Len(),
		Stats:       self.processor.Stats(),
	}

	responseJson, err := json.Marshal(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJson)
}

func RequireVersion() string {
	if version := os.Getenv("SITEBUILDER_VERSION"); version != "" {
		return version
	}
	return LocalVersion
}
