//go:build windows

// Command overlay builds the injectable overlay DLL:
//
//	go build -buildmode=c-shared -o overlay.dll ./cmd/overlay
//
// The overlay attaches from a goroutine started when the DLL is loaded, so
// the loader lock is never held while it works. A failed attach leaves the
// DLL loaded but inert.
package main

import "C"

import (
	"context"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/breeze-rmm/overlay/internal/config"
	"github.com/breeze-rmm/overlay/internal/logging"
	"github.com/breeze-rmm/overlay/internal/overlay"
)

// detachTimeout bounds how long OverlayDetach waits for background work.
const detachTimeout = 5 * time.Second

var log = logging.L("main")

var (
	mu         sync.Mutex
	current    *overlay.Overlay
	logSession *logging.Session
)

func init() {
	go attachOnLoad()
}

func attachOnLoad() {
	defer func() {
		if r := recover(); r != nil {
			log.Error("attach panicked, overlay disabled", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	// Config comes first: the log directory is part of it.
	cfg, cfgErr := config.Load(os.Getenv("OVERLAY_CONFIG"))
	if cfg == nil {
		cfg = config.Default()
	}

	sess, err := logging.Setup(logOptions(cfg))
	var sessionID string
	if err != nil {
		log.Warn("log file unavailable", "error", err.Error())
	} else {
		sessionID = sess.ID
	}
	if cfgErr != nil {
		log.Warn("config unreadable, using defaults", "error", cfgErr.Error())
	}

	o, err := overlay.Attach(overlay.Options{
		Config:   cfg,
		Platform: overlay.DefaultPlatform(),
		Session:  sessionID,
	})
	if err != nil {
		log.Error("overlay disabled for this process", "error", err.Error())
		return
	}

	mu.Lock()
	current, logSession = o, sess
	mu.Unlock()
}

// OverlayAttached reports 1 while the overlay is attached.
//
//export OverlayAttached
func OverlayAttached() C.int {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return 0
	}
	return 1
}

// OverlayDetach restores the host and stops every component. It returns 0
// on a clean detach and 1 when something could not be undone in time.
//
//export OverlayDetach
func OverlayDetach() C.int {
	mu.Lock()
	o, sess := current, logSession
	current, logSession = nil, nil
	mu.Unlock()
	if o == nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	rc := C.int(0)
	if err := o.Detach(ctx); err != nil {
		log.Error("detach incomplete", "error", err.Error())
		rc = 1
	}
	if err := sess.Close(); err != nil {
		log.Warn("close log file", "error", err.Error())
	}
	return rc
}

func main() {}
