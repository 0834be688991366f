package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"geoattend/internal/config"
	"geoattend/internal/geo"
	"geoattend/internal/queue"
	"geoattend/internal/store"
	"geoattend/internal/tracker"
)

// The tracker agent runs on the teacher's side: it streams the device's
// position and publishes each fix as a location ping for the session.
func main() {
	cfg := config.Load()

	if cfg.TrackerSessionID == "" || cfg.TrackerDeviceID == "" {
		log.Fatal("TRACKER_SESSION_ID and TRACKER_DEVICE_ID are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	src := tracker.NewHTTPSource(cfg.DeviceGatewayURL, cfg.TrackerDeviceID)
	tr := tracker.New(src)

	log.Printf("tracking device %s for session %s", cfg.TrackerDeviceID, cfg.TrackerSessionID)

	handle := tr.Start(ctx, tracker.Options{
		HighAccuracy: cfg.FixHighAccuracy,
		Timeout:      cfg.FixTimeout,
		MaxAge:       cfg.FixMaxAge,
		Interval:     cfg.FixInterval,
	}, func(pt geo.Point) {
		err := q.Publish(ctx, queue.LocationPing{
			SessionID:  cfg.TrackerSessionID,
			Lat:        pt.Lat,
			Lng:        pt.Lng,
			AccuracyM:  pt.AccuracyM,
			CapturedAt: pt.CapturedAt,
		})
		if err != nil {
			log.Printf("publish fix failed: %v", err)
		}
	}, func(err error) {
		// No automatic retry: the teacher decides whether to restart
		// tracking, and the session keeps its last-known reference point.
		log.Printf("sensor error, stream halted: %v", err)
		cancel()
	})

	<-handle.Done()
	log.Println("tracker stopped")
}
