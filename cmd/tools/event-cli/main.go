package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/blockkit/internal/eventbus"
	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
)

const timeFormat = "2006-01-02T15:04:05Z"

func main() {
	var (
		natsURL   = flag.String("nats", "nats://127.0.0.1:4222", "NATS server URL")
		stream    = flag.String("stream", "FACINGS", "JetStream stream name")
		command   = flag.String("cmd", "tail", "Command: tail, publish")
		sources   = flag.String("sources", "", "Sources filter (comma-separated)")
		limit     = flag.Int("limit", 0, "Stop after N events (0 = follow)")
		pos       = flag.String("pos", "0,0,0", "publish: block position x,y,z")
		facings   = flag.String("facings", "all", "publish: new facings (down,up,... or all/none)")
		retention = flag.Duration("retention", 24*time.Hour, "Stream retention when the stream is created")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, *retention)
	if err != nil {
		log.Fatalf("Failed to connect to JetStream: %v", err)
	}
	defer bus.Close()

	switch *command {
	case "tail":
		err = tailEvents(bus, parseStringList(*sources), *limit)
	case "publish":
		err = publishEvent(bus, *pos, *facings)
	default:
		fmt.Printf("Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, publish")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", *command, err)
	}
}

// tailEvents выводит FacingsChanged в реальном времени
func tailEvents(bus eventbus.EventBus, sources []string, limit int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Tailing FacingsChanged (limit: %d)\n", limit)

	seen := make(chan struct{}, 1)
	count := 0
	sub, err := bus.Subscribe(ctx, eventbus.Filter{
		Types:   []string{eventbus.EventTypeFacingsChanged},
		Sources: sources,
	}, func(_ context.Context, ev *eventbus.Envelope) {
		change, err := eventbus.DecodeFacingsChanged(ev)
		if err != nil {
			fmt.Printf("%s  %s  <bad payload: %v>\n", ev.Timestamp.Format(timeFormat), ev.ID, err)
			return
		}

		action := "set"
		if change.Removed {
			action = "removed"
		}
		fmt.Printf("%s  %-12s %s  %s -> %s  (%s)\n",
			ev.Timestamp.Format(timeFormat), ev.Source, change.Pos,
			change.OldFacings().ShortString(), change.NewFacings().ShortString(), action)

		count++
		if limit > 0 && count >= limit {
			select {
			case seen <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	select {
	case <-ctx.Done():
	case <-seen:
	}
	return nil
}

// publishEvent отправляет FacingsChanged вручную (для отладки подписчиков)
func publishEvent(bus eventbus.EventBus, rawPos, rawFacings string) error {
	parts := parseStringList(rawPos)
	if len(parts) != 3 {
		return fmt.Errorf("pos must be x,y,z: %q", rawPos)
	}
	var p vec.Vec3
	if _, err := fmt.Sscanf(strings.Join(parts, " "), "%d %d %d", &p.X, &p.Y, &p.Z); err != nil {
		return fmt.Errorf("pos: %w", err)
	}

	f, err := block.ParseFacings(rawFacings)
	if err != nil {
		return err
	}

	ev, err := eventbus.NewFacingsChangedEnvelope("event-cli", p, block.FacingsNone, f, false)
	if err != nil {
		return err
	}
	if err := eventbus.PublishWithTimeout(bus, ev, 5*time.Second); err != nil {
		return err
	}
	fmt.Printf("Published %s %s %s\n", ev.ID, p, f.ShortString())
	return nil
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
