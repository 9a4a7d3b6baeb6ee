// Command preview is a headless live preview: it joins a gateway room,
// subscribes to a host and prints every merged document as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"livepreview/internal/preview"
	"livepreview/internal/preview/adapter"
	"livepreview/internal/preview/merge"
	"livepreview/internal/preview/transport"
)

func main() {
	gateway := flag.String("gateway", "http://localhost:8081", "gateway base URL")
	room := flag.String("room", "", "relay room to join")
	origin := flag.String("origin", "http://localhost:3000", "origin this preview claims; must be allowed by the gateway")
	serverURL := flag.String("server", "", "host origin to trust (default: gateway URL)")
	depth := flag.Int("depth", 0, "relationship population depth")
	initial := flag.String("initial", "{}", "initial document as JSON")
	verbose := flag.Bool("v", false, "log ignored messages")
	flag.Parse()

	if strings.TrimSpace(*room) == "" {
		log.Fatal("-room is required")
	}
	if *serverURL == "" {
		*serverURL = *gateway
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var initialData merge.Document
	if err := json.Unmarshal([]byte(*initial), &initialData); err != nil {
		log.Fatalf("invalid -initial: %v", err)
	}

	wsURL, err := relayURL(*gateway, *room)
	if err != nil {
		log.Fatalf("invalid -gateway: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr, err := transport.DialWS(ctx, transport.WSOptions{URL: wsURL, Origin: *origin, Logger: logger})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer tr.Close()

	client, err := preview.NewClient(preview.Options{Transport: tr, Logger: logger})
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	a := adapter.New(client)
	defer a.Close()

	enc := json.NewEncoder(os.Stdout)
	a.Observe(func(s adapter.State) {
		if s.IsLoading {
			return
		}
		if err := enc.Encode(s.Data); err != nil {
			log.Printf("write: %v", err)
		}
	})
	if err := a.Configure(ctx, initialData, *serverURL, *depth); err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	log.Printf("previewing room %s as %s", *room, *origin)

	select {
	case <-ctx.Done():
	case <-tr.Done():
		log.Printf("relay connection closed")
	}
}

func relayURL(base, room string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"room": []string{room}}.Encode()
	return u.String(), nil
}
