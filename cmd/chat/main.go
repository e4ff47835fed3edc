// Command chat talks to the assistant by text over the same voice session,
// with audio discarded. Handy for exercising the tool flow without a
// microphone.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/room4-2/billvoice/audio"
	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/session"
	"github.com/room4-2/billvoice/transport"
	"github.com/room4-2/billvoice/ui"
	"github.com/room4-2/billvoice/voice"
)

func main() {
	mode := flag.String("transport", "", "override VOICE_TRANSPORT (direct or relay)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *mode != "" {
		cfg.Transport = *mode
	}
	if err := logger.Init(cfg.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	lg := logger.Get()

	player := audio.NewPlayer(audio.DiscardSink{}, lg)
	opts := transport.FromConfig(cfg, session.NewSessionConfig(cfg.Voice))
	opts.Player = player
	opts.Logger = lg
	tr, err := transport.New(cfg.Transport, opts)
	if err != nil {
		lg.Fatal("Failed to create transport", zap.Error(err))
	}

	coord := voice.New(voice.Options{
		Transport: tr,
		Player:    player,
		Host: ui.MessageFunc(func(msg ui.ChatMessage) {
			fmt.Printf("[%s] %s\n", msg.Sender, msg.Text)
		}),
		Signals: ui.LogSink{Log: lg},
		Logger:  lg,
	})
	defer coord.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := coord.Connect(ctx); err != nil {
		lg.Fatal("Failed to connect", zap.Error(err))
	}

	fmt.Print("> ")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			return
		}
		if line != "" {
			if err := coord.SendTextMessage(line); err != nil {
				fmt.Println("!", err)
			}
		}
		fmt.Print("> ")
	}
}
