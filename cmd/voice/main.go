// Command voice runs the voice session from a terminal: microphone (or a
// PCM file) in, speaker out, and typed commands for everything else.
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
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/billvoice/audio"
	"github.com/room4-2/billvoice/audio/device"
	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/session"
	"github.com/room4-2/billvoice/transport"
	"github.com/room4-2/billvoice/ui"
	"github.com/room4-2/billvoice/voice"
)

const help = `commands:
  /voice   toggle voice mode
  /mic     start the microphone
  /mute    stop the microphone
  /quit    leave
anything else is sent as a typed message`

func main() {
	mode := flag.String("transport", "", "override VOICE_TRANSPORT (direct or relay)")
	audioFile := flag.String("file", "", "stream this PCM16/WAV file instead of the microphone")
	silent := flag.Bool("silent", false, "do not open the speaker")
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

	var src audio.Source
	if *audioFile != "" {
		pcm, err := audio.LoadPCMFile(*audioFile)
		if err != nil {
			lg.Fatal("Failed to load audio", zap.String("file", *audioFile), zap.Error(err))
		}
		lg.Info("📁 Streaming audio file", zap.String("file", *audioFile), zap.Duration("length", audio.Duration(len(pcm))))
		src = audio.NewFileSource(pcm, 100*time.Millisecond)
	} else {
		src = device.NewMicrophone(lg)
	}

	var sink audio.Sink = audio.DiscardSink{}
	if !*silent {
		speaker, err := device.NewSpeaker(lg)
		if err != nil {
			lg.Warn("⚠️ Speaker unavailable, playing nothing", zap.Error(err))
		} else {
			sink = speaker
		}
	}
	player := audio.NewPlayer(sink, lg)

	opts := transport.FromConfig(cfg, session.NewSessionConfig(cfg.Voice))
	opts.Source = src
	opts.Player = player
	opts.Logger = lg
	tr, err := transport.New(cfg.Transport, opts)
	if err != nil {
		lg.Fatal("Failed to create transport", zap.Error(err))
	}

	coord := voice.New(voice.Options{
		Transport: tr,
		Player:    player,
		Host:      ui.MessageFunc(printMessage),
		Signals:   ui.LogSink{Log: lg},
		Logger:    lg,
	})
	defer coord.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := coord.Toggle(ctx); err != nil {
		lg.Warn("⚠️ Voice mode did not fully start", zap.Error(err))
	}
	fmt.Println(help)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handle(ctx, coord, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

func handle(ctx context.Context, coord *voice.Coordinator, line string) bool {
	switch line {
	case "":
	case "/quit":
		return false
	case "/voice":
		if err := coord.Toggle(ctx); err != nil {
			fmt.Println("!", err)
		}
		fmt.Println("voice mode:", coord.State())
	case "/mic":
		if err := coord.StartCapture(); err != nil {
			fmt.Println("!", err)
		}
	case "/mute":
		coord.StopCapture()
	default:
		if err := coord.SendTextMessage(line); err != nil {
			fmt.Println("!", err)
		}
	}
	return true
}

func printMessage(msg ui.ChatMessage) {
	fmt.Printf("[%s] %s\n", msg.Sender, msg.Text)
	if msg.Attachment == nil {
		return
	}
	a := msg.Attachment
	switch a.Kind {
	case ui.AttachBills:
		for _, b := range a.Bills {
			fmt.Printf("    %s  %-24s $%.2f\n", b.ID, b.Provider, b.Amount)
		}
	case ui.AttachPaymentPlans:
		for _, p := range a.Plans {
			fmt.Printf("    %s  %s\n", p.ID, p.Label)
		}
	case ui.AttachPaymentSummary:
		if a.Payment != nil {
			fmt.Printf("    paid $%.2f for %s (%s)\n", a.Payment.Amount, a.Payment.BillID, a.Payment.TransactionID)
		}
	case ui.AttachAccount:
		if a.Account != nil {
			fmt.Printf("    account %s (%s %s)\n", a.Account.ID, a.Account.FirstName, a.Account.LastName)
		}
	}
}
