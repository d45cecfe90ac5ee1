package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

var (
	serverURL   = flag.String("server", "ws://localhost:8080/ws/voice", "Voice gateway WebSocket URL")
	token       = flag.String("token", os.Getenv("VOICE_TOKEN"), "Bearer token (defaults to $VOICE_TOKEN)")
	audioFile   = flag.String("audio", "", "Utterance to send: a .wav file or raw 16-bit PCM")
	sampleRate  = flag.Int("rate", 16000, "Sample rate of raw PCM input")
	channels    = flag.Int("channels", 1, "Channel count of raw PCM input")
	text        = flag.String("text", "", "Send a text utterance instead of audio")
	language    = flag.String("lang", "", "Language hint for the session")
	voiceName   = flag.String("voice", "", "Voice profile for replies")
	outFile     = flag.String("out", "reply.mp3", "Where to write the spoken reply")
	interactive = flag.Bool("interactive", false, "Read text utterances from stdin")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "a token is required (-token or $VOICE_TOKEN)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := Dial(ctx, *serverURL, *token, logger)
	if err != nil {
		logger.Fatal("Failed to connect to gateway", zap.Error(err))
	}
	defer client.Close()

	if err := client.Start(ctx, *language, *voiceName); err != nil {
		logger.Fatal("Session start failed", zap.Error(err))
	}

	switch {
	case *interactive:
		err = client.RunInteractive(ctx, os.Stdin, *outFile)
	case *text != "":
		err = client.SendText(ctx, *text, *outFile)
	case *audioFile != "":
		err = client.SendAudioFile(ctx, *audioFile, *sampleRate, *channels, *outFile)
	default:
		fmt.Fprintln(os.Stderr, "nothing to send: pass -audio, -text or -interactive")
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("Turn failed", zap.Error(err))
	}
}
