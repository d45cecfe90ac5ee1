package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/seu-repo/voice-gateway/internal/audio"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/service/session"
)

const (
	chunkSize   = 4096
	turnTimeout = 60 * time.Second
)

// VoiceClient drives one streaming session against the gateway.
type VoiceClient struct {
	conn *websocket.Conn
	log  *zap.Logger
}

// Dial connects and waits for the connected frame.
func Dial(ctx context.Context, url, token string, log *zap.Logger) (*VoiceClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(32 << 20)

	c := &VoiceClient{conn: conn, log: log}
	frame, err := c.next(dialCtx, nil)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, err
	}
	if frame.Type != session.FrameConnected {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("unexpected first frame %q: %s", frame.Type, frame.Message)
	}
	log.Info("Connected", zap.String("session_id", frame.SessionID), zap.String("user_id", frame.UserID))
	return c, nil
}

// Start sends the optional session preferences.
func (c *VoiceClient) Start(ctx context.Context, language, voice string) error {
	if language == "" && voice == "" {
		return nil
	}
	if err := wsjson.Write(ctx, c.conn, session.ClientFrame{Type: session.FrameStart, Language: language, Voice: voice}); err != nil {
		return err
	}
	_, err := c.next(ctx, nil)
	return err
}

func (c *VoiceClient) SendText(ctx context.Context, text, out string) error {
	if err := wsjson.Write(ctx, c.conn, session.ClientFrame{Type: session.FrameTextFallback, Text: text}); err != nil {
		return err
	}
	return c.awaitReply(ctx, out)
}

// SendAudioFile streams a WAV file, or raw PCM16 at the given rate, in
// binary chunks and marks the end of the utterance.
func (c *VoiceClient) SendAudioFile(ctx context.Context, path string, rate, channels int, out string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	complete := session.ClientFrame{Type: session.FrameAudioComplete}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		d, err := audio.WAVDuration(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		c.log.Info("Sending WAV utterance", zap.Duration("duration", d))
		complete.Format = string(domain.EncodingWAV)
	} else {
		c.log.Info("Sending PCM utterance", zap.Duration("duration", audio.PCMDuration(len(data), rate, channels)))
		complete.Format = string(domain.EncodingPCM16)
		complete.SampleRate = rate
		complete.Channels = channels
	}

	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := c.conn.Write(ctx, websocket.MessageBinary, data[off:end]); err != nil {
			return err
		}
	}
	if err := wsjson.Write(ctx, c.conn, complete); err != nil {
		return err
	}
	return c.awaitReply(ctx, out)
}

// RunInteractive sends each stdin line as a text utterance.
func (c *VoiceClient) RunInteractive(ctx context.Context, in io.Reader, out string) error {
	fmt.Println("Type an utterance and press Enter. 'quit' exits.")
	scanner := bufio.NewScanner(in)
	turn := 0
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}
		turn++
		if err := c.SendText(ctx, line, numbered(out, turn)); err != nil {
			return err
		}
	}
}

// Close asks the server to end the session and waits briefly for it.
func (c *VoiceClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, session.ClientFrame{Type: session.FrameClose}); err == nil {
		c.next(ctx, func(f session.ServerFrame) bool { return f.Type == session.FrameClosing })
	}
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// awaitReply prints frames until the turn ends and writes any reply audio.
func (c *VoiceClient) awaitReply(ctx context.Context, out string) error {
	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	var reply []byte
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			reply = append(reply, data...)
			continue
		}

		var f session.ServerFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("malformed frame: %w", err)
		}
		c.print(f)

		switch f.Type {
		case session.FrameAudioComplete:
			if err := os.WriteFile(out, reply, 0o644); err != nil {
				return err
			}
			fmt.Printf("  reply audio: %s (%d bytes)\n", out, len(reply))
			return nil
		case session.FrameRateLimited:
			return nil
		case session.FrameError:
			if f.Code == session.CodeSynthesisUnavailable || f.Code == session.CodeEmptyUtterance || f.Code == session.CodeBusy {
				return nil
			}
			return fmt.Errorf("%s: %s", f.Code, f.Message)
		case session.FrameClosing:
			return fmt.Errorf("session closed: %s", f.Reason)
		}
	}
}

// next reads structured frames until match accepts one, or returns the
// first frame when match is nil.
func (c *VoiceClient) next(ctx context.Context, match func(session.ServerFrame) bool) (session.ServerFrame, error) {
	for {
		var f session.ServerFrame
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return f, err
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return f, err
		}
		if match == nil || match(f) {
			return f, nil
		}
	}
}

func (c *VoiceClient) print(f session.ServerFrame) {
	switch f.Type {
	case session.FrameTranscript:
		fmt.Printf("  heard: %q\n", f.Text)
	case session.FrameIntent:
		fmt.Printf("  intent: %s %v\n", f.Intent, f.Entities)
	case session.FrameResponse:
		fmt.Printf("  reply: %s\n", f.Text)
	case session.FrameRateLimited:
		fmt.Printf("  rate limited, retry in %ds\n", f.RetryAfter)
	case session.FrameError:
		fmt.Printf("  error [%s]: %s\n", f.Code, f.Message)
	default:
		c.log.Debug("Frame", zap.String("type", f.Type), zap.String("message", f.Message))
	}
}

func numbered(path string, n int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), n, ext)
}
