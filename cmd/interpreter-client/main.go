// Command interpreter-client streams a WAV file to a running interpreter the
// way the browser page does, then prints the transcript pair and saves the
// synthesized translation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/live-interpreter/internal/capture"
	"github.com/live-interpreter/internal/logging"
	"github.com/live-interpreter/internal/transport"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/", "interpreter websocket URL")
	wavPath := flag.String("wav", "", "input WAV file (any rate, mono or stereo)")
	source := flag.String("source", "de-DE", "source language tag")
	target := flag.String("target", "en-US", "target language tag")
	out := flag.String("out", "translation.mp3", "where to write the synthesized audio")
	block := flag.Int("block", 128, "samples per frame")
	binary := flag.Bool("binary", false, "send frames as binary websocket messages")
	realtime := flag.Bool("realtime", false, "pace frames at the audio rate")
	timeout := flag.Duration("timeout", 90*time.Second, "overall deadline")
	flag.Parse()

	logging.Init(os.Getenv("LOG_LEVEL"))
	defer logging.Sync()

	if *wavPath == "" {
		fmt.Fprintln(os.Stderr, "usage: interpreter-client -wav speech.wav [-server ws://host:8080/]")
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := run(ctx, *serverURL, *wavPath, *source, *target, *out, *block, *binary, *realtime); err != nil {
		logging.Errorw("client failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, serverURL, wavPath, source, target, out string, block int, binary, realtime bool) error {
	blocks, err := capture.ReadWAV(wavPath, block)
	if err != nil {
		return err
	}
	conn, err := transport.Dial(ctx, serverURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Send(ctx, transport.ClientReady(source, target)); err != nil {
		return err
	}
	if _, err := await(ctx, conn, transport.EventServerReady); err != nil {
		return err
	}

	enc := capture.NewEncoder(block)
	pace := time.Duration(block) * time.Second / capture.SampleRate
	var peak float64
	for _, b := range blocks {
		f, err := enc.Encode(b)
		if err != nil {
			return err
		}
		if f.Loudness > peak {
			peak = f.Loudness
		}
		if binary {
			err = conn.SendBinary(ctx, f.Bytes())
		} else {
			err = conn.Send(ctx, transport.Audio(f.Bytes()))
		}
		if err != nil {
			return err
		}
		if realtime {
			time.Sleep(pace)
		}
	}
	logging.Infow("audio sent", "frames", len(blocks), "peak_loudness", peak)
	if err := conn.Send(ctx, transport.EndOfSpeech()); err != nil {
		return err
	}

	pair, err := await(ctx, conn, transport.EventTranscriptPair)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n-> %s\n", pair.SourceText, pair.TranslatedText)
	if pair.TranslatedText == "" {
		return nil
	}
	audio, err := await(ctx, conn, transport.EventAudioContent)
	if err != nil {
		return err
	}
	mp3, err := audio.PCM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, mp3, 0o644); err != nil {
		return err
	}
	logging.Infow("translation saved", "path", out, "bytes", len(mp3))
	return nil
}

// await reads until an event named want arrives. error events and ctx
// expiry end the wait.
func await(ctx context.Context, conn *transport.Conn, want string) (transport.Message, error) {
	type result struct {
		m   transport.Message
		err error
	}
	for {
		ch := make(chan result, 1)
		go func() {
			m, err := conn.Read()
			ch <- result{m, err}
		}()
		select {
		case <-ctx.Done():
			conn.Close()
			return transport.Message{}, fmt.Errorf("waiting for %s: %w", want, ctx.Err())
		case r := <-ch:
			if r.err != nil {
				return transport.Message{}, r.err
			}
			switch r.m.Event {
			case want:
				return r.m, nil
			case transport.EventError:
				return transport.Message{}, fmt.Errorf("server error: %s", r.m.Message)
			default:
				logging.Debugw("ignoring event", "event", r.m.Event)
			}
		}
	}
}
