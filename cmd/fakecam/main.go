// Command fakecam serves a synthetic camera with the same endpoints as the
// IP Webcam app (/video and /shot.jpg) for trying the relay without hardware.
package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-mjpeg"
)

type cli struct {
	Addr     string        `kong:"default=':8080',help='Listen address.',env='FAKECAM_ADDR'"`
	Interval time.Duration `kong:"default='100ms',help='Time between frames.'"`
	Width    int           `kong:"default='320',help='Frame width in pixels.'"`
	Height   int           `kong:"default='240',help='Frame height in pixels.'"`
}

func main() {
	var args cli
	kong.Parse(&args,
		kong.Name("fakecam"),
		kong.Description("Synthetic MJPEG camera."),
	)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := mjpeg.NewStreamWithInterval(args.Interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		produce(ctx, stream, args, logger)
	}()

	mux := http.NewServeMux()
	mux.Handle("/video", stream)
	mux.HandleFunc("/shot.jpg", func(w http.ResponseWriter, _ *http.Request) {
		frame := stream.Current()
		if len(frame) == 0 {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(frame)
	})

	srv := &http.Server{
		Addr:              args.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		// Open /video viewers only return once the stream is closed.
		stream.Close()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("fake camera listening", "addr", args.Addr, "interval", args.Interval)
	err := srv.ListenAndServe()
	stop()
	<-done
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

// produce renders a moving bar so that successive frames are distinguishable.
func produce(ctx context.Context, stream *mjpeg.Stream, args cli, logger *slog.Logger) {
	ticker := time.NewTicker(args.Interval)
	defer ticker.Stop()

	img := image.NewGray(image.Rect(0, 0, args.Width, args.Height))
	var buf bytes.Buffer
	for n := 0; ; n++ {
		for y := 0; y < args.Height; y++ {
			for x := 0; x < args.Width; x++ {
				shade := uint8(40)
				if (x+n*4)%args.Width < args.Width/8 {
					shade = 220
				}
				img.SetGray(x, y, color.Gray{Y: shade})
			}
		}

		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
			logger.Error("encode frame", "err", err)
			return
		}
		if err := stream.Update(bytes.Clone(buf.Bytes())); err != nil {
			logger.Debug("stream closed", "err", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
