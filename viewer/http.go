package viewer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"
	"golang.org/x/time/rate"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pipeline"
	"go.viam.com/stereo/rimage"
)

// commandTimeout bounds how long a command request waits for the pipeline to pick it up.
const commandTimeout = 2 * time.Second

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>stereo</title></head>
<body>
{{range .}}<figure><img src="/stream/{{.}}" alt="{{.}}"><figcaption>{{.}}</figcaption></figure>
{{end}}<form method="post" action="/capture"><button>capture</button></form>
<form method="post" action="/snapshot"><button>point cloud</button></form>
<form method="post" action="/quit"><button>quit</button></form>
</body>
</html>
`))

// Server is a pipeline.Sink that serves the latest images over HTTP, as single JPEG snapshots
// and as MJPEG streams, and turns POST requests into operator commands.
type Server struct {
	logger   logging.Logger
	commands chan<- pipeline.Command

	mu          sync.Mutex
	streamLimit rate.Limit
	frames  map[string]frame
	seq     uint64
	changed chan struct{}
	done    chan struct{}
	closed  bool
}

// NewServer returns a server. Commands posted by clients are sent on commands, which may be
// nil to disable them.
func NewServer(commands chan<- pipeline.Command, logger logging.Logger) *Server {
	return &Server{
		logger:      logger,
		commands:    commands,
		streamLimit: rate.Inf,
		frames:      map[string]frame{},
		changed:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetMaxStreamRate caps every MJPEG stream opened afterwards at fps frames per second. A
// non-positive fps removes the cap.
func (s *Server) SetMaxStreamRate(fps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fps <= 0 {
		s.streamLimit = rate.Inf
		return
	}
	s.streamLimit = rate.Limit(fps)
}

func (s *Server) newStreamLimiter() *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rate.NewLimiter(s.streamLimit, 1)
}

// Show encodes every image as JPEG and wakes up the streams.
func (s *Server) Show(ctx context.Context, images []pipeline.NamedImage) error {
	encoded := make(map[string][]byte, len(images))
	for _, img := range images {
		var buf bytes.Buffer
		if err := rimage.Encode(&buf, img.Image, rimage.FormatJPEG); err != nil {
			return errors.Wrapf(err, "cannot encode %q", img.Name)
		}
		encoded[img.Name] = buf.Bytes()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("viewer is closed")
	}
	s.seq++
	for name, data := range encoded {
		s.frames[name] = frame{data: data, seq: s.seq}
	}
	close(s.changed)
	s.changed = make(chan struct{})
	return nil
}

// Close ends every open stream. Later calls to Show fail.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Names returns the names of the images shown so far, sorted.
func (s *Server) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.frames))
	for name := range s.frames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type frame struct {
	data []byte
	seq  uint64
}

// latest returns the current JPEG for name and a channel closed on the next Show.
func (s *Server) latest(name string) (frame, chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[name]
	return f, s.changed, ok
}

// Handler returns the routes of the viewer. Images and streams may be embedded by pages from
// any origin; commands may not.
func (s *Server) Handler() http.Handler {
	readOnly := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/"), s.serveIndex)
	mux.Handle(pat.Get("/images/:name"), readOnly.Handler(http.HandlerFunc(s.serveImage)))
	mux.Handle(pat.Get("/stream/:name"), readOnly.Handler(http.HandlerFunc(s.serveStream)))
	mux.Handle(pat.Post("/capture"), s.commandHandler(pipeline.CommandCapture))
	mux.Handle(pat.Post("/snapshot"), s.commandHandler(pipeline.CommandSnapshot))
	mux.Handle(pat.Post("/quit"), s.commandHandler(pipeline.CommandQuit))
	return mux
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.Names()); err != nil {
		s.logger.Debugw("cannot render index", "error", err)
	}
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	f, _, ok := s.latest(pat.Param(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	data := f.data
	w.Header().Set("Content-Type", rimage.FormatJPEG.MimeType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		s.logger.Debugw("cannot write image", "error", err)
	}
}

// serveStream writes a multipart/x-mixed-replace response with one part per shown image until
// the client goes away or the server is closed.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	name := pat.Param(r, "name")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	limiter := s.newStreamLimiter()
	var sent uint64
	for {
		f, changed, ok := s.latest(name)
		if ok && f.seq != sent {
			if err := limiter.Wait(r.Context()); err != nil {
				return
			}
			// Send the newest image, which may have changed while waiting.
			f, changed, _ = s.latest(name)
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {rimage.FormatJPEG.MimeType()},
				"Content-Length": {strconv.Itoa(len(f.data))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(f.data); err != nil {
				return
			}
			flusher.Flush()
			sent = f.seq
		}
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-changed:
		}
	}
}

func (s *Server) commandHandler(cmd pipeline.Command) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.commands == nil {
			http.Error(w, "commands are disabled", http.StatusNotFound)
			return
		}
		timer := time.NewTimer(commandTimeout)
		defer timer.Stop()
		select {
		case s.commands <- cmd:
			s.logger.Infow("command received", "command", cmd.String(), "remote", r.RemoteAddr)
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprintln(w, cmd.String())
		case <-r.Context().Done():
		case <-s.done:
			http.Error(w, "viewer is closed", http.StatusServiceUnavailable)
		case <-timer.C:
			http.Error(w, "pipeline is busy", http.StatusServiceUnavailable)
		}
	})
}

// Serve serves the viewer on listener until ctx is done or the server is closed. Open streams
// end with ctx.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Handler:           s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	serving := make(chan struct{})
	stopped := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
		case <-s.done:
		case <-serving:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("error shutting down viewer", "error", err)
		}
	})

	s.logger.Infow("serving viewer", "url", fmt.Sprintf("http://%s", listener.Addr().String()))
	err := httpServer.Serve(listener)
	close(serving)
	<-stopped
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
