package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registerRuntimeCollectorsOnce sync.Once

// httpServer is an optional auxiliary HTTP endpoint (metrics, pprof).
type httpServer struct {
	name string
	srv  *http.Server
	lis  net.Listener
}

func newHTTPServer(name, addr string, handler http.Handler) (*httpServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", name, addr, err)
	}
	return &httpServer{
		name: name,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		lis: lis,
	}, nil
}

func (h *httpServer) serve(logger Logger, errCh chan<- error) {
	logger.Info(h.name+" server listening", "addr", h.lis.Addr().String())
	go func() {
		if err := h.srv.Serve(h.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s serve: %w", h.name, err)
		}
	}()
}

func (h *httpServer) shutdown(logger Logger) {
	if h == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn(h.name+" shutdown failed", "error", err)
	}
}

// auxServers opens the metrics and pprof listeners that are configured.
func (a *App) auxServers() ([]*httpServer, error) {
	var out []*httpServer
	closeAll := func() {
		for _, s := range out {
			_ = s.lis.Close()
		}
	}

	if a.config.MetricsAddr != "" {
		handler, err := metricsHandler()
		if err != nil {
			return nil, err
		}
		s, err := newHTTPServer("metrics", a.config.MetricsAddr, handler)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if a.config.PprofAddr != "" {
		s, err := newHTTPServer("pprof", a.config.PprofAddr, pprofHandler())
		if err != nil {
			closeAll()
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func metricsHandler() (http.Handler, error) {
	var regErr error
	registerRuntimeCollectorsOnce.Do(func() {
		if err := prometheus.DefaultRegisterer.Register(collectors.NewGoCollector()); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				regErr = fmt.Errorf("metrics register go collector: %w", err)
				return
			}
		}
		if err := prometheus.DefaultRegisterer.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				regErr = fmt.Errorf("metrics register process collector: %w", err)
				return
			}
		}
	})
	if regErr != nil {
		return nil, regErr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux, nil
}

func pprofHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/debug/pprof/"+name, pprof.Handler(name))
	}
	return mux
}
