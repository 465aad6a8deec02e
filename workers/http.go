package workers

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"gorenbridge/config"
	"gorenbridge/metrics"
	"gorenbridge/workers/handlers"
)

func Router(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Options("/*", CORSHeaders)

	r.Get("/state", api.State)
	r.Get("/health", api.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Post("/flows", api.CreateFlow)
	r.Route("/flows/{id}", func(r chi.Router) {
		r.Get("/", api.GetFlow)
		r.Delete("/", api.DeleteFlow)
		r.Get("/ws", api.WatchFlow)
		r.Post("/resume", api.ResumeFlow)
		r.Get("/stages/{stage}/request", api.StageRequest)
		r.Post("/stages/{stage}/signed", api.SignedTx)
		r.Post("/stages/{stage}/submit", api.SubmitStage)
		r.Post("/stages/{stage}/reset", api.ResetStage)
	})

	r.Get("/history/{address}", api.History)
	r.Delete("/history/{address}/{hash}", api.RemoveHistory)

	r.Get("/wallet", api.WalletState)
	r.Post("/wallet/chain", api.SwitchChain)
	r.Post("/wallet/history", api.OpenHistory)
	r.Post("/wallet/{chain}/connect", api.Connect)
	r.Post("/wallet/{chain}/disconnect", api.Disconnect)

	// a bit of logic to prevent directory listing
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		workDir, _ := os.Getwd()
		filesDir := filepath.Join(workDir, "app")
		filePath := filepath.Join(filesDir, r.URL.Path)

		fileInfo, err := os.Stat(filePath)
		if err != nil || fileInfo.IsDir() {
			filePath = filepath.Join(filesDir, "index.html")
			fileInfo, err = os.Stat(filePath)
			if err != nil {
				http.NotFound(w, r)
				return
			}
		}

		file, err := os.Open(filePath)
		if err != nil {
			// this should not happen at this point
			http.Error(w, "unable to open", http.StatusInternalServerError)
			return
		}
		defer file.Close()

		http.ServeContent(w, r, file.Name(), fileInfo.ModTime(), file)
	})

	return r
}

// Worker_HTTP serves the API until ctx is cancelled, then shuts the server
// down gracefully.
func Worker_HTTP(ctx context.Context, cfg *config.Configuration, api *handlers.API) error {
	log.Printf("Starting HTTP service")

	var server *http.Server

	if cfg.Server.UseSSL {
		cert, err := tls.LoadX509KeyPair("certchain.pem", "privatekey.pem")
		if err != nil {
			return err
		}
		server = &http.Server{
			Addr:    ":443",
			Handler: Router(api),
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		}
	} else {
		server = &http.Server{
			Addr:    cfg.Server.Listen,
			Handler: Router(api),
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.UseSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.Print("HTTP service started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Errorf("error listening to: %s", err)
		return err
	}
	log.Print("HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP service shutdown error: %+v", err)
		return err
	}
	log.Print("HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, X-Requested-With")
}
