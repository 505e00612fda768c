package httpfeed

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const defaultLimit = 50

type stateView struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// NewRouter returns the gin engine serving the recorder.
func NewRouter(rec *Recorder, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		if !rec.Connected() {
			status = http.StatusServiceUnavailable
		}
		body := gin.H{"connected": rec.Connected(), "events_total": rec.Total()}
		if latest := rec.States(1); len(latest) == 1 {
			body["state"] = latest[0].Description
			body["since"] = latest[0].Timestamp.UTC()
		}
		c.JSON(status, body)
	})

	router.GET("/events", func(c *gin.Context) {
		limit, ok := parseLimit(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, rec.Events(limit))
	})

	router.GET("/states", func(c *gin.Context) {
		limit, ok := parseLimit(c)
		if !ok {
			return
		}
		states := rec.States(limit)
		views := make([]stateView, 0, len(states))
		for _, s := range states {
			views = append(views, stateView{Timestamp: s.Timestamp.UTC(), Description: s.Description})
		}
		c.JSON(http.StatusOK, views)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return limit, true
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("http request")
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("http feed listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Annotatef(err, "serving %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Annotate(err, "http feed shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}
	return nil
}
