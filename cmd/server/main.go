package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"grounded-query/internal/app"
	"grounded-query/internal/grounding"
	"grounded-query/internal/httputil"
	"grounded-query/internal/persona"
	"grounded-query/internal/queue"
)

const sessionHeader = "X-Session-ID"

type queryRequest struct {
	Query             string   `json:"query" validate:"required,max=4000"`
	SystemInstruction string   `json:"system_instruction" validate:"max=4000"`
	Category          string   `json:"category" validate:"omitempty,oneof=research technical creative"`
	Temperature       *float64 `json:"temperature" validate:"omitempty,gte=0,lte=1"`
	// Grounding defaults to true when omitted.
	Grounding *bool `json:"grounding"`
}

type source struct {
	Title  string `json:"title"`
	URI    string `json:"uri"`
	Domain string `json:"domain"`
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := httputil.NewRouter(deps.Log, app.CallBudget(deps.Config)+5*time.Second)
	r.Post("/api/query", queryHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps.Log.Info("query service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if deps.Queue != nil {
		// Serve queue clients with the same client and cache as HTTP callers.
		g.Go(func() error {
			return deps.Queue.Worker(ctx, queue.TaskTypeQuery, queue.QueryHandler(deps.Querier))
		})
	}

	if err := g.Wait(); err != nil {
		deps.Log.Error("server error", "err", err)
	}
}

func queryHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}

		req.Query = strings.TrimSpace(req.Query)
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		instruction := req.SystemInstruction
		if instruction == "" {
			text, err := persona.Lookup(req.Category)
			if err != nil {
				httputil.Fail(deps.Log, w, "unknown category", err, http.StatusBadRequest)
				return
			}
			instruction = text
		}
		grounded := req.Grounding == nil || *req.Grounding

		ctx := r.Context()
		sessionID := sessionKey(r)
		remaining, err := deps.Quota.Reserve(ctx, sessionID)
		if err != nil {
			httputil.QueryFailure(deps.Log, w, err)
			return
		}

		result, err := deps.Querier.Execute(ctx, grounding.QueryRequest{
			Query:             req.Query,
			SystemInstruction: instruction,
			Temperature:       req.Temperature,
			GroundingEnabled:  grounded,
		})
		if err != nil {
			// Failed calls are not charged against the session.
			if relErr := deps.Quota.Release(context.WithoutCancel(ctx), sessionID); relErr != nil {
				deps.Log.Warn("failed to release session quota", "err", relErr)
			}
			httputil.QueryFailure(deps.Log, w, err)
			return
		}

		if remaining >= 0 {
			w.Header().Set("X-Queries-Remaining", strconv.Itoa(remaining))
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"answer":    result.AnswerText,
			"sources":   buildSources(result.Sources),
			"grounding": grounded,
		})
	}
}

// sessionKey identifies the caller for quota purposes, falling back to the client address.
func sessionKey(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

func buildSources(sources []grounding.Source) []source {
	out := make([]source, len(sources))
	for i, s := range sources {
		out[i] = source{Title: s.Title, URI: s.URI, Domain: s.Domain()}
	}
	return out
}
