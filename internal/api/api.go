// Package api exposes the indexer's read surface: paginated posts and
// users as JSON, and the per-topic Atom feed.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"

	"github.com/pressone/atom/internal/feed"
	"github.com/pressone/atom/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type Server struct {
	echo   *echo.Echo
	store  store.AtomStore
	feed   *feed.Generator
	logger *slog.Logger
}

func NewServer(s store.AtomStore, generator *feed.Generator, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(slogecho.New(logger.With(slog.String("module", "api"))))
	e.Use(middleware.Recover())

	srv := &Server{
		echo:   e,
		store:  s,
		feed:   generator,
		logger: logger.With(slog.String("module", "api")),
	}

	e.GET("/posts", srv.getPosts)
	e.GET("/users", srv.getUsers)
	e.GET("/output/:topic", srv.getOutput)

	return srv
}

func (s *Server) Start(address string) error {
	err := s.echo.Start(address)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) GracefulStop() {
	s.logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown failed", slog.String("err", err.Error()))
	}
}

// Handler exposes the HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func pagination(c echo.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	return offset, limit
}

type postResponse struct {
	PublishTxID string    `json:"publish_tx_id"`
	UserAddress string    `json:"user_address"`
	FileHash    string    `json:"file_hash"`
	Topic       string    `json:"topic"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) getPosts(c echo.Context) error {
	topic := c.QueryParam("topic")
	if topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}

	offset, limit := pagination(c)

	posts, err := s.store.GetAllowedPosts(c.Request().Context(), topic, offset, limit)
	if err != nil {
		s.logger.Error("unable to load posts", slog.String("err", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	res := make([]postResponse, 0, len(posts))
	for _, post := range posts {
		res = append(res, postResponse{
			PublishTxID: post.PublishTxID,
			UserAddress: post.UserAddress,
			FileHash:    post.FileHash,
			Topic:       post.Topic,
			URL:         post.URL,
			UpdatedAt:   post.UpdatedAt,
		})
	}

	return c.JSON(http.StatusOK, res)
}

type userResponse struct {
	UserAddress string    `json:"user_address"`
	Status      string    `json:"status"`
	TxID        string    `json:"tx_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) getUsers(c echo.Context) error {
	topic := c.QueryParam("topic")
	if topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}

	offset, limit := pagination(c)

	users, err := s.store.GetUsers(c.Request().Context(), topic, offset, limit)
	if err != nil {
		s.logger.Error("unable to load users", slog.String("err", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	res := make([]userResponse, 0, len(users))
	for _, user := range users {
		res = append(res, userResponse{
			UserAddress: user.UserAddress,
			Status:      user.Status,
			TxID:        user.TxID,
			UpdatedAt:   user.UpdatedAt,
		})
	}

	return c.JSON(http.StatusOK, res)
}

func (s *Server) getOutput(c echo.Context) error {
	topic := c.Param("topic")

	_, limit := pagination(c)

	atom, err := s.feed.Atom(c.Request().Context(), topic, limit)
	if err != nil {
		s.logger.Error("unable to render feed", slog.String("err", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	return c.Blob(http.StatusOK, "application/atom+xml; charset=utf-8", []byte(atom))
}
