// Package httpapi is a thin transport adapter mapping HTTP calls onto the
// reservation lifecycle operations. It owns no business rules: wire decoding,
// error-to-status mapping, and response framing only.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"reserveflow/changelog"
	"reserveflow/reservation"
)

// Core is the surface the adapter needs from the reservation service.
type Core interface {
	Reserve(ctx context.Context, params reservation.CreateParams) (reservation.Reservation, error)
	Confirm(ctx context.Context, id string) (reservation.Reservation, error)
	UpdateNote(ctx context.Context, id, note string) (reservation.Reservation, error)
	Cancel(ctx context.Context, id string) (reservation.Reservation, error)
	Get(ctx context.Context, id string) (reservation.Reservation, error)
	Query(ctx context.Context, f reservation.QueryFilter) (*reservation.Cursor, error)
	Replay(ctx context.Context, from int64) (*changelog.Cursor, error)
	Subscribe() *changelog.Subscription
}

type Server struct {
	core   Core
	logger *zap.Logger
}

func NewServer(core Core, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{core: core, logger: logger}
}

// Register mounts all routes on the echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/reservations", s.reserve)
	e.GET("/v1/reservations", s.query)
	e.GET("/v1/reservations/:id", s.get)
	e.POST("/v1/reservations/:id/confirm", s.confirm)
	e.PATCH("/v1/reservations/:id/note", s.updateNote)
	e.DELETE("/v1/reservations/:id", s.cancel)
	e.GET("/v1/changes", s.replay)
	e.GET("/v1/changes/stream", s.subscribe)
}

type reservationResponse struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toResponse(r reservation.Reservation) reservationResponse {
	return reservationResponse{
		ID:         r.ID,
		ResourceID: r.ResourceID,
		UserID:     r.UserID,
		Status:     string(r.Status),
		Start:      r.Window.Start,
		End:        r.Window.End,
		Note:       r.Note,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (s *Server) reserve(c echo.Context) error {
	var body struct {
		ResourceID string    `json:"resource_id"`
		UserID     string    `json:"user_id"`
		Start      time.Time `json:"start"`
		End        time.Time `json:"end"`
		Note       string    `json:"note"`
		Status     string    `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	rsvp, err := s.core.Reserve(c.Request().Context(), reservation.CreateParams{
		ResourceID: body.ResourceID,
		UserID:     body.UserID,
		Window:     reservation.Window{Start: body.Start, End: body.End},
		Note:       body.Note,
		Status:     reservation.Status(body.Status),
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toResponse(rsvp))
}

func (s *Server) confirm(c echo.Context) error {
	rsvp, err := s.core.Confirm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(rsvp))
}

func (s *Server) updateNote(c echo.Context) error {
	var body struct {
		Note string `json:"note"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	rsvp, err := s.core.UpdateNote(c.Request().Context(), c.Param("id"), body.Note)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(rsvp))
}

func (s *Server) cancel(c echo.Context) error {
	rsvp, err := s.core.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(rsvp))
}

func (s *Server) get(c echo.Context) error {
	rsvp, err := s.core.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(rsvp))
}

// query streams matches as NDJSON so large result sets are never materialized
// server-side.
func (s *Server) query(c echo.Context) error {
	filter := reservation.QueryFilter{
		ResourceID: c.QueryParam("resource_id"),
		UserID:     c.QueryParam("user_id"),
		Status:     reservation.Status(c.QueryParam("status")),
	}
	if startStr, endStr := c.QueryParam("start"), c.QueryParam("end"); startStr != "" || endStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid start"})
		}
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid end"})
		}
		filter.Window = reservation.Window{Start: start, End: end}
	}

	cur, err := s.core.Query(c.Request().Context(), filter)
	if err != nil {
		return s.writeError(c, err)
	}
	defer cur.Close()

	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Response())
	for cur.Next() {
		if err := enc.Encode(toResponse(cur.Reservation())); err != nil {
			return err
		}
		c.Response().Flush()
	}
	if err := cur.Err(); err != nil {
		s.logger.Error("query stream aborted", zap.Error(err))
	}
	return nil
}

func (s *Server) replay(c echo.Context) error {
	var from int64
	if v := c.QueryParam("from"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid from sequence"})
		}
		from = parsed
	}

	cur, err := s.core.Replay(c.Request().Context(), from)
	if err != nil {
		return s.writeError(c, err)
	}
	defer cur.Close()

	type changeResponse struct {
		Seq           int64     `json:"seq"`
		ReservationID string    `json:"reservation_id"`
		Op            string    `json:"op"`
		Timestamp     time.Time `json:"timestamp"`
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Response())
	for cur.Next() {
		rec := cur.Record()
		if err := enc.Encode(changeResponse{
			Seq:           rec.Seq,
			ReservationID: rec.ReservationID,
			Op:            string(rec.Op),
			Timestamp:     rec.CreatedAt,
		}); err != nil {
			return err
		}
		c.Response().Flush()
	}
	if err := cur.Err(); err != nil {
		s.logger.Error("replay stream aborted", zap.Error(err))
	}
	return nil
}

// subscribe is a server-sent-events stream of change signals. Each event is a
// wake-up hint carrying the newest sequence id; clients replay from their
// last-seen seq to fetch the records.
func (s *Server) subscribe(c echo.Context) error {
	sub := s.core.Subscribe()
	if sub == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "change stream not available"})
	}
	defer sub.Close()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sub.C:
			if _, err := fmt.Fprintf(c.Response(), "data: {\"max_seq\":%d}\n\n", sig.MaxSeq); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}

func (s *Server) writeError(c echo.Context, err error) error {
	var (
		validation *reservation.ValidationError
		conflict   *reservation.ConflictError
		state      *reservation.InvalidStateError
	)
	switch {
	case errors.As(err, &validation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": validation.Error()})
	case errors.As(err, &conflict):
		body := echo.Map{"error": conflict.Error()}
		if conflict.ConflictingID != "" {
			body["conflicting_id"] = conflict.ConflictingID
		}
		return c.JSON(http.StatusConflict, body)
	case errors.As(err, &state):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": state.Error()})
	case errors.Is(err, reservation.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	case errors.Is(err, reservation.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable, retry later"})
	default:
		s.logger.Error("internal error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
