package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tunogya/fractal/pkg/cache"
	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/engine"
	"github.com/tunogya/fractal/pkg/model"
)

// matchRequest is the JSON body of match and explain requests
type matchRequest struct {
	Symbol             string `json:"symbol"`
	Timeframe          string `json:"timeframe"`
	WindowLen          int    `json:"windowLen"`
	TopK               int    `json:"topK"`
	ForwardHorizonDays int    `json:"forwardHorizonDays"`
	AsOf               string `json:"asOf,omitempty"` // YYYY-MM-DD, RFC3339 or unix ms
	SimilarityMode     string `json:"similarityMode,omitempty"`
	IncludeSeriesUsed  bool   `json:"includeSeriesUsed,omitempty"`
}

func (r matchRequest) toModel() (model.MatchRequest, error) {
	req := model.MatchRequest{
		Symbol:             r.Symbol,
		Timeframe:          r.Timeframe,
		WindowLen:          r.WindowLen,
		TopK:               r.TopK,
		ForwardHorizonDays: r.ForwardHorizonDays,
		SimilarityMode:     model.Representation(r.SimilarityMode),
		IncludeSeriesUsed:  r.IncludeSeriesUsed,
	}
	if r.AsOf != "" {
		t, err := data.ParseTimestamp(r.AsOf)
		if err != nil {
			return req, err
		}
		req.AsOf = &t
	}
	return req, nil
}

// seriesRequest names one series for admin operations
type seriesRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) match(c echo.Context) error {
	return s.serveCached(c, "match", func(req model.MatchRequest) (any, string, error) {
		resp, err := s.engine.Match(c.Request().Context(), req)
		if err != nil {
			return nil, "", err
		}
		return resp, resp.Fingerprint, nil
	})
}

func (s *Server) explain(c echo.Context) error {
	return s.serveCached(c, "explain", func(req model.MatchRequest) (any, string, error) {
		resp, err := s.engine.Explain(c.Request().Context(), req)
		if err != nil {
			return nil, "", err
		}
		return resp, resp.Fingerprint, nil
	})
}

// serveCached answers from the response cache when the series snapshot is unchanged,
// otherwise runs fn and caches its result under the generation it was computed on.
func (s *Server) serveCached(c echo.Context, prefix string, fn func(model.MatchRequest) (any, string, error)) error {
	ctx := c.Request().Context()

	var body matchRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body"})
	}
	req, err := body.toModel()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Field: "asOf"})
	}

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = "1d"
	}
	if fp := s.engine.Fingerprint(req.Symbol, timeframe); fp != "" {
		if key, err := cache.Key(prefix, body, fp); err == nil {
			if b, ok, err := s.cache.GetBytes(ctx, key); err == nil && ok {
				c.Response().Header().Set("X-Cache", "HIT")
				return c.JSONBlob(http.StatusOK, b)
			} else if err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("response cache read failed")
			}
		}
	}

	resp, fp, err := fn(req)
	if err != nil {
		return s.engineError(c, err)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if key, err := cache.Key(prefix, body, fp); err == nil {
		if err := s.cache.SetBytes(ctx, key, b, s.cfg.CacheTTL); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("response cache write failed")
		}
	}

	c.Response().Header().Set("X-Cache", "MISS")
	return c.JSONBlob(http.StatusOK, b)
}

// engineError maps engine error kinds onto HTTP statuses
func (s *Server) engineError(c echo.Context, err error) error {
	var ee *engine.Error
	if !errors.As(err, &ee) {
		s.log.Error().Err(err).Msg("match failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}

	switch ee.Kind {
	case engine.KindValidation:
		return c.JSON(http.StatusBadRequest, errorBody{Error: ee.Err.Error(), Field: ee.Field})
	case engine.KindSeriesUnavailable:
		if errors.Is(err, data.ErrNoSeries) {
			return c.JSON(http.StatusNotFound, errorBody{Error: "series not found"})
		}
		s.log.Error().Err(err).Msg("series unavailable")
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "series unavailable"})
	default:
		s.log.Error().Err(err).Msg("match failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) caches(c echo.Context) error {
	infos := s.engine.Caches()
	if infos == nil {
		infos = []engine.CacheInfo{}
	}
	return c.JSON(http.StatusOK, infos)
}

// invalidate marks one series STALE, or every series when the body names none
func (s *Server) invalidate(c echo.Context) error {
	var body seriesRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body"})
	}

	if body.Symbol == "" {
		s.engine.InvalidateAll()
		return c.JSON(http.StatusOK, map[string]any{"invalidated": "all"})
	}
	if body.Timeframe == "" {
		body.Timeframe = "1d"
	}
	s.engine.Invalidate(body.Symbol, body.Timeframe)
	return c.JSON(http.StatusOK, map[string]any{"invalidated": body})
}

func (s *Server) rebuild(c echo.Context) error {
	var body seriesRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "malformed request body"})
	}
	if body.Symbol == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "symbol is required", Field: "symbol"})
	}
	if body.Timeframe == "" {
		body.Timeframe = "1d"
	}

	if err := s.engine.Rebuild(c.Request().Context(), body.Symbol, body.Timeframe); err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"rebuilt":    body,
		"generation": s.engine.Generation(body.Symbol, body.Timeframe),
	})
}
