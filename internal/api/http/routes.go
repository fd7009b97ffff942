package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/service"
	"github.com/rewired-gh/skywatch/internal/trend"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, svc *service.Service) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"engine": svc.Engine().Stats(),
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/prediction/current", func(c *fiber.Ctx) error {
		return c.JSON(svc.CurrentPrediction())
	})

	v1.Get("/prediction/explain", func(c *fiber.Ctx) error {
		res := svc.Engine().Explain()
		trends := make(map[string]trend.Set, len(res.Inputs))
		for name, in := range res.Inputs {
			trends[name] = in.Trends
		}
		return c.JSON(fiber.Map{
			"prediction":  res.Prediction,
			"reliability": res.Reliability,
			"trends":      trends,
			"fired":       res.Fired,
		})
	})

	v1.Get("/prediction/history", func(c *fiber.Ctx) error {
		var q rangeQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		preds, err := svc.History(q.From, q.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load prediction history")
		}
		if preds == nil {
			preds = []models.Prediction{}
		}
		return c.JSON(fiber.Map{
			"from":        q.From,
			"to":          q.To,
			"predictions": preds,
		})
	})

	v1.Post("/readings", func(c *fiber.Ctx) error {
		var req readingRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		r := req.toReading()
		if err := svc.IngestReading(c.UserContext(), r); err != nil {
			if errors.Is(err, models.ErrOutOfRangeReading) || errors.Is(err, models.ErrOutOfOrderReading) {
				return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(r)
	})

	v1.Post("/events", func(c *fiber.Ctx) error {
		var req eventRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ev, err := req.toEvent()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ev, err = svc.RecordEvent(c.UserContext(), ev)
		if err != nil {
			if errors.Is(err, models.ErrInvalidEvent) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(ev)
	})

	v1.Get("/events", func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "20"))
		if err != nil || limit < 1 || limit > 1000 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 1000")
		}
		events, err := svc.RecentEvents(limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load events")
		}
		if events == nil {
			events = []models.Event{}
		}
		return c.JSON(fiber.Map{"events": events})
	})

	v1.Get("/detectors", func(c *fiber.Ctx) error {
		eng := svc.Engine()
		state := eng.State()
		bounds := eng.Bounds()
		out := make([]detectorView, 0, len(eng.Detectors()))
		for _, d := range eng.Detectors() {
			v := detectorView{
				Name:     d.Name(),
				Specific: d.Specific(),
				Lookback: d.Lookback().String(),
				Bounds:   bounds[d.Name()],
			}
			p := state.Params(d.Name())
			v.Weight = p.Weight
			v.Params = p.Values
			out = append(out, v)
		}
		return c.JSON(fiber.Map{
			"version":   state.Version,
			"detectors": out,
		})
	})

	v1.Post("/calibration", func(c *fiber.Ctx) error {
		report, err := svc.Recalibrate(c.UserContext())
		if errors.Is(err, service.ErrCalibrationDisabled) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		divergences := make([]string, len(report.Divergences))
		for i, d := range report.Divergences {
			divergences[i] = d.Error()
		}
		return c.JSON(fiber.Map{
			"report":      report,
			"divergences": divergences,
		})
	})

	v1.Get("/comparison", func(c *fiber.Ctx) error {
		cmp, err := svc.Compare(c.UserContext())
		if err != nil {
			switch {
			case errors.Is(err, service.ErrOfficialUnavailable):
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			case errors.Is(err, service.ErrNoReadings):
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusBadGateway, "official weather unavailable")
		}
		return c.JSON(cmp)
	})
}

type detectorView struct {
	Name     string             `json:"name"`
	Specific bool               `json:"specific"`
	Lookback string             `json:"lookback"`
	Weight   float64            `json:"weight"`
	Params   map[string]float64 `json:"params"`
	Bounds   any                `json:"bounds"`
}

// readingRequest is the body of POST /readings. Range checks belong to the
// engine, so only presence is validated here.
type readingRequest struct {
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	Temperature *float64  `json:"temperature" validate:"required"`
	Humidity    *float64  `json:"humidity" validate:"required"`
	Pressure    *float64  `json:"pressure" validate:"required"`
}

func (r readingRequest) toReading() models.Reading {
	return models.Reading{
		Timestamp:   r.Timestamp.UTC(),
		Temperature: *r.Temperature,
		Humidity:    *r.Humidity,
		Pressure:    *r.Pressure,
	}
}

// eventRequest is the body of POST /events.
type eventRequest struct {
	Timestamp  *time.Time `json:"timestamp"`
	Label      string     `json:"label" validate:"required"`
	Intensity  string     `json:"intensity" validate:"omitempty,oneof=light moderate heavy"`
	Note       string     `json:"note" validate:"max=500"`
	Supersedes string     `json:"supersedes" validate:"max=64"`
}

func (r eventRequest) toEvent() (models.Event, error) {
	label, err := models.ParseLabel(r.Label)
	if err != nil {
		return models.Event{}, err
	}
	ev := models.Event{
		Label:      label,
		Intensity:  models.Intensity(r.Intensity),
		Note:       r.Note,
		Supersedes: r.Supersedes,
	}
	if r.Timestamp != nil {
		ev.Timestamp = r.Timestamp.UTC()
	}
	return ev, nil
}

// rangeQuery holds the from/to query parameters. Both are optional; an
// omitted bound is open.
type rangeQuery struct {
	From time.Time
	To   time.Time `validate:"omitempty,gtefield=From"`
}

func (q *rangeQuery) bind(c *fiber.Ctx) error {
	if s := c.Query("from"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return err
		}
		q.From = t
	}
	if s := c.Query("to"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return err
		}
		q.To = t
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
