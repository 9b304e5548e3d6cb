package ingress

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/pkg/errors"

	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/persistence"
	"github.com/airenas/vox/internal/pkg/registry"
	"github.com/airenas/vox/internal/pkg/session"
	"github.com/airenas/vox/internal/pkg/utils"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Sessions is the live session registry
type Sessions interface {
	Start(ctx context.Context, req *registry.StartRequest) (string, error)
	Find(id string) (*session.Manager, error)
	FindActiveForDevice(deviceID string) (*session.Manager, bool)
}

// DB loads finished sessions no longer held live
type DB interface {
	LoadSession(ctx context.Context, id string) (*persistence.Session, error)
}

// Data keeps data required for service work
type Data struct {
	Port      int
	Sessions  Sessions
	DB        DB
	WSHandler WSHandler
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP VOX ingress service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 10 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Sessions == nil {
		return fmt.Errorf("no sessions registry")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.WSHandler == nil {
		return fmt.Errorf("no WSHandler")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("vox_ingress", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.POST("/event", eventHandler(data))
	e.GET("/status/:id", statusHandler(data))
	e.GET("/subscribe", subscribeHandler(data))
	e.GET("/live", live(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

type eventInput struct {
	Type           string `json:"type"`
	DeviceID       string `json:"deviceID,omitempty"`
	SessionID      string `json:"sessionID,omitempty"`
	OrganizationID string `json:"organizationID,omitempty"`
	OperatorID     string `json:"operatorID,omitempty"`
	Source         string `json:"source,omitempty"`
}

type result struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

func eventHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("event method")()
		ctx := c.Request().Context()

		var inp eventInput
		if err := c.Bind(&inp); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong input")
		}
		goapp.Log.Info().Str("type", goapp.Sanitize(inp.Type)).Str("device", goapp.Sanitize(inp.DeviceID)).
			Str("session", goapp.Sanitize(inp.SessionID)).Msg("event")

		switch inp.Type {
		case api.EventStart:
			id, err := data.Sessions.Start(ctx, &registry.StartRequest{DeviceID: inp.DeviceID,
				OrganizationID: inp.OrganizationID, OperatorID: inp.OperatorID, Source: inp.Source})
			if err != nil {
				return mapError(err)
			}
			return c.JSON(http.StatusOK, result{ID: id})
		case api.EventPause, api.EventResume, api.EventStop:
			mgr, err := findSession(data, &inp)
			if err != nil {
				if inp.Type == api.EventStop && inp.DeviceID != "" && errors.Is(err, api.ErrUnknownSession) {
					// second button press may land after the session retired
					return c.JSON(http.StatusOK, result{ID: inp.SessionID})
				}
				return mapError(err)
			}
			if err := applyEvent(ctx, mgr, inp.Type); err != nil {
				return mapError(err)
			}
			return c.JSON(http.StatusOK, result{ID: mgr.ID(), Status: mgr.Status().String()})
		}
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown event type '%s'", goapp.Sanitize(inp.Type)))
	}
}

func findSession(data *Data, inp *eventInput) (*session.Manager, error) {
	if inp.SessionID != "" {
		return data.Sessions.Find(inp.SessionID)
	}
	if inp.DeviceID != "" {
		mgr, found := data.Sessions.FindActiveForDevice(inp.DeviceID)
		if !found {
			return nil, api.ErrUnknownSession
		}
		return mgr, nil
	}
	return nil, echo.NewHTTPError(http.StatusBadRequest, "no session or device ID")
}

func applyEvent(ctx context.Context, mgr *session.Manager, event string) error {
	switch event {
	case api.EventPause:
		return mgr.Pause(ctx)
	case api.EventResume:
		return mgr.Resume(ctx)
	case api.EventStop:
		return mgr.Stop(ctx)
	}
	return fmt.Errorf("unknown event '%s'", event)
}

func statusHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("status method")()

		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "No ID")
		}
		mgr, err := data.Sessions.Find(id)
		if err == nil {
			return c.JSON(http.StatusOK, mgr.Info())
		}
		st, err := data.DB.LoadSession(c.Request().Context(), id)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		if st == nil {
			return echo.NewHTTPError(http.StatusNotFound, "No session")
		}
		return c.JSON(http.StatusOK, mapSession(st))
	}
}

func mapSession(st *persistence.Session) *api.SessionInfo {
	res := &api.SessionInfo{ID: st.ID, Status: st.Status, DeviceID: utils.FromSQLStr(st.DeviceID),
		Source: st.Source, SegmentCount: int(st.SegmentCount), Recoverable: len(st.GapSeqs) > 0,
		StartedAt: st.Started.UnixMilli(), Error: utils.FromSQLStr(st.Error),
		ErrorCode: utils.FromSQLStr(st.ErrorCode)}
	if st.Ended.Valid {
		res.EndedAt = st.Ended.Time.UnixMilli()
	}
	return res
}

func mapError(err error) error {
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		return err
	}
	switch {
	case errors.Is(err, api.ErrDeviceBusy):
		return echo.NewHTTPError(http.StatusConflict, "Device busy")
	case errors.Is(err, api.ErrDeviceUnknown):
		return echo.NewHTTPError(http.StatusNotFound, "Unknown device")
	case errors.Is(err, api.ErrUnknownSession):
		return echo.NewHTTPError(http.StatusNotFound, "Unknown session")
	case errors.Is(err, api.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, "Not allowed")
	case errors.Is(err, api.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, "Wrong session state")
	}
	goapp.Log.Error().Err(err).Send()
	return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
}
