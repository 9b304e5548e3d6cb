package result

import (
	"context"
	"io"
	"io/fs"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/handoff"
	"github.com/airenas/vox/internal/pkg/persistence"
	"github.com/airenas/vox/internal/pkg/utils"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// FileReader loads file by name
type FileReader interface {
	LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error)
}

// DB loads finished session data
type DB interface {
	LoadSession(ctx context.Context, id string) (*persistence.Session, error)
	LoadSegments(ctx context.Context, sessionID string) ([]*persistence.Segment, error)
}

// Data keeps data required for service work
type Data struct {
	Port   int
	Reader FileReader
	DB     DB
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Int("port", data.Port).Msg("Starting VOX result service")

	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 5 * time.Minute

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Reader == nil {
		return errors.New("no file reader")
	}
	if data.DB == nil {
		return errors.New("no DB")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("vox_result", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.GET("/transcript/:id", transcript(data))
	e.GET("/snapshot/:id", snapshot(data))
	e.HEAD("/snapshot/:id", snapshot(data))
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

// transcript assembles the persisted transcript of a finished session
func transcript(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("transcript method")()
		ctx := c.Request().Context()

		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "No ID")
		}
		ses, err := data.DB.LoadSession(ctx, id)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		if ses == nil {
			return echo.NewHTTPError(http.StatusNotFound, "No session")
		}
		segments, err := data.DB.LoadSegments(ctx, id)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		return c.JSON(http.StatusOK, mapSnapshot(ses, segments))
	}
}

func mapSnapshot(ses *persistence.Session, segments []*persistence.Segment) *api.Snapshot {
	res := &api.Snapshot{SessionID: ses.ID, DeviceID: utils.FromSQLStr(ses.DeviceID),
		OrganizationID: ses.OrganizationID, OperatorID: ses.OperatorID, Source: ses.Source,
		StartedAt: ses.Started}
	if ses.Ended.Valid {
		res.EndedAt = ses.Ended.Time
	}
	for _, g := range ses.GapSeqs {
		res.GapSeqs = append(res.GapSeqs, int(g))
	}
	for _, s := range segments {
		res.Transcript = append(res.Transcript, api.Segment{Seq: int(s.Seq), Text: s.Text,
			StartMs: s.StartMs, EndMs: s.EndMs, Confidence: s.Confidence.Float64})
	}
	return res
}

// snapshot serves the preserved handoff snapshot file
func snapshot(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("snapshot method")()

		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "No ID")
		}
		return serveFile(c, data, handoff.SnapshotFile(id))
	}
}

func serveFile(c echo.Context, data *Data, name string) error {
	goapp.Log.Info().Str("file", name).Msg("loading")
	file, err := data.Reader.LoadFile(c.Request().Context(), name)
	if err != nil {
		if isNotFound(err) {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		goapp.Log.Error().Err(err).Send()
		return echo.NewHTTPError(http.StatusInternalServerError, "Can't get file")
	}
	defer file.Close()
	stGetter, ok := file.(interface{ Stat() (fs.FileInfo, error) })
	if !ok {
		goapp.Log.Error().Msg(`file does implement "interface{ Stat() (fs.FileInfo, error)"`)
		return echo.NewHTTPError(http.StatusInternalServerError, "Can't get file stat")
	}
	stat, err := stGetter.Stat()
	if err != nil {
		if isNotFound(err) {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		goapp.Log.Error().Err(err).Send()
		return echo.NewHTTPError(http.StatusInternalServerError, "Can't get file stat")
	}

	w := c.Response()
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(stat.Name()))
	http.ServeContent(w, c.Request(), stat.Name(), stat.ModTime(), file)
	return nil
}

func isNotFound(err error) bool {
	var errTest minio.ErrorResponse
	return errors.As(err, &errTest) && errTest.StatusCode == http.StatusNotFound
}
