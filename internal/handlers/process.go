package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appcontext "github.com/fartrucking/far-warehousing/pkg/context"
	"github.com/fartrucking/far-warehousing/pkg/health"
	"github.com/fartrucking/far-warehousing/pkg/pipeline"
)

const (
	ProcessedMessage = "Directories processed successfully."
	FailedMessage    = "Error processing directories."
)

// Runner runs one sync pass.
type Runner interface {
	Run(ctx context.Context) (pipeline.Summary, error)
}

// ProcessHandler triggers sync runs over HTTP
type ProcessHandler struct {
	runner  Runner
	health  *health.Checker
	timeout time.Duration
	logger  ectologger.Logger
}

// NewProcessHandler creates a new process handler. A zero timeout leaves the
// run bound only by the request.
func NewProcessHandler(runner Runner, checker *health.Checker, timeout time.Duration, logger ectologger.Logger) *ProcessHandler {
	return &ProcessHandler{
		runner:  runner,
		health:  checker,
		timeout: timeout,
		logger:  logger,
	}
}

// ProcessDirectories runs the pipeline and reports success or failure only.
// POST /processDirectories
func (h *ProcessHandler) ProcessDirectories(c echo.Context) error {
	ctx := appcontext.SetTrigger(c.Request().Context(), "http")
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	summary, err := h.runner.Run(ctx)
	Record(h.health, summary, err)

	if errors.Is(err, pipeline.ErrRunInProgress) {
		return httperror.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Error processing directories")
		return c.String(http.StatusInternalServerError, FailedMessage)
	}
	return c.String(http.StatusOK, ProcessedMessage)
}

// RegisterRoutes registers the trigger route.
func (h *ProcessHandler) RegisterRoutes(e *echo.Echo, middleware ...echo.MiddlewareFunc) {
	e.POST("/processDirectories", h.ProcessDirectories, middleware...)
}

// Record stores a run outcome on the health checker.
func Record(checker *health.Checker, summary pipeline.Summary, err error) {
	if checker == nil {
		return
	}
	report := health.RunReport{
		StartedAt: summary.StartedAt,
		Duration:  summary.Duration.String(),
		Files:     len(summary.Files),
		Failed:    summary.Failed(),
	}
	if err != nil {
		report.Error = err.Error()
	}
	checker.RecordRun(report)
}
