package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"

	"sensor_report_loader/report"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HandleListSensors handles GET /v1/sensors
func (a *App) HandleListSensors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"selectors": a.reports.Selectors()})
}

// HandleReadings handles GET /v1/sensors/:selector/readings
func (a *App) HandleReadings(c *gin.Context) {
	selector := c.Param("selector")

	readings, err := a.reports.Readings(c.Request.Context(), selector)
	if err != nil {
		a.readingsError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"selector": selector,
		"count":    len(readings),
		"readings": readings,
	})
}

// HandleExport handles GET /v1/sensors/:selector/export and returns the
// readings as an XLSX attachment.
func (a *App) HandleExport(c *gin.Context) {
	selector := c.Param("selector")

	readings, err := a.reports.Readings(c.Request.Context(), selector)
	if err != nil {
		a.readingsError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, readings); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorType: HttpInternalError,
			Message:   "Failed to build workbook",
			Details:   err.Error(),
		})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+report.FileName(selector)+`"`)
	c.Header("X-Readings-Count", strconv.Itoa(len(readings)))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (a *App) readingsError(c *gin.Context, err error) {
	if errors.Is(err, report.ErrUnknownSelector) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorType: HttpUnknownSelector,
			Message:   "Unknown sensor selector",
			Details:   gin.H{"selector": c.Param("selector"), "valid": a.reports.Selectors()},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		ErrorType: HttpInternalError,
		Message:   "Failed to query readings",
		Details:   err.Error(),
	})
}

// HandleFetch handles POST /v1/fetch. The fetch runs in the background;
// with ?ingest=true the staging directory is ingested afterwards.
func (a *App) HandleFetch(c *gin.Context) {
	if a.fetcher == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorType: HttpServiceUnavailable,
			Message:   "Mail fetching is not configured",
		})
		return
	}

	ingest, err := strconv.ParseBool(c.DefaultQuery("ingest", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: HttpInvalidRequestError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	a.startTask(c, "fetch", func(ctx context.Context) (interface{}, error) {
		var result PipelineResult
		fetched, err := a.fetcher.Fetch(ctx)
		result.Fetch = fetched
		if err != nil || !ingest {
			return result, err
		}
		result.Ingest, err = a.scanner.ScanDirectory(ctx, a.stagingDir)
		return result, err
	})
}

// HandleIngest handles POST /v1/ingest
func (a *App) HandleIngest(c *gin.Context) {
	a.startTask(c, "ingest", func(ctx context.Context) (interface{}, error) {
		summary, err := a.scanner.ScanDirectory(ctx, a.stagingDir)
		return PipelineResult{Ingest: summary}, err
	})
}

func (a *App) startTask(c *gin.Context, kind string, fn TaskFunc) {
	task, err := a.tasks.Start(kind, fn)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			c.JSON(http.StatusConflict, ErrorResponse{
				ErrorType: HttpJobConflict,
				Message:   "Another job is still running",
			})
			return
		}
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorType: HttpServiceUnavailable,
			Message:   "Server is shutting down",
			Details:   err.Error(),
		})
		return
	}

	c.Header("Location", "/v1/jobs/"+task.ID)
	c.JSON(http.StatusAccepted, gin.H{"job_id": task.ID, "status": task.Status})
}

// HandleJob handles GET /v1/jobs/:id
func (a *App) HandleJob(c *gin.Context) {
	task, ok := a.tasks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorType: HttpJobNotFound,
			Message:   "Job not found",
			Details:   c.Param("id"),
		})
		return
	}
	c.JSON(http.StatusOK, task)
}
